package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"datafill/internal/csv"
	"datafill/internal/scanner"
	"datafill/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var logFile string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the operator console (same as default)",
	Long: `Start the Terminal User Interface for verifying instruments,
importing serial lists, browsing saved sessions and backing them up.

Note: This is the same as running the program without any commands.`,
	RunE: runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "datafill.log", "Where the console writes its log")
	tuiCmd.Flags().AddFlagSet(rootCmd.Flags())
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	f, err := tea.LogToFile(logFile, "datafill")
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	imported, err := csv.NewParser(serialsFile).ParseSerials()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Could not load imported serials from %s: %v", serialsFile, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sc *scanner.Scanner
	if scannerPort != "" {
		sc, err = scanner.Open(scannerPort, scannerBaud, log.Default())
		if err != nil {
			return err
		}
		go func() {
			if err := sc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Scanner stopped: %v", err)
			}
		}()
		log.Printf("Listening for scans on %s at %d baud", scannerPort, scannerBaud)
	}

	model := tui.NewModel(tui.Options{
		Store:           store,
		InspectorID:     inspectorID,
		FastTrack:       fastTrack,
		ImportedSerials: imported,
		SerialsFile:     serialsFile,
		Scanner:         sc,
		ReportTemplate:  reportTemplate,
		OutputDir:       reportDir,
		BackupDir:       "backups",
		Logger:          log.Default(),
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
