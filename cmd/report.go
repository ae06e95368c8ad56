package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"datafill/internal/csv"
	"datafill/internal/report"

	"github.com/spf13/cobra"
)

var exportFile string

var reportCmd = &cobra.Command{
	Use:   "report <serial>",
	Short: "Write the verification protocol of one instrument",
	Long: `Fill a protocol template with the saved session of one instrument.
Placeholders such as {{СЕРИЙНЫЙ_НОМЕР}} or {{ТОЧКА_1_СРЕДНЕЕ}} are replaced;
without --template a plain-text protocol is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export saved sessions to CSV, one row per point",
	RunE:  runExport,
}

func init() {
	addDeviceFlags(reportCmd)
	exportCmd.Flags().StringVarP(&exportFile, "output", "o", "", "Output CSV file (default: sessions_<timestamp>.csv in --report-dir)")
	rootCmd.AddCommand(reportCmd, exportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	key, err := deviceKey(args[0])
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := findSession(context.Background(), store, key)
	if err != nil {
		return err
	}

	path, err := report.WriteFile(reportDir, reportTemplate, s, time.Local)
	if err != nil {
		return err
	}
	log.Printf("Protocol for %s written to %s", key, path)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	path := exportFile
	if path == "" {
		path = filepath.Join(reportDir, "sessions_"+time.Now().Format("20060102_150405")+".csv")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	n, err := csv.ExportSessions(f, sessions)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	log.Printf("Exported %d rows from %d sessions to %s", n, len(sessions), path)
	return nil
}
