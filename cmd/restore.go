package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"datafill/internal/backup"

	"github.com/spf13/cobra"
)

var (
	inputFile        string
	restoreFormat    string
	replaceExisting  bool
	skipConfirmation bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore sessions from a backup",
	Long: `Restore sessions from a BSON or JSON-lines backup file.
Sessions are matched by ID: restored ones replace stored ones with the same
ID and everything else is kept, unless --replace clears the store first.`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input backup file to restore (required)")
	restoreCmd.Flags().StringVarP(&restoreFormat, "format", "f", "", "Backup format: bson or json (auto-detected if not specified)")
	restoreCmd.Flags().BoolVar(&replaceExisting, "replace", false, "Delete every stored session before restoring")
	restoreCmd.Flags().BoolVar(&skipConfirmation, "yes", false, "Skip confirmation prompts")
	restoreCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("backup file does not exist: %s", inputFile)
	}

	format := restoreFormat
	if format == "" {
		format = backup.DetectFormat(inputFile)
	}
	if format != backup.FormatBSON && format != backup.FormatJSON {
		return fmt.Errorf("invalid format: %s. Use 'bson' or 'json'", format)
	}

	if !skipConfirmation {
		log.Printf("About to restore:")
		log.Printf("  Source file: %s", inputFile)
		log.Printf("  Target store: %s", storeBackend)
		log.Printf("  Format: %s", format)
		if replaceExisting {
			log.Printf("  WARNING: Every stored session will be DELETED first!")
		}

		if !confirmAction("Do you want to continue?") {
			log.Println("Restore cancelled")
			return nil
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	svc := backup.NewService(store)
	if err := svc.ValidateBackupFile(inputFile, format); err != nil {
		return fmt.Errorf("backup file validation failed: %w", err)
	}

	log.Printf("Starting restore from %s...", inputFile)
	n, err := svc.Restore(context.Background(), inputFile, format, replaceExisting)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	log.Printf("Restore completed successfully: %d sessions", n)
	return nil
}

func confirmAction(message string) bool {
	fmt.Printf("%s (y/N): ", message)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
