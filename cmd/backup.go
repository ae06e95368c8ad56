package cmd

import (
	"context"
	"fmt"
	"log"

	"datafill/internal/backup"

	"github.com/spf13/cobra"
)

var (
	outputDir    string
	backupFormat string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup saved sessions",
	Long:  "Backup every saved session to a BSON or JSON-lines file",
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&outputDir, "output", "o", "./backups", "Output directory for backup files")
	backupCmd.Flags().StringVarP(&backupFormat, "format", "f", "bson", "Backup format: bson or json")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	if backupFormat != backup.FormatBSON && backupFormat != backup.FormatJSON {
		return fmt.Errorf("invalid format: %s. Use 'bson' or 'json'", backupFormat)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	log.Printf("Starting backup of %s store to %s format...", storeBackend, backupFormat)
	path, n, err := backup.NewService(store).Backup(context.Background(), outputDir, backupFormat)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	log.Printf("Backup completed successfully: %d sessions in %s", n, path)
	return nil
}
