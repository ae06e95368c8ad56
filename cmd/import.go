package cmd

import (
	"fmt"
	"log"

	"datafill/internal/csv"

	"github.com/spf13/cobra"
)

var csvFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a serial-number list",
	Long: `Import the serial numbers due for verification from a CSV file (or a
spreadsheet saved as CSV). The first column is read unless a column is
named "serial". Repeated serials are dropped, ignoring case.

The list is kept in --serials-file and offered by the console's picker.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&csvFile, "csv", "c", "", "CSV file to import (required)")
	importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	serials, err := csv.NewParser(csvFile).ParseSerials()
	if err != nil {
		return fmt.Errorf("failed to parse serial list: %w", err)
	}
	if len(serials) == 0 {
		return fmt.Errorf("no serial numbers found in %s", csvFile)
	}

	if err := csv.WriteSerials(serialsFile, serials); err != nil {
		return err
	}

	log.Printf("Imported %d serial numbers from %s into %s", len(serials), csvFile, serialsFile)
	return nil
}
