package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"datafill/internal/database"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	storeBackend string
	dbURI        string
	dbName       string
	collection   string
	sqlitePath   string

	inspectorID    string
	fastTrack      bool
	scannerPort    string
	scannerBaud    int
	serialsFile    string
	reportTemplate string
	reportDir      string
)

var rootCmd = &cobra.Command{
	Use:   "datafill",
	Short: "Operator console for verifying thermometers and alcotests",
	Long: `Datafill walks an operator through verifying instruments one serial
number at a time: three readings per calibration point, an automatic
pass/fail verdict, and one stored session per instrument.

Running it without a command starts the interactive console.`,
	RunE:          runTUI,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&storeBackend, "store", "s", database.BackendMongo, "Session store: mongo, sqlite or memory")
	pf.StringVarP(&dbURI, "db-uri", "u", "mongodb://localhost:27017", "MongoDB connection URI")
	pf.StringVarP(&dbName, "database", "d", "datafill", "MongoDB database name")
	pf.StringVar(&collection, "collection", "sessions", "MongoDB collection name")
	pf.StringVar(&sqlitePath, "sqlite-path", "datafill.db", "SQLite database file")
	pf.StringVar(&serialsFile, "serials-file", "serials.csv", "File that keeps the imported serial list")
	pf.StringVar(&reportTemplate, "template", "", "Protocol template with {{TOKEN}} placeholders (plain-text default if empty)")
	pf.StringVar(&reportDir, "report-dir", "reports", "Directory for protocols and exports")

	rootCmd.Flags().StringVarP(&inspectorID, "inspector", "i", "", "Inspector recorded on every session")
	rootCmd.Flags().BoolVar(&fastTrack, "fast-track", false, "Measure only the fast-track point and derive the rest")
	rootCmd.Flags().StringVar(&scannerPort, "scanner-port", "", "Serial port of a barcode scanner (see 'datafill ports')")
	rootCmd.Flags().IntVar(&scannerBaud, "scanner-baud", 9600, "Barcode scanner baud rate")
}

// initConfig loads .env and lets the environment fill every flag the
// operator did not set explicitly.
func initConfig() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	envString("STORE", "store", &storeBackend)
	envString("DB_URI", "db-uri", &dbURI)
	envString("DB_NAME", "database", &dbName)
	envString("DB_COLLECTION", "collection", &collection)
	envString("SQLITE_PATH", "sqlite-path", &sqlitePath)
	envString("SERIALS_FILE", "serials-file", &serialsFile)
	envString("REPORT_TEMPLATE", "template", &reportTemplate)
	envString("REPORT_DIR", "report-dir", &reportDir)
	envString("INSPECTOR_ID", "inspector", &inspectorID)
	envString("SCANNER_PORT", "scanner-port", &scannerPort)

	if v := os.Getenv("FAST_TRACK"); v != "" && !flagChanged("fast-track") {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Ignoring FAST_TRACK=%q: %v", v, err)
		} else {
			fastTrack = b
		}
	}
	if v := os.Getenv("SCANNER_BAUD"); v != "" && !flagChanged("scanner-baud") {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Ignoring SCANNER_BAUD=%q: %v", v, err)
		} else {
			scannerBaud = n
		}
	}
}

func envString(env, flag string, dst *string) {
	if v := os.Getenv(env); v != "" && !flagChanged(flag) {
		*dst = v
	}
}

func flagChanged(name string) bool {
	if f := rootCmd.PersistentFlags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := rootCmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}

func openStore() (database.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := database.Open(ctx, database.Config{
		Backend:    storeBackend,
		URI:        dbURI,
		Database:   dbName,
		Collection: collection,
		SQLitePath: sqlitePath,
		Logger:     log.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", storeBackend, err)
	}
	return store, nil
}
