package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/services"
)

// cli holds the services shared by every subcommand
type cli struct {
	db          *gorm.DB
	sqlitePath  string
	databaseURL string
	logLevel    string

	incidents   *services.IncidentService
	engine      *merging.Engine
	suggestions *merging.SuggestionService
}

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A non-nil db skips the connection flags.
func newRootCmd(db *gorm.DB) *cobra.Command {
	c := &cli{db: db}

	root := &cobra.Command{
		Use:   "mergectl",
		Short: "Review merge suggestions and merge duplicate incidents",
		Long: `mergectl works directly against the civicwatch database.

Use it to work through the merge suggestion queue from a terminal, to merge
duplicates by hand, and to inspect merge lineage on an incident.

Examples:
  # Pending suggestions, newest first
  mergectl suggestions list --sqlite ./civicwatch.db

  # Approve one and run the merge
  mergectl suggestions approve 0b6c... --reviewer dispatcher-7

  # Fold two reports into INC-000042's incident
  mergectl merge <primary-id> <duplicate-id> <duplicate-id> --by dispatcher-7`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup("production", c.logLevel)
			return c.connect()
		},
	}

	root.PersistentFlags().StringVar(&c.sqlitePath, "sqlite", os.Getenv("SQLITE_PATH"), "Path to a SQLite database (overrides --database-url)")
	root.PersistentFlags().StringVar(&c.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newSuggestionsCmd(c))
	root.AddCommand(newMergeCmd(c))
	root.AddCommand(newIncidentCmd(c))
	return root
}

// connect opens the database once and builds the services. Detection is not
// wired here: the CLI only reviews and merges.
func (c *cli) connect() error {
	if c.incidents != nil {
		return nil
	}
	if c.db == nil {
		switch {
		case c.sqlitePath != "":
			if err := database.OpenSQLite(c.sqlitePath, logger.Silent); err != nil {
				return err
			}
		case c.databaseURL != "":
			if err := database.Connect(c.databaseURL, logger.Silent); err != nil {
				return err
			}
		default:
			return fmt.Errorf("no database configured: pass --sqlite or --database-url")
		}
		c.db = database.GetDB()
	}

	c.incidents = services.NewIncidentService(c.db)
	c.engine = merging.NewEngine(c.db)
	c.suggestions = merging.NewSuggestionService(c.db, c.engine, nil)
	return nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
