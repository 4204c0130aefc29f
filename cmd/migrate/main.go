package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mantonx/streamforge/internal/config"
	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/logger"
)

// Standalone schema migration, for deployments that run migrations as
// a release step instead of at server boot. -reset drops every table
// first and destroys all data.
func main() {
	reset := flag.Bool("reset", false, "drop all tables before migrating (destroys all data)")
	flag.Parse()

	log := logger.New("streamforge-migrate")
	cfg := config.Load()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	if *reset {
		fmt.Println("WARNING: -reset drops all tables. Press Enter to continue or Ctrl+C to cancel...")
		fmt.Scanln()
		if err := database.Reset(db); err != nil {
			log.Error("reset failed", "error", err)
			os.Exit(1)
		}
		log.Info("schema reset complete")
		return
	}

	// Open already migrated; run once more explicitly so the command
	// fails loudly if the schema cannot be brought current.
	if err := database.Migrate(db); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("schema is current")
}
