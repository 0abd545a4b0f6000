// Command migrate runs schema operations for the storage portal database.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"coldfront/internal/config"
	"coldfront/internal/database"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect migrates on its own outside production; "up" is for production rollouts.
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("migrations applied")
	case "status":
		pending := 0
		for _, model := range database.PersistentModels() {
			stmt := &gorm.Statement{DB: db}
			if err := stmt.Parse(model); err != nil {
				return fmt.Errorf("parse %T: %w", model, err)
			}
			table := stmt.Schema.Table
			if db.Migrator().HasTable(model) {
				log.Printf("present: %s", table)
				continue
			}
			pending++
			log.Printf("missing: %s", table)
		}
		log.Printf("env=%s driver=%s missing=%d", cfg.Env, db.Name(), pending)
	default:
		return usage()
	}
	return nil
}
