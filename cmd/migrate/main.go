package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"

	"goldmap-platform/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Connect to database
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connected to database successfully")

	// Read migration file
	var migrationFile string
	if *direction == "up" {
		// The schema needs CREATE EXTENSION postgis; check the server
		// package is installed before running half a migration.
		var available int
		err := db.QueryRow("SELECT COUNT(*) FROM pg_available_extensions WHERE name = 'postgis'").Scan(&available)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to check for PostGIS: %v\n", err)
			os.Exit(1)
		}
		if available == 0 {
			fmt.Fprintln(os.Stderr, "PostGIS is not installed on this server; install the postgis package before migrating")
			os.Exit(1)
		}
		migrationFile = "migrations/001_create_schema.up.sql"
	} else {
		migrationFile = "migrations/001_create_schema.down.sql"
	}

	migrationPath := filepath.Join(".", migrationFile)
	content, err := os.ReadFile(migrationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration: %s\n", migrationFile)

	// Execute migration
	_, err = db.Exec(string(content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	if *direction == "up" {
		var postgisVersion string
		if err := db.QueryRow("SELECT PostGIS_Lib_Version()").Scan(&postgisVersion); err == nil {
			fmt.Printf("PostGIS version: %s\n", postgisVersion)
		}
	}

	fmt.Println("Migration completed successfully")
}
