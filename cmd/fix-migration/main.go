// Package main clears a dirty migration flag. golang-migrate marks a version
// dirty when a migration starts and only clears it on success, so a crash
// mid-migration leaves the server refusing to start. Inspect the schema, repair
// it by hand if needed, then run this tool to mark the version clean.
//
//	go run ./cmd/fix-migration            # clear the flag on the current version
//	go run ./cmd/fix-migration -version 2 # force a specific version
package main

import (
	"flag"
	"log"
	"os"

	"github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/db"
)

func main() {
	force := flag.Int("version", -1, "version to force; defaults to the current version")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	conn, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	version, dirty, err := db.GetMigrationVersion(conn.DB)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	target := int(version)
	if *force >= 0 {
		target = *force
	} else if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	if err := db.ForceMigrationVersion(conn.DB, target); err != nil {
		log.Fatalf("Failed to fix migration state: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(conn.DB)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
