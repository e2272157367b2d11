package main

import (
	"log"

	"escrowdesk/config"
	"escrowdesk/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	gormDB, err := db.NewDB(cfg.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	migrator := gormDB.Migrator()
	for _, m := range db.Models() {
		if !migrator.HasTable(m) {
			log.Fatalf("table for %T is missing after migration", m)
		}
	}

	log.Println("migration completed")
}
