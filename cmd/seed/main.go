package main

import (
	"flag"
	"log"
	"os"

	"escrowdesk/config"
	"escrowdesk/internal/db"
)

func main() {
	username := flag.String("username", os.Getenv("ADMIN_USERNAME"), "имя администратора")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "пароль администратора")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	gormDB, err := db.NewDB(cfg.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	admin, err := db.SeedAdmin(gormDB, *username, *password)
	if err != nil {
		log.Fatalf("seed admin failed: %v", err)
	}

	log.Printf("admin %s seeded (id %s)", admin.Username, admin.ID)
}
