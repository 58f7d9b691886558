// Command seed-admin provisions or rotates the control plane's single
// operator account (spec §6: all endpoints except /api/auth/login require a
// bearer token, and that token is issued against exactly one admin record).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/linetally/peoplecount/internal/auth"
	"github.com/linetally/peoplecount/internal/config"
	"github.com/linetally/peoplecount/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config/default.yaml")
	username := flag.String("username", "admin", "admin username")
	password := flag.String("password", "", "admin password (required)")
	adminID := flag.String("id", "00000000-0000-0000-0000-000000000001", "admin row id")
	flag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "seed-admin: -password is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("seed-admin: load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatalf("seed-admin: open db: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("seed-admin: ping db: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("seed-admin: hash password: %v", err)
	}

	admins := store.NewAdminStore(db)
	if err := admins.Upsert(context.Background(), *adminID, *username, hash); err != nil {
		log.Fatalf("seed-admin: upsert admin: %v", err)
	}

	fmt.Printf("seeded admin %q (id %s)\n", *username, *adminID)
}
