package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ignite/investor-outreach/internal/repository/postgres"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	if listOnly {
		files, err := postgres.PendingMigrations(dir)
		if err != nil {
			log.Fatal(err)
		}
		for _, f := range files {
			fmt.Println(" ", f)
		}
		fmt.Printf("Total: %d files\n", len(files))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, dsn, postgres.DefaultPoolConfig())
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	results, err := postgres.Migrate(ctx, db, dir)
	var applied, skipped int
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("  %s ... ERROR: %v\n", r.File, r.Err)
		case r.Applied:
			fmt.Printf("  %s ... OK\n", r.File)
			applied++
		default:
			fmt.Printf("  %s ... already applied\n", r.File)
			skipped++
		}
	}
	if err != nil {
		log.Fatalf("Migrations stopped: %v", err)
	}
	log.Printf("Done: %d applied, %d already applied", applied, skipped)
}
