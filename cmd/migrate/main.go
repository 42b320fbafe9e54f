package main

import (
	"flag"
	"log"

	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/database"
)

func main() {
	seed := flag.Bool("seed", true, "insert sample users and events into an empty database")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Seed sample data
	if *seed {
		if err := database.SeedData(db, auth.HashPassword); err != nil {
			log.Fatal("Failed to seed data:", err)
		}
	}

	log.Println("Database migration and seeding completed successfully")
}
