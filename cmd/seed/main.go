// Command seed fills the database with development data. By default it
// inserts the fixed demo catalog; pass -random N for N fake users with
// random listings.
package main

import (
	"flag"
	"log"

	"plistings/internal/config"
	"plistings/internal/database"
	"plistings/internal/middleware"
	"plistings/internal/seed"
)

func main() {
	random := flag.Int("random", 0, "number of random fake users to create")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	middleware.InitMiddleware(cfg)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *random > 0 {
		if err := seed.Random(db, *random); err != nil {
			log.Fatalf("Random seed failed: %v", err)
		}
		return
	}

	if err := seed.Demo(db); err != nil {
		log.Fatalf("Demo seed failed: %v", err)
	}
}
