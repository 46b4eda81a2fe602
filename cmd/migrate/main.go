package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"corpchat/config"
	"corpchat/internal/repository"
	"corpchat/pkg/database"
	"corpchat/pkg/logger"

	"gorm.io/gorm"
)

const usage = `
corpchat - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create or update every table
  status      Show connection status and row counts
  seed        Create the groups listed in SEED_GROUPS (or -groups)
  reset       Drop all tables and recreate them (DANGEROUS)

Flags:
  -groups string   Groups to seed as "id:member1,member2;id2:..." (overrides SEED_GROUPS)
  -yes             Skip the reset countdown

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate -groups "eng:alice,bob" seed
  go run ./cmd/migrate -yes reset
`

func main() {
	groups := flag.String("groups", "", "groups to seed, overrides SEED_GROUPS")
	yes := flag.Bool("yes", false, "skip the reset countdown")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	if *groups != "" {
		cfg.SeedGroups = *groups
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer database.Close(db)

	switch command := flag.Arg(0); command {
	case "up":
		runMigrationsUp(db)
	case "status":
		showStatus(db)
	case "seed":
		runSeed(db, cfg)
	case "reset":
		runReset(db, *yes)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(db *gorm.DB) {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus(db *gorm.DB) {
	log.Println("🔍 Checking database status...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.Ping(ctx, db); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables, err := database.Status(db)
	if err != nil {
		log.Fatalf("❌ Status failed: %v", err)
	}
	for _, t := range tables {
		if t.Exists {
			log.Printf("✅ Table %-20s exists (%d rows)", t.Name, t.Rows)
		} else {
			log.Printf("❌ Table %-20s does not exist", t.Name)
		}
	}
}

func runSeed(db *gorm.DB, cfg *config.Config) {
	log.Println("🌱 Seeding groups...")

	roster, err := cfg.Groups()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if len(roster) == 0 {
		log.Println("Nothing to seed: SEED_GROUPS is empty")
		return
	}
	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	res, err := database.SeedGroups(context.Background(), repository.NewGormGateway(db), roster, logger.New(logger.DevelopmentMode).Logger)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Created: %v", res.Created)
	log.Printf("   - Updated: %v", res.Updated)
	log.Println("✅ Seeding completed!")
}

func runReset(db *gorm.DB, yes bool) {
	log.Println("⚠️  WARNING: This will DROP all tables and recreate them!")
	if !yes {
		log.Println("⚠️  Press Ctrl+C within 5 seconds to cancel...")
		fmt.Print("Proceeding in: ")
		for i := 5; i > 0; i-- {
			fmt.Printf("%d... ", i)
			time.Sleep(time.Second)
		}
		fmt.Println()
	}

	if err := database.Reset(db, logger.New(logger.DevelopmentMode).Logger); err != nil {
		log.Fatalf("❌ Reset failed: %v", err)
	}

	log.Println("✅ Database reset completed!")
}
