package main

import (
	"flag"
	"fleetprobe/cmd/migration/initialize"
	"fleetprobe/cmd/migration/seed"
	"fleetprobe/config"
	"fleetprobe/internal/logger"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	log := logger.New("migration")

	withSeed := flag.Bool("seed", false, "seed the development fleet after migrating")
	flag.Parse()

	cfg, err := config.InitConfig()
	if err != nil {
		log.Er("failed to load config", err)
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabaseDbPath), &gorm.Config{})
	if err != nil {
		log.Er("failed to open database", err)
		os.Exit(1)
	}

	if err := initialize.InitializeTables(db, cfg, log); err != nil {
		log.Er("migration failed", err)
		os.Exit(1)
	}

	if *withSeed {
		if err := seed.Seed(db, cfg, log); err != nil {
			log.Er("seeding failed", err)
			os.Exit(1)
		}
	}

	log.Info("migration complete")
}
