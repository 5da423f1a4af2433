package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"invoicepipe/cmd"
	"invoicepipe/internal/config"
	"invoicepipe/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Commands that need the pipeline report config errors themselves;
	// here it only decides how to log.
	cfg, err := config.Load()
	if err != nil {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting invoicepipe")

	cmd.Execute()

	log.Debug().Msg("invoicepipe shutdown")
	os.Exit(0)
}
