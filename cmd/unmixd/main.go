package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"unmix/internal/config"
	"unmix/internal/daemonrun"
)

func main() {
	// Populate process env from .env before the config overlay reads it.
	_ = godotenv.Load()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
