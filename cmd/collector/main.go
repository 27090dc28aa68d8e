package main

import (
	"context"
	"log"
	"os"

	"github.com/absmach/fedround/fedroundd"
	"github.com/joho/godotenv"
)

const (
	pathEnv       = ".env"
	envConfigFile = "FEDROUND_CONFIG_FILE"
)

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg, err := fedroundd.LoadConfig(os.Getenv(envConfigFile))
	if err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fedroundd.Start(ctx, cancel, cfg); err != nil {
		log.Fatalf("failed to start collector: %s", err.Error())
	}
}
