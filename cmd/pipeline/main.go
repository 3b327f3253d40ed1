// Command pipeline runs the adaptive three-phase email analysis pipeline:
// it loads configuration, wires every component via internal/runtime, and
// serves until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/opsmail/emailpipeline/internal/config"
	"github.com/opsmail/emailpipeline/internal/runtime"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline YAML configuration file")
	envPath := flag.String("env-file", ".env", "path to an optional .env file overlaid onto the environment before config is loaded")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file loaded from %s, continuing with existing environment: %v", envPath, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	rt.Logger.Info("pipeline starting")
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("pipeline exited with error: %w", err)
	}
	rt.Logger.Info("pipeline stopped")
	return nil
}
