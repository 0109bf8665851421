package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/questline/messagehub/internal/engine"
	"github.com/questline/messagehub/pkg/config"
	"github.com/questline/messagehub/pkg/health"
	"github.com/questline/messagehub/pkg/logger"
)

var (
	envFile        = flag.String("env", "", "Optional .env file to load before reading configuration")
	healthInterval = flag.Duration("health-interval", 30*time.Second, "Interval between backing-store health checks")
	serviceVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			// Not fatal: configuration may come from the environment directly
			os.Stderr.WriteString("warning: could not load " + *envFile + "\n")
		}
	}

	log := logger.New("messagehub", serviceVersion)
	cfg := config.FromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.NewEngine(cfg, log)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Stop()

	ticker := time.NewTicker(*healthInterval)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if status := eng.CheckHealth(ctx); status != health.StatusHealthy {
				log.Warnf("Health degraded: %s", status)
			}
		case sig := <-stop:
			log.Infof("Received %s, shutting down", sig)
			return
		}
	}
}
