package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tjfontaine/televisit/internal/config"
	"github.com/tjfontaine/televisit/internal/telemetry"
	"github.com/tjfontaine/televisit/pkg/televisit"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent config file")
	appointmentID := flag.String("appointment", "", "appointment to join (overrides session.appointment_id)")
	role := flag.String("role", "", "participant role: patient or provider")
	name := flag.String("name", "", "display name shown to the other participant")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Telemetry and log format are read once; they are not hot-reloadable.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := new(slog.LevelVar)
	level.Set(televisit.ParseLevel(cfg.Log.Level))
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, telemetry.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	agent, err := televisit.New(
		televisit.WithLogger(logger),
		televisit.WithLevelVar(level),
		televisit.WithFileConfig(*configPath),
		televisit.WithSession(*appointmentID, televisit.ParticipantRole(*role), *name),
	)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := agent.Start(ctx); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	logger.Info("agent started",
		slog.String("addr", agent.Addr()),
		slog.String("config", *configPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, ending session...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := agent.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("agent shutdown complete")
}
