package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"loanflow/agentstate"
	"loanflow/application"
	"loanflow/audit"
	"loanflow/auth"
	"loanflow/config"
	"loanflow/db"
	"loanflow/explain"
	"loanflow/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, "migrations"); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	audits := audit.NewRepository(pool)
	tracker := agentstate.NewTracker(pool, agentstate.NewRepository(pool), audits)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	generator := explain.NewGenerator(explain.NewHTTPGenerator(cfg.TextGenURL, cfg.TextGenKey))

	// Workers call back into the application service to finalize decisions,
	// so the orchestrator gets a dispatch-less instance; the submission-facing
	// instance feeds the queue.
	appRepo := application.NewRepository(pool)
	decisions := application.NewService(pool, appRepo, audits, nil)
	orchestrator := pipeline.NewOrchestrator(decisions, tracker, generator)
	queue := pipeline.NewQueue(orchestrator, cfg.QueueSize)
	submissions := application.NewService(pool, appRepo, audits, queue)

	log.Printf("loanflow api ready: auth=%t submissions=%t workers=%d",
		authService != nil, submissions != nil, cfg.Workers)
	if err := queue.Start(ctx, cfg.Workers); err != nil {
		log.Fatalf("pipeline workers: %v", err)
	}
}
