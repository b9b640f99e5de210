package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"feedbackd/internal/api"
	"feedbackd/internal/cache"
	"feedbackd/internal/config"
	"feedbackd/internal/cost"
	"feedbackd/internal/llm"
	"feedbackd/internal/notify"
	"feedbackd/internal/scheduler"
	"feedbackd/internal/store"
	"feedbackd/internal/summary"
	"feedbackd/internal/topics"
)

func main() {
	cfg := config.LoadConfig()

	db, err := store.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	ledger := cost.NewLedger(db, cost.Pricing{InPer1K: cfg.PriceInPer1K, OutPer1K: cfg.PriceOutPer1K})
	client := llm.NewClient(cfg.AnthropicAPIKey, llm.Options{
		Model:           cfg.LLMModel,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		MaxRetries:      cfg.MaxRetries,
		CallTimeout:     time.Duration(cfg.CallTimeoutSecs) * time.Second,
		CacheTTL:        time.Duration(cfg.CacheTTLHours) * time.Hour,
	}, cache.NewMemory(), ledger)

	resolver := topics.NewResolver(db, client, cfg.SimilarityThreshold)
	aggregator := summary.NewAggregator(db, client)

	sched := scheduler.New(db, client, resolver, aggregator, scheduler.Config{
		Workers:              cfg.WorkerCount,
		SweepBatchSize:       cfg.SweepBatchSize,
		SweepSchedule:        cfg.SweepSchedule,
		DailySummarySchedule: cfg.DailySummarySchedule,
		SummarizeTopicsDaily: cfg.SummarizeTopicsDaily,
	})
	if cfg.SlackConfigured() {
		sched.WithNotifier(notify.New(cfg.SlackBotToken, cfg.OpsChannelID, ledger))
		log.Printf("Slack notifications enabled channel=%s", cfg.OpsChannelID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(db, ledger, sched).Routes(),
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
	}()

	log.Printf("Starting feedbackd on %s (db=%s model=%s)", cfg.HTTPAddr, cfg.DBPath, cfg.LLMModel)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}

	if err := <-schedDone; err != nil {
		log.Fatalf("Scheduler error: %v", err)
	}
	log.Println("Shutdown complete")
}
