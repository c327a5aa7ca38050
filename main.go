package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/username/finflow/src/budget"
	"github.com/username/finflow/src/clock"
	"github.com/username/finflow/src/config"
	"github.com/username/finflow/src/database"
	"github.com/username/finflow/src/engine"
	"github.com/username/finflow/src/logger"
	"github.com/username/finflow/src/metrics"
	"github.com/username/finflow/src/scheduler"
	"github.com/username/finflow/src/services"
	"github.com/username/finflow/src/store"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Finflow engine starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services...")
	ledgerStore := store.New(database.DB)
	sender := services.NewNotificationSender()
	systemClock := clock.System{}

	processor := engine.NewProcessor(ledgerStore, systemClock)
	dispatcher := engine.NewDispatcher(
		processor,
		config.Cfg.DispatchWorkers,
		config.Cfg.DispatchBuffer,
		config.Cfg.OwnerRateLimitCount,
		config.Cfg.OwnerRateLimitWindow,
	)
	sweeper := engine.NewSweeper(ledgerStore, dispatcher, systemClock)
	evaluator := budget.NewEvaluator(ledgerStore, sender, systemClock)

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	dispatcher.Start(engineCtx)

	sched := scheduler.New(
		&scheduler.Task{
			Name:     "recurring-sweep",
			Interval: config.Cfg.SweepInterval,
			Run:      sweeper.Sweep,
			Skipped:  func() { metrics.Engine.SweepsSkipped.Add(1) },
		},
		&scheduler.Task{
			Name:     "budget-evaluation",
			Interval: config.Cfg.BudgetEvalInterval,
			Run:      evaluator.EvaluateAll,
		},
	)
	sched.Start()
	logger.L.Info("Scheduler started",
		"sweepInterval", config.Cfg.SweepInterval.String(),
		"budgetEvalInterval", config.Cfg.BudgetEvalInterval.String())

	logger.L.Info("Configuring ops routes...")
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	rootMux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metrics.Snapshot())
	})
	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Finflow engine is running"})
			return
		}
		logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      rateLimitMiddleware(rootMux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.L.Info("Ops server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Error("Failed to start ops server", "error", err)
			stdlog.Fatalf("Failed to start ops server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.L.Info("Shutdown signal received", "signal", sig.String())

	sched.Stop()
	cancelEngine()
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Ops server shutdown failed", "error", err)
	}
	logger.L.Info("Finflow engine stopped gracefully.")
}
