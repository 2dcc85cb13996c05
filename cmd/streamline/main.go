// Command streamline runs the ingestion-and-delivery engine: the fetch
// and drain loops (services/ingest-engine/internal/orchestrator) plus an
// admin HTTP surface exposing health, readiness, Prometheus metrics, and
// error-handler state.
//
// The server lifecycle (gorilla/mux router, signal-driven graceful
// shutdown) is grounded on services/control-plane/registry/main.go's
// router setup and services/connector-hub/cmd/connector-hub/main.go's
// shutdown sequence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pkgerrors "github.com/Ap3pp3rs94/streamline/pkg/errors"
	"github.com/Ap3pp3rs94/streamline/pkg/errorhandler"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/pqueue"
	"github.com/Ap3pp3rs94/streamline/pkg/ratelimit"
	"github.com/Ap3pp3rs94/streamline/pkg/telemetry"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/engineconfig"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/orchestrator"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/source"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/webhook"
)

const serviceName = "streamline"

func main() {
	root := getenv("STREAMLINE_CONFIG_ROOT", ".")
	env := getenv("STREAMLINE_ENV", "")
	tenant := getenv("STREAMLINE_TENANT", "")

	logger := telemetry.NewDefaultLogger(os.Stdout, serviceName)
	ctx := context.Background()

	cfg, err := engineconfig.Load(ctx, root, env, tenant)
	if err != nil {
		logger.Error(ctx, "config_load_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	meter := telemetry.NewPromMeter(reg)

	errHandler := errorhandler.New(errorhandler.Options{Logger: logger, Meter: meter})
	errHandler.Configure(source.ServiceName, errorhandler.ServiceConfig{
		FailureThreshold:     cfg.Source.Retry.FailureThreshold,
		ResetTimeout:         cfg.Source.Retry.ResetTimeout(),
		MaxRetriesByCategory: engineconfig.MaxRetriesByCategory(cfg.Source.Retry),
	})
	errHandler.Configure(webhook.ServiceName, errorhandler.ServiceConfig{
		FailureThreshold:     cfg.Webhook.Retry.FailureThreshold,
		ResetTimeout:         cfg.Webhook.Retry.ResetTimeout(),
		MaxRetriesByCategory: engineconfig.MaxRetriesByCategory(cfg.Webhook.Retry),
	})

	srcLimiter := ratelimit.New(ratelimit.Config{RatePerSecond: cfg.Source.RatePerSecond, Burst: cfg.Source.Burst})
	srcClient, err := source.New(source.Config{
		BaseURL:       cfg.Source.BaseURL,
		Token:         cfg.Source.Token,
		RatePerSecond: cfg.Source.RatePerSecond,
		Burst:         cfg.Source.Burst,
		Limiter:       srcLimiter,
		ErrorHandler:  errHandler,
		Logger:        logger,
		Meter:         meter,
	})
	if err != nil {
		logger.Error(ctx, "source_client_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	whLimiter := ratelimit.New(ratelimit.Config{RatePerSecond: cfg.Webhook.RatePerSecond, Burst: cfg.Webhook.Burst})
	deliverer := webhook.New(webhook.Config{
		URL:               cfg.Webhook.URL,
		AuthToken:         cfg.Webhook.AuthToken,
		SigningSecret:     cfg.Webhook.SigningSecret,
		RatePerSecond:     cfg.Webhook.RatePerSecond,
		Burst:             cfg.Webhook.Burst,
		MaxRetries:        cfg.Webhook.MaxRetries,
		InitialRetryDelay: time.Duration(cfg.Webhook.InitialRetryMS) * time.Millisecond,
		MaxRetryDelay:     time.Duration(cfg.Webhook.MaxRetryMS) * time.Millisecond,
		BackoffFactor:     cfg.Webhook.BackoffFactor,
		BatchSize:         cfg.Webhook.BatchSize,
		Timeout:           time.Duration(cfg.Webhook.TimeoutMS) * time.Millisecond,
		Limiter:           whLimiter,
		ErrorHandler:      errHandler,
		Logger:            logger,
		Meter:             meter,
	})

	queue := pqueue.New(pqueue.Config{
		Capacity:    cfg.Queue.Capacity,
		DedupWindow: time.Duration(cfg.Queue.DedupWindowSec) * time.Second,
	})

	orch := orchestrator.New(orchestrator.Config{
		FetchInterval:    time.Duration(cfg.Orchestrator.FetchIntervalSec) * time.Second,
		BatchSize:        cfg.Orchestrator.BatchSize,
		MaxRetriesGlobal: cfg.Orchestrator.MaxRetriesGlobal,
		BreakingTags:     cfg.BreakingTagSet(),
		EmptyBackoffMin:  time.Duration(cfg.Orchestrator.EmptyBackoffMinMS) * time.Millisecond,
		EmptyBackoffMax:  time.Duration(cfg.Orchestrator.EmptyBackoffMaxMS) * time.Millisecond,
		Source:           srcClient,
		Queue:            queue,
		Deliverer:        deliverer,
		Logger:           logger,
		Meter:            meter,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(runCtx)
	}()

	srv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      adminRouter(logger, reg, errHandler, orch, queue),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "admin_server_start", map[string]any{"addr": cfg.Admin.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "admin_server_error", map[string]any{"error": err.Error()})
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info(ctx, "shutdown_start", nil)
	cancelRun()
	<-runDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Admin.ShutdownTimeoutS)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "admin_shutdown_error", map[string]any{"error": err.Error()})
		_ = srv.Close()
	}
	logger.Info(ctx, "shutdown_complete", nil)
}

// adminRouter builds the admin HTTP surface: health, readiness, Prometheus
// metrics exposition, and an error-handler debug endpoint.
func adminRouter(
	logger *telemetry.Logger,
	reg *prometheus.Registry,
	errHandler *errorhandler.Handler,
	orch *orchestrator.Orchestrator,
	queue *pqueue.Queue,
) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		snap, err := telemetry.NewHealthSnapshot(serviceName, "", "", nil, time.Time{})
		if err != nil {
			writeEnvelope(w, pkgerrors.NewEnvelope(pkgerrors.Internal, err.Error(), "", "", nil))
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}).Methods(http.MethodGet)

	r.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		stats := orch.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ready",
			"queue_size":  queue.Size(),
			"stats":       stats,
			"queue_sizes": perPriority(queue),
		})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/debug/errors", func(w http.ResponseWriter, req *http.Request) {
		snap := errHandler.Snapshot()
		writeJSON(w, http.StatusOK, snap)
	}).Methods(http.MethodGet)

	return r
}

func perPriority(q *pqueue.Queue) map[string]int {
	return map[string]int{
		"high":   q.SizeByPriority(model.PriorityHigh),
		"normal": q.SizeByPriority(model.PriorityNormal),
		"low":    q.SizeByPriority(model.PriorityLow),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, env pkgerrors.ErrorEnvelope) {
	pkgerrors.WriteHTTP(w, pkgerrors.HTTPStatusFor(env.Error.Code), env)
}

func getenv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}
