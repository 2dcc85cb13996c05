// Package engineconfig loads the ingestion engine's runtime configuration
// through the teacher's layered pkg/config.Loader (base -> env -> tenant ->
// env-var overrides), then decodes the merged document into a typed
// EngineConfig instead of leaving callers to read a loose map[string]any.
package engineconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/config"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

// RetryPolicy mirrors errorhandler.ServiceConfig's fields, kept as its own
// type here so the config file format doesn't depend on the errorhandler
// package and can be decoded with plain encoding/json tags.
type RetryPolicy struct {
	FailureThreshold int            `json:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeoutMS   int            `json:"reset_timeout_ms" yaml:"reset_timeout_ms"`
	MaxRetries       map[string]int `json:"max_retries" yaml:"max_retries"`
}

// ResetTimeout returns the configured reset timeout as a time.Duration.
func (p RetryPolicy) ResetTimeout() time.Duration {
	return time.Duration(p.ResetTimeoutMS) * time.Millisecond
}

// SourceConfig configures the Source Client.
type SourceConfig struct {
	BaseURL       string      `json:"base_url" yaml:"base_url"`
	Token         string      `json:"token" yaml:"token"`
	RatePerSecond float64     `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int         `json:"burst" yaml:"burst"`
	Retry         RetryPolicy `json:"retry" yaml:"retry"`
}

// WebhookConfig configures the Webhook Deliverer.
type WebhookConfig struct {
	URL            string      `json:"url" yaml:"url"`
	AuthToken      string      `json:"auth_token" yaml:"auth_token"`
	SigningSecret  string      `json:"signing_secret" yaml:"signing_secret"`
	RatePerSecond  float64     `json:"rate_per_second" yaml:"rate_per_second"`
	Burst          int         `json:"burst" yaml:"burst"`
	MaxRetries     int         `json:"max_retries" yaml:"max_retries"`
	InitialRetryMS int         `json:"initial_retry_ms" yaml:"initial_retry_ms"`
	MaxRetryMS     int         `json:"max_retry_ms" yaml:"max_retry_ms"`
	BackoffFactor  float64     `json:"backoff_factor" yaml:"backoff_factor"`
	BatchSize      int         `json:"batch_size" yaml:"batch_size"`
	TimeoutMS      int         `json:"timeout_ms" yaml:"timeout_ms"`
	Retry          RetryPolicy `json:"retry" yaml:"retry"`
}

// QueueConfig configures the Priority Queue.
type QueueConfig struct {
	Capacity       int `json:"capacity" yaml:"capacity"`
	DedupWindowSec int `json:"dedup_window_sec" yaml:"dedup_window_sec"`
}

// OrchestratorConfig configures the fetch/drain loops.
type OrchestratorConfig struct {
	FetchIntervalSec   int      `json:"fetch_interval_sec" yaml:"fetch_interval_sec"`
	BatchSize          int      `json:"batch_size" yaml:"batch_size"`
	MaxRetriesGlobal   int      `json:"max_retries_global" yaml:"max_retries_global"`
	BreakingTags       []string `json:"breaking_tags" yaml:"breaking_tags"`
	EmptyBackoffMinMS  int      `json:"empty_backoff_min_ms" yaml:"empty_backoff_min_ms"`
	EmptyBackoffMaxMS  int      `json:"empty_backoff_max_ms" yaml:"empty_backoff_max_ms"`
}

// AdminConfig configures the admin HTTP surface.
type AdminConfig struct {
	Addr            string `json:"addr" yaml:"addr"`
	ShutdownTimeoutS int    `json:"shutdown_timeout_s" yaml:"shutdown_timeout_s"`
}

// EngineConfig is the ingestion engine's full runtime configuration, decoded
// from a pkg/config.Bundle's merged layers.
type EngineConfig struct {
	Source       SourceConfig       `json:"source" yaml:"source"`
	Webhook      WebhookConfig      `json:"webhook" yaml:"webhook"`
	Queue        QueueConfig        `json:"queue" yaml:"queue"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Admin        AdminConfig        `json:"admin" yaml:"admin"`
}

// BreakingTagSet returns the configured breaking-tag list as a lookup set,
// the shape pkg/classify.Classify expects.
func (c EngineConfig) BreakingTagSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Orchestrator.BreakingTags))
	for _, t := range c.Orchestrator.BreakingTags {
		out[t] = struct{}{}
	}
	return out
}

func withDefaults(c EngineConfig) EngineConfig {
	if c.Source.RatePerSecond <= 0 {
		c.Source.RatePerSecond = 5
	}
	if c.Source.Burst <= 0 {
		c.Source.Burst = 1
	}
	if c.Webhook.RatePerSecond <= 0 {
		c.Webhook.RatePerSecond = 10
	}
	if c.Webhook.Burst <= 0 {
		c.Webhook.Burst = 5
	}
	if c.Webhook.MaxRetries <= 0 {
		c.Webhook.MaxRetries = 3
	}
	if c.Webhook.InitialRetryMS <= 0 {
		c.Webhook.InitialRetryMS = 1000
	}
	if c.Webhook.MaxRetryMS <= 0 {
		c.Webhook.MaxRetryMS = 8000
	}
	if c.Webhook.BackoffFactor <= 0 {
		c.Webhook.BackoffFactor = 2
	}
	if c.Webhook.BatchSize <= 0 {
		c.Webhook.BatchSize = 50
	}
	if c.Webhook.TimeoutMS <= 0 {
		c.Webhook.TimeoutMS = 10000
	}
	if c.Webhook.Retry.FailureThreshold <= 0 {
		c.Webhook.Retry.FailureThreshold = 5
	}
	if c.Webhook.Retry.ResetTimeoutMS <= 0 {
		c.Webhook.Retry.ResetTimeoutMS = 30000
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 10000
	}
	if c.Queue.DedupWindowSec <= 0 {
		c.Queue.DedupWindowSec = 3600
	}
	if c.Orchestrator.FetchIntervalSec <= 0 {
		c.Orchestrator.FetchIntervalSec = 60
	}
	if c.Orchestrator.BatchSize <= 0 {
		c.Orchestrator.BatchSize = 50
	}
	if c.Orchestrator.EmptyBackoffMinMS <= 0 {
		c.Orchestrator.EmptyBackoffMinMS = 200
	}
	if c.Orchestrator.EmptyBackoffMaxMS <= 0 {
		c.Orchestrator.EmptyBackoffMaxMS = 5000
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8090"
	}
	if c.Admin.ShutdownTimeoutS <= 0 {
		c.Admin.ShutdownTimeoutS = 10
	}
	return c
}

// Load builds a config.Loader against root for the "ingest-engine" service
// tier (base -> env -> tenant -> env-var overrides), merges the layers, and
// decodes the result into an EngineConfig. env and tenant may be empty.
func Load(ctx context.Context, root, env, tenant string) (EngineConfig, error) {
	loader, err := config.NewLoader(root, config.Options{
		Service:            "ingest-engine",
		Env:                env,
		Tenant:             tenant,
		EnableEnvOverrides: true,
	})
	if err != nil {
		return EngineConfig{}, fmt.Errorf("engineconfig: %w", err)
	}

	bundle, err := loader.Load(ctx)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("engineconfig: %w", err)
	}

	canon, err := bundle.CanonicalJSON()
	if err != nil {
		return EngineConfig{}, fmt.Errorf("engineconfig: %w", err)
	}

	var cfg EngineConfig
	if err := json.Unmarshal(canon, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("engineconfig: decode merged config: %w", err)
	}

	return withDefaults(cfg), nil
}

// MaxRetriesByCategory converts a RetryPolicy's string-keyed map into the
// model.Category-keyed map errorhandler.ServiceConfig expects.
func MaxRetriesByCategory(p RetryPolicy) map[model.Category]int {
	out := make(map[model.Category]int, len(p.MaxRetries))
	for k, v := range p.MaxRetries {
		out[model.Category(k)] = v
	}
	return out
}
