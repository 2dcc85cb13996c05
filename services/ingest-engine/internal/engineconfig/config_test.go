package engineconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadMergesBaseEnvAndAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ingest-engine.yaml", `
source:
  base_url: https://reader.example.com
  token: base-token
  rate_per_second: 5
webhook:
  url: https://sink.example.com/hooks
  auth_token: webhook-token
orchestrator:
  breaking_tags:
    - breaking
    - urgent
`)
	envDir := filepath.Join(root, "env", "prod")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	writeFile(t, envDir, "ingest-engine.json", `{"source":{"token":"prod-token"}}`)

	cfg, err := Load(context.Background(), root, "prod", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Source.BaseURL != "https://reader.example.com" {
		t.Fatalf("expected base url to survive from the base layer, got %q", cfg.Source.BaseURL)
	}
	if cfg.Source.Token != "prod-token" {
		t.Fatalf("expected token to be overridden by the env layer, got %q", cfg.Source.Token)
	}
	if cfg.Webhook.URL != "https://sink.example.com/hooks" {
		t.Fatalf("unexpected webhook url: %q", cfg.Webhook.URL)
	}
	if len(cfg.Orchestrator.BreakingTags) != 2 {
		t.Fatalf("expected 2 breaking tags, got %v", cfg.Orchestrator.BreakingTags)
	}

	// Defaults fill in whatever the layers didn't set.
	if cfg.Webhook.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.Webhook.MaxRetries)
	}
	if cfg.Queue.Capacity != 10000 {
		t.Fatalf("expected default queue capacity 10000, got %d", cfg.Queue.Capacity)
	}
	if cfg.Admin.Addr != ":8090" {
		t.Fatalf("expected default admin addr :8090, got %q", cfg.Admin.Addr)
	}
}

func TestBreakingTagSetBuildsLookup(t *testing.T) {
	cfg := EngineConfig{Orchestrator: OrchestratorConfig{BreakingTags: []string{"breaking", "Urgent"}}}
	set := cfg.BreakingTagSet()
	if _, ok := set["breaking"]; !ok {
		t.Fatal("expected breaking in set")
	}
	if _, ok := set["Urgent"]; !ok {
		t.Fatal("expected Urgent in set")
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(set))
	}
}

func TestMaxRetriesByCategoryConvertsKeys(t *testing.T) {
	p := RetryPolicy{MaxRetries: map[string]int{"api": 3, "network": 2}}
	m := MaxRetriesByCategory(p)
	if m["api"] != 3 || m["network"] != 2 {
		t.Fatalf("unexpected conversion: %v", m)
	}
}
