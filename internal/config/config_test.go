package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadTokenTTLFallsBackOnJunk(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("SERVER_URL", "")
	t.Setenv("QUEUE_DB_PATH", "")
	t.Setenv("SYNC_INTERVAL_SECONDS", "0")

	cfg := LoadClient()
	if cfg.ServerURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected server url %q", cfg.ServerURL)
	}
	if cfg.QueueDBPath != "pos-queue.db" {
		t.Fatalf("unexpected queue path %q", cfg.QueueDBPath)
	}
	if cfg.SyncIntervalSeconds != 30 {
		t.Fatalf("expected interval fallback 30, got %d", cfg.SyncIntervalSeconds)
	}
}
