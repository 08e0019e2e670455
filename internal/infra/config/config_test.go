package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.StoreBackend != StoreMemory || cfg.UsersBackend != StoreMemory || cfg.NotifyBackend != NotifyLocal {
		t.Fatalf("unexpected backends: %s/%s/%s", cfg.StoreBackend, cfg.UsersBackend, cfg.NotifyBackend)
	}
	if cfg.HTTPAddr != ":8080" || cfg.IdempotencyTTL != 168*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.IsDev() {
		t.Fatal("expected dev by default")
	}
}

func TestParseNormalizesBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", " Scylla ")
	t.Setenv("SCYLLA_HOSTS", "10.0.0.1, ,10.0.0.2")
	t.Setenv("NOTIFY_BACKEND", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "broker:9092")
	t.Setenv("S3_ENDPOINT", "minio:9000")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.StoreBackend != StoreScylla || cfg.NotifyBackend != NotifyKafka {
		t.Fatalf("backends not normalized: %s %s", cfg.StoreBackend, cfg.NotifyBackend)
	}
	if cfg.UsersBackend != StoreMemory {
		t.Fatalf("scylla should keep users in memory, got %s", cfg.UsersBackend)
	}
	if len(cfg.Scylla.Hosts) != 2 {
		t.Fatalf("expected blank hosts dropped, got %v", cfg.Scylla.Hosts)
	}
	if cfg.S3.PublicEndpoint != "minio:9000" {
		t.Fatalf("public endpoint should default to endpoint, got %q", cfg.S3.PublicEndpoint)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("NOTIFY_BACKEND", "redis")
	t.Setenv("NOTIFY_RETRY_ENABLED", "true")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"POSTGRES_DSN is required for STORE_BACKEND",
		"REDIS_URL is required for NOTIFY_BACKEND",
		"NOTIFY_RETRY_ENABLED",
		"REALTIME_TICKET_SECRET is required outside dev",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "unknown STORE_BACKEND") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestValidateShortTicketSecret(t *testing.T) {
	t.Setenv("REALTIME_TICKET_SECRET", "too-short")
	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "at least 32 bytes") {
		t.Fatalf("expected secret length error, got %v", err)
	}
}

func TestValidateRedisSessionsNeedURL(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "Redis")
	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "SESSION_BACKEND=redis") {
		t.Fatalf("expected missing redis url error, got %v", err)
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SessionBackend != SessionRedis {
		t.Fatalf("expected redis sessions, got %q", cfg.SessionBackend)
	}
}

func TestValidateKafkaNeedsStableInstanceOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("NOTIFY_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker:9092")
	t.Setenv("REALTIME_TICKET_SECRET", strings.Repeat("s", 32))
	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "INSTANCE_ID is required") {
		t.Fatalf("expected missing instance id error, got %v", err)
	}

	t.Setenv("INSTANCE_ID", "storefront-0")
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.InstanceID != "storefront-0" {
		t.Fatalf("unexpected instance id %q", cfg.InstanceID)
	}

	t.Setenv("APP_ENV", "dev")
	t.Setenv("INSTANCE_ID", "")
	if _, err := Parse(); err != nil {
		t.Fatalf("dev should fall back to a random instance id: %v", err)
	}
}
