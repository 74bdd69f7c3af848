package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"CHATD_CONFIG_FILE", "CHATD_DATABASE_URL", "CHATD_GRPC_ADDR", "CHATD_HTTP_ADDR",
	"CHATD_AUTH_TOKEN", "CHATD_NATS_URL", "CHATD_EVENTS_EXCHANGE", "CHATD_UPDATES_EXCHANGE",
	"CHATD_UPDATES_TTL", "CHATD_BATCH_TTL", "CHATD_ARCHIVE_INTERVAL", "CHATD_ARCHIVE_S3_BUCKET",
	"CHATD_ARCHIVE_S3_ENDPOINT", "CHATD_ARCHIVE_S3_REGION", "CHATD_ARCHIVE_S3_PREFIX",
	"CHATD_OTEL_ENDPOINT", "CHATD_CORS_ORIGINS",
}

// clearAllEnv unsets every CHATD_* variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"CHATD_DATABASE_URL": "postgres://localhost/chat"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"CHATD_DATABASE_URL": "postgres://db:5432/chat",
				"CHATD_GRPC_ADDR":    ":5050",
				"CHATD_HTTP_ADDR":    ":3000",
				"CHATD_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "InvalidDuration",
			env: map[string]string{
				"CHATD_DATABASE_URL": "postgres://localhost/chat",
				"CHATD_UPDATES_TTL":  "not-a-duration",
			},
			wantErr: true,
		},
		{
			name: "ZeroBatchTTL",
			env: map[string]string{
				"CHATD_DATABASE_URL": "postgres://localhost/chat",
				"CHATD_BATCH_TTL":    "0s",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["CHATD_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["CHATD_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadBrokerDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CHATD_DATABASE_URL", "postgres://localhost/chat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EventsExchange != "chat.events" {
		t.Errorf("EventsExchange = %q, want %q", cfg.EventsExchange, "chat.events")
	}
	if cfg.UpdatesExchange != "chat.updates" {
		t.Errorf("UpdatesExchange = %q, want %q", cfg.UpdatesExchange, "chat.updates")
	}
	if cfg.UpdatesTTL != 24*time.Hour {
		t.Errorf("UpdatesTTL = %v, want 24h", cfg.UpdatesTTL)
	}
	if cfg.BatchTTL != 5*time.Minute {
		t.Errorf("BatchTTL = %v, want 5m", cfg.BatchTTL)
	}
	if cfg.ArchiveInterval != 10*time.Minute {
		t.Errorf("ArchiveInterval = %v, want 10m", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q, want %q", cfg.ArchiveS3Region, "us-east-1")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	clearAllEnv(t)

	path := filepath.Join(t.TempDir(), "chatd.toml")
	file := `
database_url = "postgres://file/chat"
http_addr = ":7070"
updates_exchange = "file.updates"
updates_ttl = "1h"
archive_s3_bucket = "archive"
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATD_CONFIG_FILE", path)
	t.Setenv("CHATD_HTTP_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://file/chat" {
		t.Errorf("DatabaseURL = %q, want value from file", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":6060" {
		t.Errorf("HTTPAddr = %q, want env to override file", cfg.HTTPAddr)
	}
	if cfg.UpdatesExchange != "file.updates" {
		t.Errorf("UpdatesExchange = %q, want %q", cfg.UpdatesExchange, "file.updates")
	}
	if cfg.UpdatesTTL != time.Hour {
		t.Errorf("UpdatesTTL = %v, want 1h", cfg.UpdatesTTL)
	}
	if cfg.ArchiveS3Bucket != "archive" {
		t.Errorf("ArchiveS3Bucket = %q, want %q", cfg.ArchiveS3Bucket, "archive")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want default to survive", cfg.GRPCAddr)
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CHATD_DATABASE_URL", "postgres://localhost/chat")
	t.Setenv("CHATD_CORS_ORIGINS", "http://localhost:3000,https://chat.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://chat.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CHATD_DATABASE_URL", "postgres://localhost/chat")
	t.Setenv("CHATD_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
