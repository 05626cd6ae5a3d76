package config

import (
	"strings"
	"testing"
	"time"
)

const (
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testEncryptionKey = "abcdefghijklmnopqrstuvwxyz012345"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
}

func TestLoad_Defaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "risksignal" {
		t.Errorf("Database.Name = %q, want risksignal", cfg.Database.Name)
	}
	if cfg.Security.ValidationTokenTTL != 5*time.Minute {
		t.Errorf("ValidationTokenTTL = %v, want 5m", cfg.Security.ValidationTokenTTL)
	}
	if cfg.Engine.HistoryEnabled {
		t.Error("HistoryEnabled should default to false")
	}
	if cfg.Engine.HistoryLookback != 168*time.Hour {
		t.Errorf("HistoryLookback = %v, want 168h", cfg.Engine.HistoryLookback)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Engine.Concurrency)
	}
	if cfg.Engine.SweepInterval != 0 {
		t.Errorf("SweepInterval = %v, want 0", cfg.Engine.SweepInterval)
	}
	if cfg.Alerts.RateWindow != time.Hour || cfg.Alerts.RateMax != 3 {
		t.Errorf("alert rate limit = %v/%d, want 1h/3", cfg.Alerts.RateWindow, cfg.Alerts.RateMax)
	}
	if cfg.Alerts.EmailFrom != "RiskSignal <alerts@risksignal.io>" {
		t.Errorf("EmailFrom = %q", cfg.Alerts.EmailFrom)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want empty", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.risksignal.io, http://localhost:3000,")
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("ALERT_RATE_MAX", "5")
	t.Setenv("MORALIS_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if got := strings.Join(cfg.Server.AllowedOrigins, "|"); got != "https://app.risksignal.io|http://localhost:3000" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	if !cfg.Engine.HistoryEnabled {
		t.Error("HistoryEnabled should be true")
	}
	if cfg.Engine.SweepInterval != 15*time.Minute {
		t.Errorf("SweepInterval = %v, want 15m", cfg.Engine.SweepInterval)
	}
	if cfg.Alerts.RateMax != 5 {
		t.Errorf("RateMax = %d, want 5", cfg.Alerts.RateMax)
	}
	if cfg.Provider.MoralisRPS != 2.5 {
		t.Errorf("MoralisRPS = %v, want 2.5", cfg.Provider.MoralisRPS)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("HISTORY_LOOKBACK", "a week")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Engine.HistoryLookback != 168*time.Hour {
		t.Errorf("HistoryLookback = %v, want default", cfg.Engine.HistoryLookback)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing encryption key", map[string]string{"ENCRYPTION_KEY": ""}, "ENCRYPTION_KEY is required"},
		{"short encryption key", map[string]string{"ENCRYPTION_KEY": "short"}, "32 bytes for AES-256"},
		{"default jwt secret", map[string]string{"JWT_SECRET": defaultJWTSecret}, "changed from default"},
		{"short jwt secret", map[string]string{"JWT_SECRET": "tooshort"}, "at least 32 characters"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"bad db port", map[string]string{"DB_PORT": "0"}, "DB_PORT"},
		{"https without cert", map[string]string{"USE_HTTPS": "true"}, "CERT_FILE"},
		{"zero concurrency", map[string]string{"EVALUATION_CONCURRENCY": "0"}, "EVALUATION_CONCURRENCY"},
		{"negative sweep interval", map[string]string{"SWEEP_INTERVAL": "-1m"}, "SWEEP_INTERVAL"},
		{"zero rate window", map[string]string{"ALERT_RATE_WINDOW": "0s"}, "ALERT_RATE_WINDOW"},
		{"zero rate max", map[string]string{"ALERT_RATE_MAX": "0"}, "ALERT_RATE_MAX"},
		{"negative token ttl", map[string]string{"VALIDATION_TOKEN_TTL": "-5m"}, "VALIDATION_TOKEN_TTL"},
		{"zero api rps", map[string]string{"API_RATE_LIMIT_RPS": "0"}, "API_RATE_LIMIT_RPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "rs", Password: "secret", Name: "risksignal", SSLMode: "require"}

	if got := d.DSN(); got != "host=db port=5432 user=rs password=secret dbname=risksignal sslmode=require" {
		t.Errorf("DSN() = %q", got)
	}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword() must not contain the password")
	}
}
