package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://notebook:notebook@db:5432/notebook?sslmode=disable")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("INGEST_QUEUE_CONCURRENCY", "4")
	t.Setenv("CALL_TIMEOUT_SECONDS", "30")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "8080"
logLevel: "info"
storeDriver: "postgres"
databaseURL: "postgres://localhost:5432/notebook"
aiProvider: "gemini"
geminiApiKey: "file-key"
geminiModel: "gemini-2.0-flash"
redisAddr: "localhost:6379"
queueName: "notebook:ingest"
queueConcurrency: 1
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://notebook:notebook@db:5432/notebook?sslmode=disable" {
		t.Fatalf("databaseURL env override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.GeminiAPIKey != "env-key" {
		t.Fatalf("geminiApiKey env override not applied: %q", cfg.GeminiAPIKey)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("queueConcurrency = %d, want 4", cfg.QueueConcurrency)
	}
	if cfg.CallTimeoutSeconds != 30 {
		t.Fatalf("callTimeoutSeconds = %d, want 30", cfg.CallTimeoutSeconds)
	}
}

func TestValidateConfigRejectsUnknownStoreDriver(t *testing.T) {
	cfg := FileConfig{
		Port:         "8080",
		StoreDriver:  "sqlite",
		AIProvider:   "gemini",
		GeminiAPIKey: "key",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for unknown storeDriver")
	}
}

func TestValidateConfigRequiresProviderSettings(t *testing.T) {
	cfg := FileConfig{
		Port:        "8080",
		StoreDriver: "memory",
		AIProvider:  "ollama",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for ollama without URL")
	}
}

func TestValidateConfigRequiresQueueNameWithRedis(t *testing.T) {
	cfg := FileConfig{
		Port:         "8080",
		StoreDriver:  "memory",
		AIProvider:   "gemini",
		GeminiAPIKey: "key",
		RedisAddr:    "localhost:6379",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for redisAddr without queueName")
	}
}

func TestValidateConfigRequiresMinioCredentials(t *testing.T) {
	cfg := FileConfig{
		Port:          "8080",
		StoreDriver:   "memory",
		AIProvider:    "gemini",
		GeminiAPIKey:  "key",
		MinioEndpoint: "localhost:9000",
		MinioBucket:   "uploads",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for minio endpoint without credentials")
	}
}
