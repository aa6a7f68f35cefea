package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"modelgate/internal/shared/models"
)

const (
	credentialPrefix = "username_"
	backendPrefix    = "SERVER_"

	// Legacy single-backend settings, kept for .env files that predate
	// named SERVER_<name> entries.
	legacyHostKey = "SERVER_IP"
	legacyPortKey = "SERVER_PORT"

	defaultBackendName = "default"
	defaultBackendURL  = "http://localhost:8000"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Persistence
	AuditLogFile   string
	ServiceLogFile string

	// Forwarding
	ForwardTimeout time.Duration

	// Model catalog
	CatalogCapacity int
	CatalogTimeout  time.Duration

	// Credentials maps API key -> username. Keys are unique, usernames
	// need not be. Read-only after Load.
	Credentials map[string]string

	// Backends in registry order (lexicographic by name, so the candidate
	// order is deterministic for an env-sourced registry).
	Backends []models.Backend
}

// Load loads configuration from the .env file and environment variables.
// Existing environment variables take precedence over .env entries.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8081"),
		Env:             getEnv("ENV", "development"),
		AuditLogFile:    getEnv("AUDIT_LOG_FILE", "api_usage.jsonl"),
		ServiceLogFile:  getEnv("SERVICE_LOG_FILE", "service.log"),
		ForwardTimeout:  time.Duration(getEnvInt("FORWARD_TIMEOUT_SECONDS", 30)) * time.Second,
		CatalogCapacity: getEnvInt("CATALOG_CAPACITY", 32),
		CatalogTimeout:  time.Duration(getEnvInt("CATALOG_TIMEOUT_SECONDS", 10)) * time.Second,
		Credentials:     make(map[string]string),
	}

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(key, credentialPrefix):
			cfg.Credentials[value] = strings.TrimPrefix(key, credentialPrefix)
		case key == legacyHostKey || key == legacyPortKey:
			// handled below, only as a fallback
		case strings.HasPrefix(key, backendPrefix):
			cfg.Backends = append(cfg.Backends, parseBackend(key, value))
		}
	}

	sort.Slice(cfg.Backends, func(i, j int) bool {
		return cfg.Backends[i].Name < cfg.Backends[j].Name
	})

	if len(cfg.Backends) == 0 {
		cfg.Backends = []models.Backend{fallbackBackend()}
	}

	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("no credentials configured (expected at least one %s<name>=<key> entry)", credentialPrefix)
	}

	return cfg, nil
}

// parseBackend parses SERVER_<name>=<base_url>[,<upstream_key>].
func parseBackend(key, value string) models.Backend {
	name := strings.TrimPrefix(key, backendPrefix)
	baseURL, upstreamKey, _ := strings.Cut(value, ",")
	return models.Backend{
		Name:    strings.ToLower(name),
		BaseURL: strings.TrimSpace(baseURL),
		APIKey:  strings.TrimSpace(upstreamKey),
	}
}

// fallbackBackend builds the designated default backend when no SERVER_<name>
// entry exists, honoring the legacy SERVER_IP/SERVER_PORT pair when present.
func fallbackBackend() models.Backend {
	host := os.Getenv(legacyHostKey)
	port := os.Getenv(legacyPortKey)
	b := models.Backend{Name: defaultBackendName, BaseURL: defaultBackendURL}
	if host != "" && port != "" {
		b.BaseURL = fmt.Sprintf("http://%s:%s", host, port)
	}
	return b
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
