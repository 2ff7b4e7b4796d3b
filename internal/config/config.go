package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/crmsync/internal/models"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	// QueueConnection is the Redis URL backing the sync queue. It defaults
	// to RedisURL so small deployments run on a single instance.
	QueueConnection string

	WebhookSecret string
	DedupTTL      time.Duration

	ModulesToSync  []string // priority-ordered
	ModuleTimeouts map[string]time.Duration

	PollInterval     time.Duration
	RateLimitPerMin  int
	MaxDeliveryCount int
	WorkerCount      int

	DefaultOwner models.Owner

	CRMBaseURL  string
	CRMAPIToken string

	AdminJWTSecret string // optional; empty disables admin auth
}

func LoadConfig() (*Config, error) {
	dedupTTLSecs, err := getEnvInt("DEDUP_TTL_SECONDS", 600)
	if err != nil {
		return nil, err
	}
	pollMinutes, err := getEnvInt("POLL_INTERVAL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvInt("RATE_LIMIT_PER_MINUTE", 100)
	if err != nil {
		return nil, err
	}
	maxDeliveries, err := getEnvInt("MAX_DELIVERY_COUNT", 5)
	if err != nil {
		return nil, err
	}
	workerCount, err := getEnvInt("WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}
	timeouts, err := parseModuleTimeouts(os.Getenv("MODULE_LOCK_TIMEOUTS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		QueueConnection:  os.Getenv("QUEUE_CONNECTION"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		DedupTTL:         time.Duration(dedupTTLSecs) * time.Second,
		ModulesToSync:    splitModules(getEnv("MODULES_TO_SYNC", "Leads,Contacts,Deals")),
		ModuleTimeouts:   timeouts,
		PollInterval:     time.Duration(pollMinutes) * time.Minute,
		RateLimitPerMin:  rateLimit,
		MaxDeliveryCount: maxDeliveries,
		WorkerCount:      workerCount,
		DefaultOwner: models.Owner{
			ID:    getEnv("DEFAULT_OWNER_ID", "unassigned"),
			Name:  getEnv("DEFAULT_OWNER_NAME", "Unassigned"),
			Email: os.Getenv("DEFAULT_OWNER_EMAIL"),
		},
		CRMBaseURL:     os.Getenv("CRM_API_BASE_URL"),
		CRMAPIToken:    os.Getenv("CRM_API_TOKEN"),
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
	}

	if cfg.QueueConnection == "" {
		cfg.QueueConnection = cfg.RedisURL
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required")
	}
	if cfg.CRMBaseURL == "" {
		return nil, errors.New("CRM_API_BASE_URL is required")
	}
	if len(cfg.ModulesToSync) == 0 {
		return nil, errors.New("MODULES_TO_SYNC must name at least one module")
	}

	return cfg, nil
}

// Registry builds the closed module set from the configured list.
func (c *Config) Registry() *models.ModuleRegistry {
	return models.NewModuleRegistry(c.ModulesToSync, c.ModuleTimeouts)
}

func splitModules(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseModuleTimeouts parses "Leads=60s,Deals=5m" into per-module queue
// visibility timeouts.
func parseModuleTimeouts(s string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid MODULE_LOCK_TIMEOUTS entry %q", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid MODULE_LOCK_TIMEOUTS entry %q: %w", part, err)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = d
	}
	return out, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
