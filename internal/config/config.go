package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Health struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"health"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	WebhookRetry WebhookRetryConfig `mapstructure:"webhookRetry"`
	Metrics      struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// ProviderConfig holds settings for the external voice-AI provider API.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"baseURL"`
	APIKey        string        `mapstructure:"apiKey"`
	WebhookSecret string        `mapstructure:"webhookSecret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retryCount"`
}

// DispatchConfig holds batch dispatch policy knobs.
type DispatchConfig struct {
	ConcurrencyCap     int           `mapstructure:"concurrencyCap"`     // simultaneous calls per batch
	MinutesPerCall     int64         `mapstructure:"minutesPerCall"`     // reservation ceiling per call
	CostMarkupFactor   string        `mapstructure:"costMarkupFactor"`   // decimal string, e.g. "1.20"
	StartedMatchWindow time.Duration `mapstructure:"startedMatchWindow"` // fallback lookup window for call_started
}

// ReconcileConfig holds settings for the provider polling loop.
type ReconcileConfig struct {
	Workers       int             `mapstructure:"workers"`       // ants pool size
	ScanInterval  time.Duration   `mapstructure:"scanInterval"`  // how often due batches are claimed
	MaxAttempts   int             `mapstructure:"maxAttempts"`   // poll attempts per batch
	Delays        []time.Duration `mapstructure:"delays"`        // delay schedule between attempts
	DefaultStatus string          `mapstructure:"defaultStatus"` // terminal status for unmapped provider statuses
}

// WebhookRetryConfig holds settings for re-processing unprocessed webhook events.
type WebhookRetryConfig struct {
	Workers      int           `mapstructure:"workers"`
	ScanInterval time.Duration `mapstructure:"scanInterval"`
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BatchSize    int           `mapstructure:"batchSize"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("health.port", 2112)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.retryCount", 3)

	v.SetDefault("dispatch.concurrencyCap", 2)
	v.SetDefault("dispatch.minutesPerCall", 200)
	v.SetDefault("dispatch.costMarkupFactor", "1.20")
	v.SetDefault("dispatch.startedMatchWindow", 2*time.Hour)

	v.SetDefault("reconcile.workers", 8)
	v.SetDefault("reconcile.scanInterval", 5*time.Second)
	v.SetDefault("reconcile.maxAttempts", 5)
	v.SetDefault("reconcile.delays", []time.Duration{
		15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 300 * time.Second,
	})
	v.SetDefault("reconcile.defaultStatus", "completed")

	v.SetDefault("webhookRetry.workers", 4)
	v.SetDefault("webhookRetry.scanInterval", 30*time.Second)
	v.SetDefault("webhookRetry.maxAttempts", 5)
	v.SetDefault("webhookRetry.batchSize", 50)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.voxline-call-engine")
	v.AddConfigPath("/etc/voxline-call-engine")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if apiKey := os.Getenv("PROVIDER_API_KEY"); apiKey != "" {
		v.Set("provider.apiKey", apiKey)
	}
	if secret := os.Getenv("PROVIDER_WEBHOOK_SECRET"); secret != "" {
		v.Set("provider.webhookSecret", secret)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
