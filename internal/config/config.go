// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	JWTTTLHours              int    `mapstructure:"JWT_TTL_HOURS"`
	Port                     string `mapstructure:"PORT"`
	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBSQLitePath             string `mapstructure:"DB_SQLITE_PATH"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	AllowedOrigins           string `mapstructure:"ALLOWED_ORIGINS"`
	Env                      string `mapstructure:"APP_ENV"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracingSampling float64 `mapstructure:"TRACING_SAMPLE_RATIO"`

	// Deployment-specific settings. See Deployment().
	DeploymentName           string `mapstructure:"DEPLOYMENT_NAME"`
	CenterName               string `mapstructure:"CENTER_NAME"`
	StorageResourceName      string `mapstructure:"STORAGE_RESOURCE_NAME"`
	StorageBasePath          string `mapstructure:"STORAGE_BASE_PATH"`
	StorageClaimTimeoutMins  int    `mapstructure:"STORAGE_CLAIM_TIMEOUT_MINUTES"`
	StorageAdminEmails       string `mapstructure:"STORAGE_ADMIN_EMAILS"`
	EligibilityBackend       string `mapstructure:"ELIGIBILITY_BACKEND"`
	EligibilityWhitelist     string `mapstructure:"ELIGIBILITY_WHITELIST"`
	EligibilityWhitelistFile string `mapstructure:"ELIGIBILITY_WHITELIST_FILE"`
	QueueMetricsIntervalSecs int    `mapstructure:"QUEUE_METRICS_INTERVAL_SECONDS"`

	// Development-only bootstrap of a manager account for local agents.
	DevBootstrapAdmin bool   `mapstructure:"DEV_BOOTSTRAP_ADMIN"`
	DevAdminUsername  string `mapstructure:"DEV_ADMIN_USERNAME"`
	DevAdminEmail     string `mapstructure:"DEV_ADMIN_EMAIL"`
	DevAdminPassword  string `mapstructure:"DEV_ADMIN_PASSWORD"`
}

// Deployment carries the settings that differ between the clusters this
// portal is deployed for. It is handed to constructors explicitly.
type Deployment struct {
	Name                     string
	CenterName               string
	StorageResourceName      string
	StorageBasePath          string
	ClaimTimeout             time.Duration
	AdminEmails              []string
	EligibilityBackend       string
	EligibilityWhitelist     []string
	EligibilityWhitelistFile string
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults registers development defaults with viper.
func SetDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_SQLITE_PATH", "coldfront.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "coldfront")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "coldfront")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_TTL_HOURS", 24)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)

	viper.SetDefault("DEPLOYMENT_NAME", "BRC")
	viper.SetDefault("CENTER_NAME", "Berkeley Research Computing")
	viper.SetDefault("STORAGE_RESOURCE_NAME", "Scratch Faculty Storage Directory")
	viper.SetDefault("STORAGE_BASE_PATH", "/global/scratch/fsa")
	viper.SetDefault("STORAGE_CLAIM_TIMEOUT_MINUTES", 30)
	viper.SetDefault("STORAGE_ADMIN_EMAILS", "")
	viper.SetDefault("ELIGIBILITY_BACKEND", "permissive")
	viper.SetDefault("ELIGIBILITY_WHITELIST", "")
	viper.SetDefault("ELIGIBILITY_WHITELIST_FILE", "")
	viper.SetDefault("QUEUE_METRICS_INTERVAL_SECONDS", 30)
	viper.SetDefault("DEV_BOOTSTRAP_ADMIN", false)
	viper.SetDefault("DEV_ADMIN_USERNAME", "coldfront_admin")
	viper.SetDefault("DEV_ADMIN_EMAIL", "admin@coldfront.local")
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Deployment builds the deployment settings from the loaded config.
func (c *Config) Deployment() Deployment {
	timeout := time.Duration(c.StorageClaimTimeoutMins) * time.Minute
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return Deployment{
		Name:                     c.DeploymentName,
		CenterName:               c.CenterName,
		StorageResourceName:      c.StorageResourceName,
		StorageBasePath:          strings.TrimRight(c.StorageBasePath, "/"),
		ClaimTimeout:             timeout,
		AdminEmails:              splitList(c.StorageAdminEmails),
		EligibilityBackend:       strings.ToLower(strings.TrimSpace(c.EligibilityBackend)),
		EligibilityWhitelist:     splitList(c.EligibilityWhitelist),
		EligibilityWhitelistFile: c.EligibilityWhitelistFile,
	}
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must be >= 0")
	}
	if c.StorageClaimTimeoutMins < 0 {
		return errors.New("STORAGE_CLAIM_TIMEOUT_MINUTES must be >= 0")
	}
	if c.StorageBasePath != "" && !strings.HasPrefix(c.StorageBasePath, "/") {
		return fmt.Errorf("STORAGE_BASE_PATH must be absolute, got %q", c.StorageBasePath)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "sqlite" {
			return errors.New("DB_DRIVER=sqlite is not supported in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
