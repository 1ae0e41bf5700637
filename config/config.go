package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the CRITs indicator service
type Config struct {
	MongoDB struct {
		URI            string        `mapstructure:"uri"`
		Database       string        `mapstructure:"database"`
		MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"mongodb"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	API struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		TLS            bool          `mapstructure:"tls"`
		CertFile       string        `mapstructure:"cert_file"`
		KeyFile        string        `mapstructure:"key_file"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		JSONBodyLimit  int64         `mapstructure:"json_body_limit"`
		UploadLimit    int64         `mapstructure:"upload_limit"` // bytes accepted by the CSV import endpoint
		ImportRate     float64       `mapstructure:"import_rate"`  // import requests per second per user
		ImportBurst    int           `mapstructure:"import_burst"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		JWTSecret string `mapstructure:"jwt_secret"`
		Issuer    string `mapstructure:"issuer"`
	} `mapstructure:"auth"`

	Import struct {
		BucketListColumn string `mapstructure:"bucket_list_column"`
		TicketColumn     string `mapstructure:"ticket_column"`
		DefaultMethod    string `mapstructure:"default_method"`
	} `mapstructure:"import"`

	Triage struct {
		Enabled        bool          `mapstructure:"enabled"`
		QueueKey       string        `mapstructure:"queue_key"`
		Workers        int           `mapstructure:"workers"`
		Backlog        int           `mapstructure:"backlog"`
		EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
		CircuitBreaker struct {
			MaxFailures uint32        `mapstructure:"max_failures"`
			Cooldown    time.Duration `mapstructure:"cooldown"`
		} `mapstructure:"circuit_breaker"`
	} `mapstructure:"triage"`

	DomainParser struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"domain_parser"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"secrets_manager"`
	} `mapstructure:"secrets"`
}

// minJWTSecretLength is 256 bits of key material
const minJWTSecretLength = 32

func setDefaults() {
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "crits")
	viper.SetDefault("mongodb.max_pool_size", 20)
	viper.SetDefault("mongodb.connect_timeout", 10*time.Second)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8443)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.read_timeout", 30*time.Second)
	viper.SetDefault("api.write_timeout", 5*time.Minute) // large CSV imports
	viper.SetDefault("api.json_body_limit", 1<<20)
	viper.SetDefault("api.upload_limit", 32<<20)
	viper.SetDefault("api.import_rate", 0.2)
	viper.SetDefault("api.import_burst", 2)
	viper.SetDefault("api.allowed_origins", []string{})

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.issuer", "crits")

	viper.SetDefault("import.bucket_list_column", "Bucket List")
	viper.SetDefault("import.ticket_column", "Ticket")
	viper.SetDefault("import.default_method", "CSV Upload")

	viper.SetDefault("triage.enabled", true)
	viper.SetDefault("triage.queue_key", "crits:triage:jobs")
	viper.SetDefault("triage.workers", 2)
	viper.SetDefault("triage.backlog", 1024)
	viper.SetDefault("triage.enqueue_timeout", 2*time.Second)
	viper.SetDefault("triage.circuit_breaker.max_failures", 5)
	viper.SetDefault("triage.circuit_breaker.cooldown", 30*time.Second)

	viper.SetDefault("domain_parser.cache_size", 4096)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("secrets.provider", "")
	viper.SetDefault("secrets.vault.path", "secret/crits")
	viper.SetDefault("secrets.secrets_manager.secret_id", "crits/secrets")
}

// loadFromEnv sets up environment variable loading, e.g. CRITS_MONGODB_URI
func loadFromEnv() {
	viper.SetEnvPrefix("CRITS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the settings operators override most
	_ = viper.BindEnv("auth.jwt_secret", "CRITS_JWT_SECRET")
	_ = viper.BindEnv("logging.level", "CRITS_LOG_LEVEL")
}

// LoadConfig loads configuration from an optional YAML file, the environment
// and, when a provider is configured, the secret store. An empty path searches
// ./config.yaml and ./config/config.yaml.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the search paths are optional
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.Secrets.Provider != "" {
		if err := LoadSecrets(&config); err != nil {
			return nil, err
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LogLevel returns the configured zap level, defaulting to info
func (c *Config) LogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// ListenAddr returns the API host:port
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	if !strings.HasPrefix(config.MongoDB.URI, "mongodb://") && !strings.HasPrefix(config.MongoDB.URI, "mongodb+srv://") {
		return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
	}
	parsed, err := url.Parse(config.MongoDB.URI)
	if err != nil {
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid MongoDB URI: missing host")
	}
	if config.MongoDB.Database == "" {
		return fmt.Errorf("MongoDB database cannot be empty")
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.ImportRate <= 0 || config.API.ImportBurst < 1 {
		return fmt.Errorf("api.import_rate must be positive and api.import_burst at least 1")
	}
	if config.API.UploadLimit <= 0 {
		return fmt.Errorf("api.upload_limit must be positive, got %d", config.API.UploadLimit)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("api.cert_file and api.key_file are required when TLS is enabled")
	}

	if config.Auth.Enabled {
		if len(config.Auth.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT secret must be at least %d characters when auth is enabled", minJWTSecretLength)
		}
		weakSecrets := []string{"secret", "password", "changeme", "default", "crits"}
		lower := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				return fmt.Errorf("JWT secret appears to contain weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	if config.Triage.Enabled {
		if !config.Redis.Enabled {
			return fmt.Errorf("triage requires redis.enabled")
		}
		if config.Triage.Workers < 1 || config.Triage.Workers > 64 {
			return fmt.Errorf("triage.workers must be between 1 and 64, got %d", config.Triage.Workers)
		}
		if config.Triage.Backlog < 1 {
			return fmt.Errorf("triage.backlog must be positive, got %d", config.Triage.Backlog)
		}
		if config.Triage.CircuitBreaker.MaxFailures == 0 {
			return fmt.Errorf("triage.circuit_breaker.max_failures must be positive")
		}
		if config.Triage.CircuitBreaker.Cooldown <= 0 {
			return fmt.Errorf("triage.circuit_breaker.cooldown must be positive")
		}
	}

	if config.DomainParser.CacheSize < 1 {
		return fmt.Errorf("domain_parser.cache_size must be positive, got %d", config.DomainParser.CacheSize)
	}

	if strings.TrimSpace(config.Import.BucketListColumn) == "" || strings.TrimSpace(config.Import.TicketColumn) == "" {
		return fmt.Errorf("import column names cannot be empty")
	}

	if _, err := zapcore.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", config.Logging.Level, err)
	}

	if os.Getenv("CRITS_ENV") == "production" && !config.API.TLS {
		return fmt.Errorf("TLS must be enabled for the API in production (CRITS_ENV=production, api.tls=false)")
	}

	return nil
}
