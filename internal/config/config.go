package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" env:"DATABASE_DRIVER"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// RedisConfig holds Redis configuration for the document read cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string `yaml:"secret" env:"JWT_SECRET"`
	ExpirationSeconds int    `yaml:"expiration_seconds" env:"JWT_EXPIRATION_SECONDS"`
	SigningMethod     string `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
}

// WebSocketConfig holds collaboration hub tunables
type WebSocketConfig struct {
	// HistorySize is the per-room operation history capacity
	HistorySize int `yaml:"history_size" env:"WS_HISTORY_SIZE"`
	// MaxMessageSize is the largest accepted inbound frame in bytes
	MaxMessageSize int64 `yaml:"max_message_size" env:"WS_MAX_MESSAGE_SIZE"`
	// WriteTimeout bounds a single frame write to a client
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WS_WRITE_TIMEOUT"`
	// PongTimeout is how long a silent connection survives
	PongTimeout time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
	// PingInterval is the server-side keepalive ping cadence
	PingInterval time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	// IdleAfter marks a session idle in presence after this much inactivity
	IdleAfter time.Duration `yaml:"idle_after" env:"WS_IDLE_AFTER"`
	// RoomSweepInterval is the cadence of the stale-room sweep
	RoomSweepInterval time.Duration `yaml:"room_sweep_interval" env:"WS_ROOM_SWEEP_INTERVAL"`
	// RoomMaxIdle is how long an inactive room survives the sweep
	RoomMaxIdle time.Duration `yaml:"room_max_idle" env:"WS_ROOM_MAX_IDLE"`
	// RateLimitWindow and RateLimitThreshold define the frequent-operation
	// policy: more than RateLimitThreshold operations inside one window
	// classifies a sender as high-frequency.
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" env:"WS_RATE_LIMIT_WINDOW"`
	RateLimitThreshold int           `yaml:"rate_limit_threshold" env:"WS_RATE_LIMIT_THRESHOLD"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOG_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOG_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOG_CONSOLE"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Interface:    "0.0.0.0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "drawdock.db",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "postgres",
				Password: "",
				Database: "drawdock",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Enabled:  false,
				Host:     "localhost",
				Port:     "6379",
				Password: "",
				DB:       0,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Secret:            "",
				ExpirationSeconds: 3600,
				SigningMethod:     "HS256",
			},
		},
		WebSocket: WebSocketConfig{
			HistorySize:        50,
			MaxMessageSize:     64 * 1024,
			WriteTimeout:       10 * time.Second,
			PongTimeout:        60 * time.Second,
			PingInterval:       30 * time.Second,
			IdleAfter:          2 * time.Minute,
			RoomSweepInterval:  5 * time.Minute,
			RoomMaxIdle:        15 * time.Minute,
			RateLimitWindow:    10 * time.Second,
			RateLimitThreshold: 40,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            false,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		// Get environment variable name from tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a reflect.Value from a string representation
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Slice:
		// Handle string slices (comma-separated values)
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, 0, len(parts))
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					slice = append(slice, trimmed)
				}
			}
			field.Set(reflect.ValueOf(slice))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.Postgres.Port == "" {
			return fmt.Errorf("postgres port is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Redis.Enabled {
		if c.Database.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Database.Redis.Port == "" {
			return fmt.Errorf("redis port is required")
		}
	}

	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Auth.JWT.ExpirationSeconds <= 0 {
		return fmt.Errorf("jwt expiration must be greater than 0")
	}
	if c.Auth.JWT.SigningMethod != "HS256" && c.Auth.JWT.SigningMethod != "HS384" && c.Auth.JWT.SigningMethod != "HS512" {
		return fmt.Errorf("unsupported jwt signing method: %s", c.Auth.JWT.SigningMethod)
	}

	if c.WebSocket.HistorySize <= 0 {
		return fmt.Errorf("websocket history size must be greater than 0")
	}
	if c.WebSocket.RateLimitWindow <= 0 || c.WebSocket.RateLimitThreshold <= 0 {
		return fmt.Errorf("websocket rate limit window and threshold must be greater than 0")
	}

	return nil
}

// DSN builds the postgres connection string
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the host:port address for Redis
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}
