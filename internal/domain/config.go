package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Model       ModelConfig     `mapstructure:"model"`
	Events      EventsConfig    `mapstructure:"events"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	MCP         MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents the two-tier timeline cache configuration
type CacheConfig struct {
	RedisURL     string        `mapstructure:"redis_url"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	MemoryItems  int           `mapstructure:"memory_items"`
	MemoryTTL    time.Duration `mapstructure:"memory_ttl"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AuthConfig configures hospital bearer tokens
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// ModelConfig locates the fitted scaler/classifier artifact
type ModelConfig struct {
	ArtifactURI     string `mapstructure:"artifact_uri"` // local path or gs://bucket/object
	CredentialsFile string `mapstructure:"credentials_file"`
	Version         string `mapstructure:"version"`
}

// EventsConfig configures outbound events and device ECG ingestion
type EventsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
}

// KafkaConfig represents Kafka producer configuration
type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	Topic            string `mapstructure:"topic"`
	ClientID         string `mapstructure:"client_id"`
}

// MQTTConfig represents device ECG subscription configuration
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BrokerURL   string        `mapstructure:"broker_url"`
	ClientID    string        `mapstructure:"client_id"`
	Topic       string        `mapstructure:"topic"` // e.g. devices/+/+/ecg (hospital, patient)
	QoS         byte          `mapstructure:"qos"`
	Freshness   time.Duration `mapstructure:"freshness"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
}

// RateLimitConfig controls per-hospital request throttling
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"` // "stdio"
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HospitalID     string        `mapstructure:"hospital_id"`
	DataDir        string        `mapstructure:"data_dir"` // retraining exports land in DataDir/exports
}
