package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level flowadmin configuration file.
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RatePerMinute   int        `yaml:"rate_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls authentication settings. TokenHeader carries user
// session JWTs, KeyHeader carries machine API keys.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTExpiry   string `yaml:"jwt_expiry"`
	TokenHeader string `yaml:"token_header"`
	KeyHeader   string `yaml:"key_header"`
}

// DatabaseConfig selects the SQL backend for the portal store.
// Driver is one of "sqlite", "mysql", "postgres". For sqlite, DataDir
// locates the database file; an empty DataDir means in-memory.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// DispatchConfig controls the outbound enforcement backends. Testing mode
// replaces all remote sends with an explicit no-op so offline runs never
// look like network failures.
type DispatchConfig struct {
	Testing bool        `yaml:"testing"`
	DDoS    DDoSConfig  `yaml:"ddos"`
	Queue   QueueConfig `yaml:"queue"`
}

// DDoSConfig is the DDoS-protection backend REST contract surface.
type DDoSConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	KeyHeader string `yaml:"key_header"` // default x-api-key
	Timeout   string `yaml:"timeout"`
}

// QueueConfig points at the RabbitMQ broker carrying ExaBGP commands.
type QueueConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Queue    string `yaml:"queue"`
}

// URL assembles the AMQP connection URL from the queue settings.
func (q QueueConfig) URL() string {
	host := q.Host
	if host == "" {
		host = "localhost"
	}
	port := q.Port
	if port == 0 {
		port = 5672
	}
	vhost := q.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", q.Username, q.Password, host, port, vhost)
}

// RelayConfig controls the command echo process.
type RelayConfig struct {
	// HTTPListen enables the HTTP command channel when non-empty,
	// e.g. "127.0.0.1:5000".
	HTTPListen string `yaml:"http_listen"`
	// ReconnectWait is the fixed pause between broker reconnect attempts.
	ReconnectWait string `yaml:"reconnect_wait"`
}

// ReconnectWaitDuration parses the configured reconnect pause.
func (r RelayConfig) ReconnectWaitDuration() time.Duration {
	d, err := time.ParseDuration(r.ReconnectWait)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadYAML reads and parses a flowadmin configuration file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in the zero-value fields an operator may omit.
func (c *YAMLConfig) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Auth.TokenHeader == "" {
		c.Auth.TokenHeader = "x-access-token"
	}
	if c.Auth.KeyHeader == "" {
		c.Auth.KeyHeader = "x-api-key"
	}
	if c.Auth.JWTExpiry == "" {
		c.Auth.JWTExpiry = "6h"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Dispatch.DDoS.KeyHeader == "" {
		c.Dispatch.DDoS.KeyHeader = "x-api-key"
	}
	if c.Dispatch.Queue.Queue == "" {
		c.Dispatch.Queue.Queue = "exabgp_commands"
	}
	if c.Relay.ReconnectWait == "" {
		c.Relay.ReconnectWait = "15s"
	}
}

// JWTExpiryDuration parses the configured session token lifetime.
func (c *YAMLConfig) JWTExpiryDuration() time.Duration {
	d, err := time.ParseDuration(c.Auth.JWTExpiry)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// Validate checks the configuration for errors an operator should fix
// before starting either process.
func (c *YAMLConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	if !c.Dispatch.Testing && c.Dispatch.DDoS.BaseURL != "" && c.Dispatch.DDoS.APIKey == "" {
		return fmt.Errorf("dispatch.ddos.api_key is required when a base_url is set")
	}
	if _, err := time.ParseDuration(c.Relay.ReconnectWait); err != nil {
		return fmt.Errorf("relay.reconnect_wait: %w", err)
	}
	return nil
}
