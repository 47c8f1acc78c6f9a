package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/dispatch"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// FLOWADMIN_DATA_DIR env var, or ~/.flowadmin as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("FLOWADMIN_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.flowadmin"
}

// loadConfig assembles the effective configuration: the YAML file when one
// was found, defaults otherwise, with environment overrides on top.
func loadConfig() (*config.YAMLConfig, error) {
	var cfg *config.YAMLConfig

	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAML(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.YAMLConfig{}
		cfg.ApplyDefaults()
	}

	applyEnvOverrides(cfg)
	if cfg.Database.DataDir == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DataDir = resolveDataDir()
	}
	return cfg, nil
}

// applyEnvOverrides lets FLOWADMIN_* environment variables override the
// settings operators most often inject at deploy time.
func applyEnvOverrides(cfg *config.YAMLConfig) {
	if v := viper.GetString("auth.jwt_secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if viper.IsSet("dispatch.testing") {
		cfg.Dispatch.Testing = viper.GetBool("dispatch.testing")
	}
	if v := viper.GetString("dispatch.ddos.base_url"); v != "" {
		cfg.Dispatch.DDoS.BaseURL = v
	}
	if v := viper.GetString("dispatch.ddos.api_key"); v != "" {
		cfg.Dispatch.DDoS.APIKey = v
	}
	if v := viper.GetString("dispatch.queue.host"); v != "" {
		cfg.Dispatch.Queue.Host = v
	}
	if v := viper.GetString("dispatch.queue.username"); v != "" {
		cfg.Dispatch.Queue.Username = v
	}
	if v := viper.GetString("dispatch.queue.password"); v != "" {
		cfg.Dispatch.Queue.Password = v
	}
	if v := viper.GetString("database.dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("database.driver"); v != "" {
		cfg.Database.Driver = v
	}
}

// openStore opens the portal store for CLI commands, honoring the same
// configuration the server uses.
func openStore() (*config.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.NewStore(cfg.Database)
}

// newLogger builds the process logger from the logging configuration.
// CLI output that is part of a protocol (the relay's stdout) must never
// share a stream with logs, so everything defaults to stderr.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// buildDispatcher selects the dispatcher for the configured mode: the
// testing flag yields the explicit no-op dispatcher, otherwise a relay over
// the command queue and, when configured, the DDoS-protection backend.
func buildDispatcher(cfg *config.YAMLConfig, logger *slog.Logger) dispatch.Dispatcher {
	if cfg.Dispatch.Testing {
		logger.Warn("testing mode enabled, outbound dispatch disabled")
		return dispatch.NewNullDispatcher(logger)
	}

	sink := dispatch.NewCommandSink(cfg.Dispatch.Queue, logger)

	var remote dispatch.Remote
	if cfg.Dispatch.DDoS.BaseURL != "" {
		remote = dispatch.NewDDoSClient(cfg.Dispatch.DDoS)
	}

	return dispatch.NewRelay(sink, remote, logger)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
