package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage flowadmin configuration",
		Long:  "Initialize a default configuration file, validate it, or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default flowadmin.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfigFile = `# Flowadmin Configuration

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 10s
  rate_per_minute: 0   # 0 disables rate limiting
  cors:
    origins:
      - "*"

auth:
  jwt_secret: ""             # Set via FLOWADMIN_AUTH_JWT_SECRET env var
  jwt_expiry: 6h
  token_header: x-access-token
  key_header: x-api-key

# Portal store. sqlite with an empty data_dir runs in-memory.
database:
  driver: sqlite             # sqlite, mysql, or postgres
  dsn: ""                    # required for mysql/postgres
  data_dir: ""               # sqlite file location (default: ~/.flowadmin)

dispatch:
  testing: false             # true skips all remote sends
  ddos:
    base_url: ""             # e.g. https://ddos.example.net/api
    api_key: ""
  queue:
    host: localhost
    port: 5672
    username: guest
    password: guest
    vhost: /
    queue: exabgp_commands

relay:
  http_listen: ""            # e.g. 127.0.0.1:5000 enables the HTTP channel
  reconnect_wait: 15s

logging:
  level: info    # debug, info, warn, error
  format: text   # text or json
`

func runConfigInit(force bool) error {
	path := "flowadmin.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file to point at your queue and backends, then run 'flowadmin serve'.")
	return nil
}

// ---------- config validate ----------

func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("Configuration OK.")
			return nil
		},
	}

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'flowadmin config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}
