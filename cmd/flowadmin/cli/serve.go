package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/server"
	"github.com/exafs/flowadmin/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the flowadmin portal server",
		Long:  "Start the HTTP server that validates, authorizes, stores, and dispatches flowspec and RTBH rules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, in-memory store)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dev {
		cfg.Logging.Level = "debug"
		cfg.Dispatch.Testing = true
		cfg.Database.DataDir = ""
		cfg.Database.DSN = ""
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)

	store, err := config.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("init portal store: %w", err)
	}
	defer store.Close()
	logger.Info("portal store initialized", "driver", cfg.Database.Driver)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "flowadmin-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using development default")
	}
	authSvc := service.NewAuthService(store, jwtSecret)

	dispatcher := buildDispatcher(cfg, logger)

	hasUser, err := store.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user account found - run: flowadmin user create")
	}

	shutdownTimeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout != "" {
		if d, derr := time.ParseDuration(cfg.Server.ShutdownTimeout); derr == nil && d > 0 {
			shutdownTimeout = d
		}
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		RatePerMinute:   cfg.Server.RatePerMinute,
		TokenHeader:     cfg.Auth.TokenHeader,
		KeyHeader:       cfg.Auth.KeyHeader,
		TokenTTL:        cfg.JWTExpiryDuration(),
		Version:         versionString(),
	}
	if len(srvCfg.CORSOrigins) == 0 {
		srvCfg.CORSOrigins = []string{"*"}
	}

	srv := server.New(srvCfg, store, authSvc, dispatcher, logger)

	// The sweeper withdraws expired rules for the server's lifetime.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sweeper := service.NewSweeper(store, dispatcher, logger, time.Minute)
	go sweeper.Run(sweepCtx)

	fmt.Printf("→ Flowadmin %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ API:      http://%s:%d/api/v3\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	if cfg.Dispatch.Testing {
		fmt.Println("→ Testing mode: outbound dispatch disabled")
	}
	fmt.Println()

	return srv.ListenAndServe()
}
