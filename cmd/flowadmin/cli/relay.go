package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exafs/flowadmin/internal/echoproc"
)

func newRelayCmd() *cobra.Command {
	var httpListen string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the command echo process for ExaBGP",
		Long: `Run the long-lived relay that consumes rule commands from the RabbitMQ
queue (and optionally an HTTP endpoint) and writes each one, newline
terminated and immediately flushed, to standard output.

ExaBGP supervises this process and reads its standard output as a control
channel, so all logging goes to standard error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(httpListen)
		},
	}

	cmd.Flags().StringVar(&httpListen, "http-listen", "", "address for the HTTP command channel (overrides config)")

	return cmd
}

func runRelay(httpListen string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if httpListen != "" {
		cfg.Relay.HTTPListen = httpListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Stdout belongs to ExaBGP; force logs to stderr even if a log file
	// is misconfigured to stdout elsewhere.
	logger := newLogger(cfg.Logging)

	proc := echoproc.New(cfg.Dispatch.Queue, cfg.Relay, logger, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("command relay starting", "queue", cfg.Dispatch.Queue.Queue)
	return proc.Run(ctx)
}
