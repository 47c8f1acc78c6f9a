// Package echoproc implements the command relay that sits between the
// portal's queue and an ExaBGP process. ExaBGP reads its supervisee's
// standard output as a control channel, so every command is written as one
// line and flushed immediately.
package echoproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/exafs/flowadmin/internal/config"
)

// Process consumes commands from RabbitMQ and, optionally, an HTTP POST
// endpoint, and echoes each to its output. Commands are processed one at a
// time; the order received is the order written.
type Process struct {
	queueCfg config.QueueConfig
	relayCfg config.RelayConfig
	logger   *slog.Logger

	// connect dials the broker and consumes until the connection drops.
	// Swappable so the reconnect loop is testable without a broker.
	connect func(ctx context.Context) error

	mu  sync.Mutex
	out *bufio.Writer
}

// New creates a Process writing to out (os.Stdout in production).
func New(queueCfg config.QueueConfig, relayCfg config.RelayConfig, logger *slog.Logger, out io.Writer) *Process {
	p := &Process{
		queueCfg: queueCfg,
		relayCfg: relayCfg,
		logger:   logger,
		out:      bufio.NewWriter(out),
	}
	p.connect = p.consumeOnce
	return p
}

// Run blocks until ctx is cancelled. It starts the HTTP channel when one is
// configured and consumes the queue with an unbounded reconnect loop: on
// connection loss it waits the fixed reconnect interval and dials again.
func (p *Process) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if p.relayCfg.HTTPListen != "" {
		srv := &http.Server{
			Addr:    p.relayCfg.HTTPListen,
			Handler: p.httpHandler(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.logger.Info("command HTTP channel listening", "addr", p.relayCfg.HTTPListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("command HTTP channel failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	p.consume(ctx)
	wg.Wait()
	return nil
}

// consume dials the broker and reads deliveries until the connection drops
// or ctx is cancelled. Reconnection is the only retry behavior: a fixed
// pause, then dial again, for the lifetime of the process.
func (p *Process) consume(ctx context.Context) {
	wait := p.relayCfg.ReconnectWaitDuration()

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.connect(ctx)
		if ctx.Err() != nil {
			p.logger.Info("shutting down", "reason", "interrupt")
			return
		}
		p.logger.Warn("queue connection lost, reconnecting", "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *Process) consumeOnce(ctx context.Context) error {
	conn, err := amqp.Dial(p.queueCfg.URL())
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(p.queueCfg.Queue, true, false, false, false, nil)
	if err != nil {
		return err
	}

	// Auto-ack is acceptable here: losing a single command on a crash is
	// tolerated and logged, and every command is forwarded before the next
	// delivery is read, so shutdown never drops one silently.
	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}

	p.logger.Info("consuming commands", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			p.Emit(string(d.Body))
		}
	}
}

// Emit logs the command and writes it verbatim, newline-terminated, to the
// output, flushing immediately. Serialized so the HTTP channel cannot
// interleave with a queue delivery mid-line.
func (p *Process) Emit(command string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("command received", "command", command)
	fmt.Fprintln(p.out, command)
	if err := p.out.Flush(); err != nil {
		p.logger.Error("failed to flush command output", "error", err)
	}
}

// httpHandler serves the HTTP command channel: POST / with a form field
// named "command".
func (p *Process) httpHandler() http.Handler {
	r := chi.NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			http.Error(w, "malformed form", http.StatusBadRequest)
			return
		}
		command := req.PostFormValue("command")
		if command == "" {
			http.Error(w, "missing command field", http.StatusBadRequest)
			return
		}
		p.Emit(command)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}
