package dispatch

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/exafs/flowadmin/internal/config"
)

// CommandSink publishes serialized commands to the RabbitMQ queue the echo
// process consumes. Each send opens its own connection: the portal is
// request-scoped and a dropped broker between requests must not leave a
// poisoned shared channel behind.
type CommandSink struct {
	cfg    config.QueueConfig
	logger *slog.Logger
}

// NewCommandSink creates a sink for the configured queue.
func NewCommandSink(cfg config.QueueConfig, logger *slog.Logger) *CommandSink {
	return &CommandSink{cfg: cfg, logger: logger}
}

// Send publishes one command to the queue. A broker connection failure is a
// DispatchError with Unreachable set; the sink never retries.
func (s *CommandSink) Send(ctx context.Context, command string) error {
	conn, err := amqp.Dial(s.cfg.URL())
	if err != nil {
		return &DispatchError{Target: "queue", Op: "publish", Unreachable: true, Err: err}
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return &DispatchError{Target: "queue", Op: "publish", Err: err}
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return &DispatchError{Target: "queue", Op: "publish", Err: err}
	}

	err = ch.PublishWithContext(ctx, "", s.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(command),
	})
	if err != nil {
		return &DispatchError{Target: "queue", Op: "publish", Err: err}
	}

	s.logger.Debug("command published", "queue", s.cfg.Queue, "command", command)
	return nil
}
