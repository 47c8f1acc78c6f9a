package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/exafs/flowadmin/internal/model"
)

// DispatchError is the failure of a single delivery attempt to one backend.
// Unreachable distinguishes a connection failure from an endpoint that
// answered with an error status.
type DispatchError struct {
	Target      string // "queue" or "ddos"
	Op          string // "announce", "withdraw", "create", "delete"
	Unreachable bool
	StatusCode  int
	Err         error
}

func (e *DispatchError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("dispatch %s to %s: endpoint unreachable: %v", e.Op, e.Target, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch %s to %s: endpoint returned status %d", e.Op, e.Target, e.StatusCode)
	}
	return fmt.Sprintf("dispatch %s to %s: %v", e.Op, e.Target, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err is a remote rejection because the rule
// already exists on the backend (HTTP 409).
func IsAlreadyExists(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.StatusCode == 409
}

// Result reports the outcome of one dispatch call.
type Result struct {
	// Skipped is set by the testing-mode dispatcher: nothing was sent and
	// that is deliberate, not a network failure.
	Skipped bool `json:"skipped"`
	// Command is the serialized line handed to the command sink.
	Command string `json:"command,omitempty"`
	// RemoteID is the id the DDoS backend assigned on create.
	RemoteID string `json:"remote_id,omitempty"`
}

// Dispatcher forwards an accepted rule to the configured enforcement
// backends. Delivery is at most once per call; the relay never retries,
// leaving the keep-or-rollback decision to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *model.Rule) (*Result, error)
	Withdraw(ctx context.Context, r *model.Rule) (*Result, error)
}

// Sink carries a serialized command toward the BGP speaker.
type Sink interface {
	Send(ctx context.Context, command string) error
}

// Remote is the DDoS-protection backend contract.
type Remote interface {
	CreateRule(ctx context.Context, r *model.Rule) (string, error)
	DeleteRule(ctx context.Context, remoteID string) error
}

// Relay is the production Dispatcher. Either backend may be nil when not
// configured; a nil backend is simply not addressed.
type Relay struct {
	sink   Sink
	remote Remote
	logger *slog.Logger
}

// NewRelay creates a Relay over the given backends.
func NewRelay(sink Sink, remote Remote, logger *slog.Logger) *Relay {
	return &Relay{sink: sink, remote: remote, logger: logger}
}

// Dispatch announces the rule to the command sink and creates it on the
// remote backend. The first backend failure aborts the call; the returned
// Result still reports anything that did go out.
func (d *Relay) Dispatch(ctx context.Context, r *model.Rule) (*Result, error) {
	res := &Result{Command: Format(r, true)}

	if d.sink != nil {
		if err := d.sink.Send(ctx, res.Command); err != nil {
			return res, err
		}
		d.logger.Info("rule announced", "rule_id", r.ID, "kind", r.Kind)
	}

	if d.remote != nil {
		remoteID, err := d.remote.CreateRule(ctx, r)
		if err != nil {
			return res, err
		}
		res.RemoteID = remoteID
		d.logger.Info("rule created remotely", "rule_id", r.ID, "remote_id", remoteID)
	}

	return res, nil
}

// Withdraw retracts the rule from both backends. The remote delete is keyed
// by the id stored at create time; a rule never created remotely skips it.
func (d *Relay) Withdraw(ctx context.Context, r *model.Rule) (*Result, error) {
	res := &Result{Command: Format(r, false)}

	if d.sink != nil {
		if err := d.sink.Send(ctx, res.Command); err != nil {
			return res, err
		}
		d.logger.Info("rule withdrawn", "rule_id", r.ID, "kind", r.Kind)
	}

	if d.remote != nil && r.RemoteID != "" {
		if err := d.remote.DeleteRule(ctx, r.RemoteID); err != nil {
			return res, err
		}
		d.logger.Info("rule deleted remotely", "rule_id", r.ID, "remote_id", r.RemoteID)
	}

	return res, nil
}

// NullDispatcher is selected by the testing-mode config flag. Every call
// succeeds without touching the network and returns a Result marked Skipped
// so callers can tell offline mode from a delivery.
type NullDispatcher struct {
	logger *slog.Logger
}

// NewNullDispatcher creates the testing-mode dispatcher.
func NewNullDispatcher(logger *slog.Logger) *NullDispatcher {
	return &NullDispatcher{logger: logger}
}

func (d *NullDispatcher) Dispatch(ctx context.Context, r *model.Rule) (*Result, error) {
	d.logger.Info("dispatch skipped (testing mode)", "rule_id", r.ID, "kind", r.Kind)
	return &Result{Skipped: true, Command: Format(r, true)}, nil
}

func (d *NullDispatcher) Withdraw(ctx context.Context, r *model.Rule) (*Result, error) {
	d.logger.Info("withdraw skipped (testing mode)", "rule_id", r.ID, "kind", r.Kind)
	return &Result{Skipped: true, Command: Format(r, false)}, nil
}
