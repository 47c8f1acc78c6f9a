package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/dispatch"
	"github.com/exafs/flowadmin/internal/model"
)

// Sweeper withdraws rules whose expiration has passed. It runs alongside
// the HTTP server and is the only writer that transitions rules to the
// expired state.
type Sweeper struct {
	store      *config.Store
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	interval   time.Duration
}

// NewSweeper creates a sweeper checking at the given interval.
func NewSweeper(store *config.Store, dispatcher dispatch.Dispatcher, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, dispatcher: dispatcher, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep withdraws every active rule past its expiration. A failed withdraw
// is logged and retried on the next tick; the rule stays active until the
// enforcement points have actually been told to drop it.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.store.ListExpiredRules(ctx, time.Now())
	if err != nil {
		s.logger.Error("expiration sweep failed", "error", err)
		return
	}

	for i := range expired {
		r := &expired[i]
		if _, err := s.dispatcher.Withdraw(ctx, r); err != nil {
			s.logger.Error("failed to withdraw expired rule", "rule_id", r.ID, "error", err)
			continue
		}
		if err := s.store.UpdateRuleState(ctx, r.ID, model.StateExpired); err != nil {
			s.logger.Error("failed to mark rule expired", "rule_id", r.ID, "error", err)
			continue
		}
		s.logger.Info("rule expired", "rule_id", r.ID, "kind", r.Kind)
	}
}
