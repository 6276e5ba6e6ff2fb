// Package cleanup provides background job-retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/herdctl/herdctl/pkg/state"
)

// DefaultInterval is how often retention is enforced when none is given to
// NewService.
const DefaultInterval = 10 * time.Minute

// Service periodically enforces a RetentionPolicy against a state store,
// deleting terminal jobs beyond the configured per-agent and total limits.
// All operations are idempotent and safe to run repeatedly; the state
// directory's single-writer lock means only one supervisor process ever
// runs this loop for a given store.
type Service struct {
	store    *state.Store
	policy   state.RetentionPolicy
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a Service. interval <= 0 uses DefaultInterval.
func NewService(store *state.Store, policy state.RetentionPolicy, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{store: store, policy: policy, interval: interval}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started", "max_per_agent", s.policy.MaxPerAgent, "max_total", s.policy.MaxTotal, "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Service) runOnce() {
	deleted, err := s.store.EnforceRetention(s.policy)
	if err != nil {
		slog.Error("retention: enforcement failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("retention: deleted terminal jobs", "count", deleted)
	}
}
