package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/store"
)

// DefaultSweepInterval is how often the sweeper runs when not configured.
const DefaultSweepInterval = 5 * time.Minute

// SweeperService periodically deletes expired magic links so the store
// does not grow without bound. Correctness never depends on it running;
// expired links are rejected on read regardless.
type SweeperService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeperService creates a sweeper. A non-positive interval means
// DefaultSweepInterval.
func NewSweeperService(st store.Store, logger *slog.Logger, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SweeperService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. It sweeps once straight away, then
// every Interval until Stop.
func (s *SweeperService) Start() {
	go s.run()
	s.Logger.Info("sweeper started", "interval", s.Interval)
}

// Stop shuts the worker down, waiting for an in-progress sweep to finish.
// Safe to call more than once.
func (s *SweeperService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("sweeper stopped")
	})
}

// RunOnce deletes every link expired as of now and reports how many went.
func (s *SweeperService) RunOnce(ctx context.Context) (int64, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	n, err := s.Store.MagicLinks().DeleteExpired(ctx, now().UTC())
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SweeperService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *SweeperService) sweep() {
	// A sweep must not hang past a full interval on a stalled store.
	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()

	n, err := s.RunOnce(ctx)
	if err != nil {
		s.Logger.Error("sweep failed", "error", err)
		return
	}
	s.Logger.Debug("sweep completed", "deleted", n)
}
