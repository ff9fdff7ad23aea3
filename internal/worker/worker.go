package worker

import (
	"context"
	"sync"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

const sweeperLockKey = "pending-sweeper"

// PendingLister finds orders still waiting on a confirmation
type PendingLister interface {
	ListPendingOrders(ctx context.Context, createdBefore time.Time, after models.PendingCursor, limit int) ([]models.Order, error)
}

// Poller re-verifies a single order
type Poller interface {
	ReconcileByPoll(ctx context.Context, reference string) (*service.Resolution, error)
}

// Locker elects one sweeper across instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

type SweeperConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// PendingSweeper periodically polls the gateway for orders whose buyer never
// came back to the callback page and whose webhook never arrived. Each sweep
// resumes after the last order of the previous batch and wraps around once
// the listing is exhausted, so orders that stay pending forever cannot crowd
// out newer ones.
type PendingSweeper struct {
	orders PendingLister
	poller Poller
	locker Locker
	cfg    SweeperConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cursor models.PendingCursor
}

// NewPendingSweeper creates a sweeper. locker may be nil for a single instance.
func NewPendingSweeper(orders PendingLister, poller Poller, locker Locker, cfg SweeperConfig) *PendingSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &PendingSweeper{
		orders: orders,
		poller: poller,
		locker: locker,
		cfg:    cfg,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Start runs a sweep every interval until ctx is cancelled
func (s *PendingSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting pending order sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("min_age", s.cfg.MinAge))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-verifies one batch of stale pending orders and returns how many it polled
func (s *PendingSweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "PendingSweeper.Sweep")
	defer span.End()

	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, sweeperLockKey, s.cfg.Interval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			s.logger.Debug("Another instance holds the sweeper lock")
			return 0, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), sweeperLockKey); err != nil {
				s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.orders.ListPendingOrders(ctx, s.now().Add(-s.cfg.MinAge), s.cursor, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	polled := 0
	for i := range orders {
		order := &orders[i]
		if ctx.Err() != nil {
			break
		}

		res, err := s.poller.ReconcileByPoll(ctx, order.Reference)
		polled++
		s.cursor = models.CursorAt(order)
		if err != nil {
			util.SweeperReconciledTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Sweeper poll failed",
				zap.String("reference", order.Reference),
				zap.Error(err))
			continue
		}
		util.SweeperReconciledTotal.WithLabelValues(string(res.Outcome)).Inc()
	}

	// a short batch means the listing is exhausted; start over next time
	if polled == len(orders) && len(orders) < s.cfg.BatchSize {
		s.cursor = models.PendingCursor{}
	}

	if polled > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("polled", polled),
			zap.Bool("wrapped", s.cursor.IsZero()))
	}
	return polled, nil
}
