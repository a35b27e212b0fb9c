package reservation

import (
	"context"
	"sync"
	"time"

	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	"github.com/schooleats/orderflow/internal/pkg/keylock"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sweeper expires held reservations past their TTL. It takes the same
// per-order lock as the orchestrator before touching a reservation, so expiry
// never races a late-arriving webhook confirmation.
type Sweeper struct {
	manager  *Manager
	locks    *keylock.KeyLock
	interval time.Duration
	log      *zap.Logger
	expired  prometheus.Counter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSweeper(manager *Manager, locks *keylock.KeyLock, interval time.Duration, logger *zap.Logger, expired prometheus.Counter) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		manager:  manager,
		locks:    locks,
		interval: interval,
		log:      logger.With(zap.String("component", "reservation_sweeper")),
		expired:  expired,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go s.loop(bg)
		s.log.Info("reservation_sweeper_started", zap.Duration("interval", s.interval))
	})
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		s.log.Info("reservation_sweeper_stopped")
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
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

// Sweep expires every lapsed hold it can find. Exported so tests and the
// lazy path can drive it without the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	lapsed, err := s.manager.repo.ListHeldExpiredBefore(ctx, now)
	if err != nil {
		s.log.Error("reservation_sweep_list_failed", zap.Error(err))
		return
	}

	for _, r := range lapsed {
		s.expireOne(ctx, r.OrderID)
	}
}

func (s *Sweeper) expireOne(ctx context.Context, orderID string) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	// Re-read under the lock: a confirm may have won the race.
	r, err := s.manager.repo.Get(ctx, orderID)
	if err != nil {
		s.log.Error("reservation_sweep_lookup_failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if r.Status != domres.StatusHeld || !r.ExpiredAt(time.Now().UTC()) {
		return
	}

	if err := s.manager.expire(ctx, r); err != nil {
		s.log.Error("reservation_expire_failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if s.expired != nil {
		s.expired.Inc()
	}
	s.log.Info("reservation_expired", zap.String("order_id", orderID))
}
