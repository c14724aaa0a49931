package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/inventory"
	"github.com/NAVEED261/Reusable-shop/internal/orders"
)

// Sweeper fails orders whose reservation TTL ran out before payment and
// returns their stock. A webhook racing the sweep wins harmlessly: the
// version check fails the sweep side and the order keeps its paid state.
type Sweeper struct {
	svc      *orders.Service
	store    orders.Store
	ledger   inventory.Ledger
	gateway  orders.PaymentGateway
	interval time.Duration
	batch    int
	logger   *zap.Logger
	swept    prometheus.Counter
	now      func() time.Time
}

func NewSweeper(svc *orders.Service, store orders.Store, ledger inventory.Ledger, gateway orders.PaymentGateway, interval time.Duration, batch int, logger *zap.Logger, swept prometheus.Counter) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		svc:      svc,
		store:    store,
		ledger:   ledger,
		gateway:  gateway,
		interval: interval,
		batch:    batch,
		logger:   logger,
		swept:    swept,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reservation sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single pass: expired unpaid orders are failed and
// released, then holds orphaned by a crashed release are returned.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	expired, err := s.store.SweepCandidates(ctx, s.now(), s.batch)
	if err != nil {
		return err
	}
	for _, o := range expired {
		s.sweepOrder(ctx, o)
	}

	orphans, err := s.store.OrphanedHolds(ctx, s.batch)
	if err != nil {
		return err
	}
	for _, orderID := range orphans {
		if err := s.ledger.Release(ctx, orderID); err != nil {
			s.logger.Error("release orphaned hold failed", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		s.logger.Info("released orphaned hold", zap.String("order_id", orderID))
	}
	return nil
}

func (s *Sweeper) sweepOrder(ctx context.Context, o *orders.Order) {
	_, err := s.svc.TransitionState(ctx, o.ID, orders.StatusFailed, o.Version, "reservation expired")
	if err != nil {
		if errors.Is(err, orders.ErrConflict) {
			// Lost the race to a webhook; that outcome stands.
			s.logger.Info("sweep skipped, order moved concurrently", zap.String("order_id", o.ID))
			return
		}
		s.logger.Error("sweep transition failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}

	if err := s.ledger.Release(ctx, o.ID); err != nil {
		// Picked up as an orphaned hold on a later pass.
		s.logger.Error("sweep release failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	if o.PaymentIntentID != "" {
		if err := s.gateway.CancelIntent(ctx, o.PaymentIntentID); err != nil {
			s.logger.Warn("sweep intent cancel failed",
				zap.String("order_id", o.ID), zap.String("intent_id", o.PaymentIntentID), zap.Error(err))
		}
	}
	if s.swept != nil {
		s.swept.Inc()
	}
	s.logger.Info("expired order swept",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)))
}
