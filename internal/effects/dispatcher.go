// Package effects applies transaction balance effects to account
// balances. The dispatcher is synchronous — the caller gets the final
// error and can retry — but applications are idempotent, keyed by
// transaction id + operation, so a retried or duplicated dispatch never
// double-counts.
package effects

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/infra/observability"
	"github.com/mfbaptista/billcycle/internal/infra/resilience"
	"github.com/mfbaptista/billcycle/internal/port"
)

var effectTracer = otel.Tracer("effects/dispatcher")

// Dispatcher applies balance effects with retry, a circuit breaker in
// front of the store, and duplicate suppression.
type Dispatcher struct {
	balances port.BalanceAdjuster
	breaker  *gobreaker.CircuitBreaker
	cfg      resilience.Config
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewDispatcher creates a dispatcher over the given balance store.
func NewDispatcher(balances port.BalanceAdjuster, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		balances: balances,
		breaker:  resilience.NewCircuitBreaker("balance-store"),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		applied:  make(map[string]struct{}),
	}
}

// Apply applies one balance effect. A repeated key is a no-op; applying
// an operation clears its inverse key so paid/unpaid cycles can repeat.
// For cross-account updates the two mutations are applied sequentially;
// a failure after the first leaves it applied and returns the error
// (the caller retries under the same key — the key is only recorded
// once every delta landed).
func (d *Dispatcher) Apply(ctx context.Context, effect domain.BalanceEffect) error {
	ctx, span := effectTracer.Start(ctx, "Dispatcher.Apply")
	defer span.End()

	key := effect.Key()

	d.mu.Lock()
	if _, dup := d.applied[key]; dup {
		d.mu.Unlock()
		d.metrics.IncrBalanceEffect("duplicate")
		d.logger.Debug("duplicate balance effect suppressed", zap.String("key", key))
		return nil
	}
	d.mu.Unlock()

	deltas, err := effect.Deltas()
	if err != nil {
		return err
	}

	for _, delta := range deltas {
		delta := delta
		err := resilience.RetryWithBackoff(ctx, d.cfg, func() error {
			_, berr := d.breaker.Execute(func() (any, error) {
				return d.balances.AdjustBalance(ctx, delta.AccountID, delta.Delta)
			})
			return berr
		})
		if err != nil {
			d.metrics.IncrBalanceEffect("failed")
			d.logger.Error("balance effect failed",
				zap.String("key", key),
				zap.String("account_id", delta.AccountID),
				zap.String("delta", delta.Delta.StringFixed(2)),
				zap.Error(err),
			)
			return fmt.Errorf("apply balance effect %s: %w", key, err)
		}
	}

	d.mu.Lock()
	d.applied[key] = struct{}{}
	if inv := effect.InverseKey(); inv != "" {
		delete(d.applied, inv)
	}
	d.mu.Unlock()

	d.metrics.IncrBalanceEffect("applied")
	d.logger.Info("balance effect applied",
		zap.String("key", key),
		zap.String("account_id", effect.AccountID),
		zap.String("amount", effect.Amount.StringFixed(2)),
		zap.String("kind", string(effect.Kind)),
	)
	return nil
}
