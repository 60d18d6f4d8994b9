// Package service implements the billing-cycle engine: statement
// assembly and generation, settlement, balance effects, savings
// ledgers, and account aggregates.
package service

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/infra/cache"
	"github.com/mfbaptista/billcycle/internal/infra/observability"
	"github.com/mfbaptista/billcycle/internal/infra/resilience"
	"github.com/mfbaptista/billcycle/internal/port"
)

var engineTracer = otel.Tracer("service/engine")

const currentStatementCache = "current_statement"

// Options tunes the engine's generation horizon and locking.
type Options struct {
	// MonthsAhead is how many future months the generator walks.
	MonthsAhead int
	// CacheTTL bounds staleness of current-statement reads.
	CacheTTL time.Duration
	// LockWait bounds how long a caller waits on a per-group lock.
	LockWait time.Duration
}

// EngineService is the application core. All methods take the owner id
// explicitly and enforce ownership on every loaded entity.
type EngineService struct {
	store   port.EngineStore
	effects port.EffectApplier
	opts    Options

	stmtCache *cache.InMemory[*domain.Statement]
	locks     *resilience.KeyedLimiter

	metrics *observability.Metrics
	logger  *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New wires the engine over a store and an effect applier.
func New(store port.EngineStore, effects port.EffectApplier, opts Options, metrics *observability.Metrics, logger *zap.Logger) *EngineService {
	if opts.MonthsAhead <= 0 {
		opts.MonthsAhead = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &EngineService{
		store:     store,
		effects:   effects,
		opts:      opts,
		stmtCache: cache.New[*domain.Statement](opts.CacheTTL),
		locks:     resilience.NewKeyedLimiter(opts.LockWait),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Close releases background resources.
func (s *EngineService) Close() {
	s.stmtCache.Close()
}

// groupKey identifies one statement grouping for locking and caching.
func groupKey(ownerID string, accountID *string) string {
	if accountID == nil {
		return ownerID + ":unassigned"
	}
	return ownerID + ":" + *accountID
}
