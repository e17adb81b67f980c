package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Registry dispatches to a per-network oracle. Networks without an entry
// use the fallback; with no fallback the token is reported as missing.
type Registry struct {
	networks map[int64]Oracle
	fallback Oracle
}

// NewRegistry creates a registry with an optional fallback.
func NewRegistry(fallback Oracle) *Registry {
	return &Registry{networks: make(map[int64]Oracle), fallback: fallback}
}

// Register binds an oracle to a network id.
func (r *Registry) Register(networkID int64, o Oracle) {
	r.networks[networkID] = o
}

func (r *Registry) lookup(networkID int64) Oracle {
	if o, ok := r.networks[networkID]; ok {
		return o
	}
	return r.fallback
}

// Exists implements Oracle.
func (r *Registry) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	o := r.lookup(ref.NetworkID)
	if o == nil {
		return false, nil
	}
	return o.Exists(ctx, ref)
}

// OwnerOf implements OwnerResolver.
func (r *Registry) OwnerOf(ctx context.Context, ref TokenRef) (string, error) {
	o := r.lookup(ref.NetworkID)
	if o == nil {
		return "", nil
	}
	owner, _ := Owner(ctx, o, ref)
	return owner, nil
}

// Close closes every registered oracle that holds a connection.
func (r *Registry) Close() {
	for _, o := range r.networks {
		if c, ok := o.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Cached memoizes definite answers for a bounded time. Errors are never cached.
type Cached struct {
	next  Oracle
	cache *expirable.LRU[TokenRef, bool]
}

// NewCached wraps next with an LRU of the given size and TTL.
func NewCached(next Oracle, size int, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: expirable.NewLRU[TokenRef, bool](size, nil, ttl)}
}

// Exists implements Oracle.
func (c *Cached) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	if v, ok := c.cache.Get(ref); ok {
		return v, nil
	}
	v, err := c.next.Exists(ctx, ref)
	if err != nil {
		return false, err
	}
	c.cache.Add(ref, v)
	return v, nil
}

// OwnerOf implements OwnerResolver. Ownership changes, so it is not cached.
func (c *Cached) OwnerOf(ctx context.Context, ref TokenRef) (string, error) {
	owner, _ := Owner(ctx, c.next, ref)
	return owner, nil
}

// Purge drops every cached answer.
func (c *Cached) Purge() { c.cache.Purge() }

// RateLimited bounds the call rate to the wrapped oracle.
type RateLimited struct {
	next    Oracle
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimited allows rps calls per second with the given burst.
func NewRateLimited(next Oracle, rps float64, burst int, logger *zap.Logger) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst), logger: logger}
}

// Exists implements Oracle.
func (l *RateLimited) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	if err := l.wait(ctx); err != nil {
		return false, err
	}
	return l.next.Exists(ctx, ref)
}

// OwnerOf implements OwnerResolver.
func (l *RateLimited) OwnerOf(ctx context.Context, ref TokenRef) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	owner, _ := Owner(ctx, l.next, ref)
	return owner, nil
}

func (l *RateLimited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait fails early when the deadline cannot be met.
		l.logger.Warn("oracle rate limit exceeded", zap.Error(err))
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Instrumented records the outcome and latency of every existence check.
type Instrumented struct {
	next    Oracle
	metrics *metrics.Metrics
}

// NewInstrumented wraps next with oracle metrics.
func NewInstrumented(next Oracle, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

// Exists implements Oracle.
func (i *Instrumented) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, ref)
	result := "missing"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "exists"
	}
	i.metrics.OracleCheckTotal.WithLabelValues(result).Inc()
	i.metrics.OracleCheckDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return ok, err
}

// OwnerOf implements OwnerResolver.
func (i *Instrumented) OwnerOf(ctx context.Context, ref TokenRef) (string, error) {
	owner, _ := Owner(ctx, i.next, ref)
	return owner, nil
}
