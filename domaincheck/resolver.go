// domaincheck/resolver.go
package domaincheck

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/mailsieve/metrics"
	"github.com/dalemusser/mailsieve/pantry/cache"
	"github.com/dalemusser/mailsieve/pantry/validate"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Resolver checks domains against the trusted set and DNS, memoizing every
// result in a run-scoped cache. It is safe for concurrent use; each distinct
// domain is looked up at most once per cache lifetime.
type Resolver struct {
	trusted TrustedSet
	cache   cache.Cache
	lookup  Lookuper
	timeout time.Duration
	workers int
	metrics *metrics.Sieve
	logger  *zap.Logger

	flight singleflight.Group

	// prefetched holds domains resolved by Prefetch whose first read has
	// not happened yet; that read is not a cache hit.
	prefetched sync.Map
}

// Options configures a Resolver. Only Lookup is required.
type Options struct {
	Trusted TrustedSet
	Cache   cache.Cache    // default: cache.NewMemory()
	Lookup  Lookuper       // A and MX queries
	Timeout time.Duration  // per lookup; default 5s
	Workers int            // Prefetch concurrency; default 1
	Metrics *metrics.Sieve // optional
	Logger  *zap.Logger    // optional
}

// NewResolver builds a Resolver from opts.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Lookup == nil {
		return nil, errors.New("domaincheck: lookuper required")
	}
	if opts.Trusted == nil {
		opts.Trusted = TrustedSet{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Resolver{
		trusted: opts.Trusted,
		cache:   opts.Cache,
		lookup:  opts.Lookup,
		timeout: opts.Timeout,
		workers: opts.Workers,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}, nil
}

// Resolve returns the Result for domain, from cache when possible.
// DNS failures of any kind count as "no record"; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, domain string) Result {
	domain = NormalizeDomain(domain)

	if res, ok := r.cached(ctx, domain); ok {
		if _, first := r.prefetched.LoadAndDelete(domain); !first {
			r.metrics.CacheHit()
		}
		return res
	}

	v, _, _ := r.flight.Do(domain, func() (interface{}, error) {
		// A flight that finished between our cache miss and Do has already
		// stored its result.
		if res, ok := r.cached(ctx, domain); ok {
			return res, nil
		}
		res := r.compute(ctx, domain)
		// Lookups cut short by cancellation say nothing about the domain.
		if ctx.Err() != nil {
			return res, nil
		}
		if err := cache.SetJSON(ctx, r.cache, domain, res); err != nil {
			r.logger.Warn("domain cache write failed", zap.String("domain", domain), zap.Error(err))
		}
		return res, nil
	})
	return v.(Result)
}

// Prefetch resolves the distinct, not yet cached domains concurrently, with
// at most Workers lookups in flight. Later Resolve calls for these domains
// are served from cache; only repeats after the first count as cache hits. It returns when all started lookups finish or ctx ends.
func (r *Resolver) Prefetch(ctx context.Context, domains []string) {
	sem := semaphore.NewWeighted(int64(r.workers))
	var wg sync.WaitGroup

	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = NormalizeDomain(d)
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}

		if _, ok := r.cached(ctx, d); ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer sem.Release(1)
			r.Resolve(ctx, domain)
			if ctx.Err() == nil {
				r.prefetched.Store(domain, struct{}{})
			}
		}(d)
	}
	wg.Wait()
}

// Cached reports how many domains the cache holds.
func (r *Resolver) Cached(ctx context.Context) int {
	n, err := r.cache.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (r *Resolver) cached(ctx context.Context, domain string) (Result, bool) {
	res, err := cache.GetJSON[Result](ctx, r.cache, domain)
	if err == nil {
		return res, true
	}
	if !errors.Is(err, cache.ErrNotFound) {
		r.logger.Warn("domain cache read failed", zap.String("domain", domain), zap.Error(err))
	}
	return Result{}, false
}

// compute builds a fresh Result. Invalid syntax skips the network entirely;
// trusted providers are assumed reachable without a lookup.
func (r *Resolver) compute(ctx context.Context, domain string) Result {
	var res Result

	res.SyntaxOK = validate.IsValidDomainSyntax(domain)
	if !res.SyntaxOK {
		return res
	}

	if r.trusted.Contains(domain) {
		res.TrustedProvider = true
		res.DNS = true
		res.MX = true
		return res
	}

	res.DNS = r.hasA(ctx, domain)
	if res.DNS {
		res.MX = r.hasMX(ctx, domain)
	}

	r.logger.Debug("domain resolved",
		zap.String("domain", domain),
		zap.Bool("a", res.DNS),
		zap.Bool("mx", res.MX),
	)
	return res
}

func (r *Resolver) hasA(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ips, err := r.lookup.LookupIP(ctx, "ip4", domain)
	ok := err == nil && len(ips) > 0
	if err != nil {
		r.logger.Debug("A lookup failed", zap.String("domain", domain), zap.Error(err))
	}
	r.metrics.Lookup("a", ok)
	return ok
}

func (r *Resolver) hasMX(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mxs, err := r.lookup.LookupMX(ctx, domain)
	ok := err == nil && len(mxs) > 0
	if err != nil {
		r.logger.Debug("MX lookup failed", zap.String("domain", domain), zap.Error(err))
	}
	r.metrics.Lookup("mx", ok)
	return ok
}
