package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/singleflight"
)

// CacheResult carries a verdict plus whether it was served without a fresh
// classification.
type CacheResult struct {
	Verdict *Verdict
	// Hit is true when the verdict came from the store or from another
	// in-flight caller on the same fingerprint.
	Hit bool
}

// Cache fronts a Store with in-flight deduplication: at most one compute
// runs per fingerprint, and concurrent callers for the same fingerprint
// wait for the first caller's result instead of duplicating work.
type Cache struct {
	store  Store
	group  singleflight.Group
	logger log.Logger
}

// NewCache wraps a Store.
func NewCache(store Store, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.Nop()
	}
	return &Cache{store: store, logger: logger}
}

// GetOrCompute returns the cached verdict for a fingerprint or invokes
// compute exactly once to produce it. Store failures degrade to computing
// (logged, never job-fatal); compute errors are not cached, so a later run
// may retry the fingerprint.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute func(ctx context.Context) (*Verdict, error)) (*CacheResult, error) {
	type flight struct {
		verdict *Verdict
		hit     bool
	}

	// ran tells this caller whether its own closure executed; when another
	// in-flight caller's closure produced the result, this is a hit for us.
	ran := false

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		ran = true
		if cached, ok, err := c.store.Get(ctx, fingerprint); err != nil {
			c.logger.Error(ctx, err, "verdict store read failed", "fingerprint", fingerprint)
		} else if ok {
			return &flight{verdict: cached, hit: true}, nil
		}

		verdict, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(ctx, fingerprint, verdict); err != nil {
			c.logger.Error(ctx, err, "verdict store write failed", "fingerprint", fingerprint)
		}
		return &flight{verdict: verdict}, nil
	})
	if err != nil {
		return nil, err
	}

	fl := v.(*flight)
	return &CacheResult{
		Verdict: fl.verdict,
		Hit:     fl.hit || !ran,
	}, nil
}
