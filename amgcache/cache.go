package amgcache

import (
	"context"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/oracle"
)

// ComputeFunc computes the state of one slice on a cache miss.
type ComputeFunc func(ctx context.Context, slice int) (oracle.State, error)

// Cache reuses generator state across automatic segmentation runs. Concurrent requests for the
// same slice share one computation, different slices are computed independently.
type Cache struct {
	store    Store
	oracleID string
	clock    clock.Clock
	logger   logging.Logger
	group    singleflight.Group
}

// New returns a cache over store for the generator identified by oracleID. A nil clk uses
// the wall clock.
func New(store Store, oracleID string, clk clock.Clock, logger logging.Logger) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{store: store, oracleID: oracleID, clock: clk, logger: logger}
}

// GetOrCompute returns the cached state of slice or computes and stores it. Entries written
// by another generator or with an unsupported schema are recomputed and overwritten.
func (c *Cache) GetOrCompute(ctx context.Context, slice int, compute ComputeFunc) (oracle.State, error) {
	v, err, shared := c.group.Do(strconv.Itoa(slice), func() (interface{}, error) {
		return c.getOrCompute(ctx, slice, compute)
	})
	if err != nil {
		return oracle.State{}, err
	}
	if shared && c.logger != nil {
		c.logger.Debugw("shared amg state computation", "slice", slice)
	}
	return v.(oracle.State), nil
}

func (c *Cache) getOrCompute(ctx context.Context, slice int, compute ComputeFunc) (oracle.State, error) {
	e, err := c.store.Get(ctx, slice)
	switch {
	case err == nil && e.OracleID == c.oracleID:
		return e.State(), nil
	case err == nil:
		c.warnw("cached amg state was computed by another generator, recomputing",
			"slice", slice, "cached", e.OracleID, "current", c.oracleID)
	case errors.Is(err, ErrCacheMiss):
	case errors.Is(err, ErrVersionMismatch):
		c.warnw("cached amg state has an unsupported schema, recomputing", "slice", slice, "error", err)
	default:
		return oracle.State{}, errors.Wrapf(err, "reading amg state of slice %d", slice)
	}

	state, err := compute(ctx, slice)
	if err != nil {
		return oracle.State{}, err
	}
	entry, err := NewEntry(c.oracleID, slice, state, c.clock.Now())
	if err != nil {
		return oracle.State{}, err
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return oracle.State{}, errors.Wrapf(err, "storing amg state of slice %d", slice)
	}
	return state, nil
}

func (c *Cache) warnw(msg string, keysAndValues ...interface{}) {
	if c.logger != nil {
		c.logger.Warnw(msg, keysAndValues...)
	}
}

// Len returns the number of cached slices.
func (c *Cache) Len(ctx context.Context) (int, error) {
	slices, err := c.store.Slices(ctx)
	return len(slices), err
}

// Clear drops every cached entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
