package chronicle

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/INLOpen/chronicle/cache"
	"github.com/INLOpen/chronicle/region"
	"github.com/INLOpen/chronicle/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// regionCache bounds the number of mapped regions of one kind. The cache owns
// one reference to every region it holds; callers get their own reference from
// get and must Release it.
type regionCache[K comparable] struct {
	lock    cache.SpinLock
	regions *cache.Bounded[K, *region.Region]
	logger  *slog.Logger
}

func newRegionCache[K comparable](capacity int, logger *slog.Logger, hits, misses, evictions *expvar.Int) *regionCache[K] {
	c := &regionCache[K]{logger: logger}
	c.regions = cache.NewBounded[K, *region.Region](capacity,
		cache.WithValidator[K](func(r *region.Region) bool { return r != nil }),
		cache.WithOnEvicted(func(_ K, r *region.Region) {
			if err := r.Release(); err != nil {
				logger.Warn("Failed to release evicted region.", "path", r.Path(), "error", err)
			}
		}),
		cache.WithMetrics[K, *region.Region](hits, misses, evictions),
	)
	return c
}

// get returns a retained region for key, opening it with open on a miss. A nil
// region with a nil error means the file does not exist.
func (c *regionCache[K]) get(key K, open func(K) (*region.Region, error)) (*region.Region, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	r, err := c.regions.Get(key, open)
	if err != nil || r == nil {
		return nil, err
	}
	return r.Retain(), nil
}

func (c *regionCache[K]) close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.regions.Len() > 0 {
		c.logger.Debug("Releasing cached regions.", "keys", c.regions.Keys())
	}
	c.regions.Clear()
}

// storeBase is shared by IndexStore and DataStore.
type storeBase struct {
	settings   Settings
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	regionOpts []region.Option
}

func (b *storeBase) cycleDir(cycle int64) string {
	return filepath.Join(b.settings.Path, b.settings.Formatter.DateFromCycle(cycle))
}

// openRegion maps name inside the directory of cycle. When create is false and
// the file is missing it returns nil without error and creates nothing.
func (b *storeBase) openRegion(ctx context.Context, spanName string, cycle int64, name string, size int64, index int32, create bool) (*region.Region, error) {
	dir := b.cycleDir(cycle)
	path := filepath.Join(dir, name)
	if !create {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	_, span := b.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chronicle.cycle", cycle),
		attribute.String("chronicle.path", path),
		attribute.Bool("chronicle.create", create),
	)

	if create {
		if err := sys.MkdirAll(dir, 0755); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mkdir_failed")
			return nil, fmt.Errorf("failed to create cycle directory %s: %w", dir, err)
		}
	}
	r, err := region.Open(path, size, index, b.regionOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "map_failed")
		return nil, err
	}
	return r, nil
}

// highestSuffix returns the largest integer n such that dir contains a file
// named prefix+n, or -1.
func highestSuffix(dir, prefix string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return -1
	}
	last := int64(-1)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.ParseInt(name[len(prefix):], 10, 32)
		if err != nil || n < 0 {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last
}
