// Package chronicle implements a memory-mapped, append-only log that many
// writers in many processes can append to without locks, while any number of
// readers tail it.
//
// Records ("excerpts") live in per-writer data files; a per-cycle index maps
// each dense 64-bit logical index to a record. Writers publish a record by a
// release store of its complemented length and then claim an index slot by CAS.
// Readers acquire-load the slot and the length and never observe a partial
// record.
package chronicle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/INLOpen/chronicle/cycle"
	"github.com/INLOpen/chronicle/region"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// noIndex marks an unset high-water mark. Indices of pre-epoch cycles are
// negative, so -1 cannot serve.
const noIndex = math.MinInt64

// Clock supplies the current time used to pick the cycle for new excerpts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options carries the ambient dependencies of a Chronicle. Zero values select
// defaults.
type Options struct {
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
	Clock          Clock
}

type Option func(*Options)

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithMetrics(m *Metrics) Option { return func(o *Options) { o.Metrics = m } }

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

func WithClock(c Clock) Option { return func(o *Options) { o.Clock = c } }

// Chronicle ties the index and data stores of one directory together. It is
// safe for concurrent use; Appenders and Tailers are not and belong to a single
// goroutine at a time.
type Chronicle struct {
	settings Settings
	layout   layout
	index    *IndexStore
	data     *DataStore

	lastWritten atomic.Int64
	closed      atomic.Bool

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	clock   Clock
}

// Open validates settings and prepares a chronicle. Nothing is created on disk
// until the first excerpt is started.
func Open(settings Settings, opts ...Option) (*Chronicle, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}

	var logger *slog.Logger
	if o.Logger != nil {
		logger = o.Logger.With("component", "Chronicle")
	} else {
		logger = slog.Default().With("component", "Chronicle")
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(false, "")
	}
	o.Metrics.publishFormatter(settings.Formatter)
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	var tracer trace.Tracer
	if o.TracerProvider != nil {
		tracer = o.TracerProvider.Tracer("github.com/INLOpen/chronicle/chronicle")
	} else {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	c := &Chronicle{
		settings: settings,
		layout:   newLayout(settings),
		logger:   logger,
		metrics:  o.Metrics,
		tracer:   tracer,
		clock:    o.Clock,
	}
	c.lastWritten.Store(noIndex)

	regionOpts := []region.Option{
		region.WithPreallocate(settings.Preallocate),
		region.WithLogger(logger),
		region.WithHooks(
			func(*region.Region) { c.metrics.RegionsMapped.Add(1) },
			func(*region.Region) { c.metrics.RegionsUnmapped.Add(1) },
		),
	}
	base := storeBase{settings: settings, tracer: tracer, metrics: o.Metrics, regionOpts: regionOpts}

	indexBase := base
	indexBase.logger = logger.With("sub_component", "IndexStore")
	c.index = newIndexStore(indexBase)

	dataBase := base
	dataBase.logger = logger.With("sub_component", "DataStore")
	c.data = newDataStore(dataBase)

	logger.Debug("Chronicle opened.", "path", settings.Path,
		"entries_bits", c.layout.entriesBits,
		"index_longs_bits", c.layout.indexLongsBits,
		"data_block_bits", c.layout.dataBlockBits)
	return c, nil
}

func (c *Chronicle) Settings() Settings { return c.settings }
func (c *Chronicle) Metrics() *Metrics  { return c.metrics }
func (c *Chronicle) Index() *IndexStore { return c.index }
func (c *Chronicle) Data() *DataStore   { return c.data }

// LastWrittenIndex is the highest logical index finished through this
// Chronicle, or -1.
func (c *Chronicle) LastWrittenIndex() int64 {
	if v, ok := c.highWaterMark(); ok {
		return v
	}
	return -1
}

func (c *Chronicle) highWaterMark() (int64, bool) {
	v := c.lastWritten.Load()
	return v, v != noIndex
}

// publish raises the high-water mark to index unless it is already higher.
func (c *Chronicle) publish(index int64) {
	for {
		cur := c.lastWritten.Load()
		if cur >= index || c.lastWritten.CompareAndSwap(cur, index) {
			return
		}
	}
}

// LastIndex scans the disk for the last written logical index: the last cycle,
// its last index file, and the number of entries in it. An empty last index
// file means the file before it filled up exactly; an empty first file of a
// cycle sends the scan to the previous cycle. It returns -1 for an empty
// chronicle.
func (c *Chronicle) LastIndex() (int64, error) {
	cy, ok := c.index.FindLastCycle()
	for ok {
		lastFile := c.index.LastIndexFileNumber(cy, -1)
		if lastFile >= 0 {
			r, err := c.index.RegionFor(context.Background(), cy, lastFile, false)
			if err != nil {
				return -1, err
			}
			if r != nil {
				n := CountEntries(r)
				_ = r.Release()
				if n > 0 || lastFile > 0 {
					return c.layout.logicalIndex(cy, lastFile, 0) + n - 1, nil
				}
			}
		}
		cy, ok = c.index.PreviousCycle(cy)
	}
	return -1, nil
}

func (c *Chronicle) cycleForNow() int64 {
	return cycle.ForNow(c.settings.CycleLength, c.clock.Now())
}

// NewTailer returns an unpositioned reader.
func (c *Chronicle) NewTailer() *Tailer {
	return newTailer(c)
}

// Close releases the chronicle's cached regions. Appenders and Tailers keep the
// regions they hold mapped until they are closed themselves.
func (c *Chronicle) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.New("chronicle: already closed")
	}
	c.index.Close()
	c.data.Close()
	c.logger.Debug("Chronicle closed.")
	return nil
}
