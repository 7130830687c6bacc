package chronicle

import (
	"expvar"
	"fmt"

	"github.com/INLOpen/chronicle/cycle"
	"github.com/INLOpen/chronicle/sys"
)

// Metrics holds the expvar counters of one Chronicle.
type Metrics struct {
	PublishedGlobally bool
	prefix            string

	ExcerptsAppended   *expvar.Int
	BytesAppended      *expvar.Int
	DataFileRotations  *expvar.Int
	IndexFileRollovers *expvar.Int
	IndexCASRetries    *expvar.Int
	TailerNotReady     *expvar.Int

	IndexCacheHits      *expvar.Int
	IndexCacheMisses    *expvar.Int
	IndexCacheEvictions *expvar.Int
	DataCacheHits       *expvar.Int
	DataCacheMisses     *expvar.Int
	DataCacheEvictions  *expvar.Int

	RegionsMapped   *expvar.Int
	RegionsUnmapped *expvar.Int
}

// NewMetrics creates the counters. With publishGlobally they are registered in
// the expvar namespace under prefix, reusing (and resetting) variables left by a
// previous instance.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(_ string) *expvar.Int { return new(expvar.Int) }
	if publishGlobally {
		newInt = publishExpvarInt
		publishExpvarFunc(prefix+"prealloc", func() interface{} { return sys.ReadPreallocStats() })
	}
	return &Metrics{
		PublishedGlobally: publishGlobally,
		prefix:            prefix,

		ExcerptsAppended:   newInt(prefix + "excerpts_appended_total"),
		BytesAppended:      newInt(prefix + "bytes_appended_total"),
		DataFileRotations:  newInt(prefix + "data_file_rotations_total"),
		IndexFileRollovers: newInt(prefix + "index_file_rollovers_total"),
		IndexCASRetries:    newInt(prefix + "index_cas_retries_total"),
		TailerNotReady:     newInt(prefix + "tailer_not_ready_total"),

		IndexCacheHits:      newInt(prefix + "index_cache_hits"),
		IndexCacheMisses:    newInt(prefix + "index_cache_misses"),
		IndexCacheEvictions: newInt(prefix + "index_cache_evictions"),
		DataCacheHits:       newInt(prefix + "data_cache_hits"),
		DataCacheMisses:     newInt(prefix + "data_cache_misses"),
		DataCacheEvictions:  newInt(prefix + "data_cache_evictions"),

		RegionsMapped:   newInt(prefix + "regions_mapped_total"),
		RegionsUnmapped: newInt(prefix + "regions_unmapped_total"),
	}
}

// publishFormatter exposes the cycle name memo hit rate of f, when it keeps one.
func (m *Metrics) publishFormatter(f cycle.Formatter) {
	hr, ok := f.(cycle.HitRater)
	if !ok || !m.PublishedGlobally {
		return
	}
	publishExpvarFunc(m.prefix+"cycle_date_cache_hit_rate", func() interface{} { return hr.DateCacheHitRate() })
}

func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarFunc(name string, f func() interface{}) {
	// expvar.Publish panics on reuse
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}
