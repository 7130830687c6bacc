package chronicle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/INLOpen/chronicle/region"
)

type dataKey struct {
	cycle  int64
	writer int32
	file   int32
}

// DataStore manages the data files of each (cycle, writer) stream.
type DataStore struct {
	storeBase
	blockSize int64
	cache     *regionCache[dataKey]
}

func newDataStore(base storeBase) *DataStore {
	m := base.metrics
	return &DataStore{
		storeBase: base,
		blockSize: base.settings.DataBlockSize,
		cache: newRegionCache[dataKey](base.settings.DataCacheSize, base.logger,
			m.DataCacheHits, m.DataCacheMisses, m.DataCacheEvictions),
	}
}

func dataFilePrefix(writer int32) string {
	return fmt.Sprintf("%s%d-", DataFilePrefix, writer)
}

// NextDataFileNumber returns one past the highest data file number of writer in
// cycle, or 0 when the writer has none.
func (s *DataStore) NextDataFileNumber(cycle int64, writer int32) int32 {
	return int32(highestSuffix(s.cycleDir(cycle), dataFilePrefix(writer)) + 1)
}

// RegionFor returns a retained region for the data file. With forWrite false a
// missing file yields nil and nothing is created.
func (s *DataStore) RegionFor(ctx context.Context, cycle int64, writer, fileNumber int32, forWrite bool) (*region.Region, error) {
	return s.cache.get(dataKey{cycle, writer, fileNumber}, func(k dataKey) (*region.Region, error) {
		return s.openRegion(ctx, "DataStore.RegionFor", k.cycle,
			dataFilePrefix(k.writer)+strconv.FormatInt(int64(k.file), 10), s.blockSize, k.file, forWrite)
	})
}

// Close drops the store's references to every cached region.
func (s *DataStore) Close() {
	s.cache.close()
}
