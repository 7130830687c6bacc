package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/INLOpen/chronicle/chronicle"
)

const (
	// TestDataCapacity is the capacity reserved for one WriteTestData record.
	TestDataCapacity = 128
	// TestDataSize is the number of bytes WriteTestData writes.
	TestDataSize = 36

	testDataMagic = int64(0x0123456789ABCDEF)
)

// PreallocateEnabled reports whether CHRONICLE_TEST_PREALLOCATE asks tests to
// preallocate region files. Default is false.
func PreallocateEnabled() bool {
	v := strings.TrimSpace(os.Getenv("CHRONICLE_TEST_PREALLOCATE"))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// SmallSettings returns settings rooted in a fresh temporary directory with
// 1 MiB data blocks and 8 KiB index blocks, so tests cross file boundaries
// quickly.
func SmallSettings(t testing.TB, opts ...chronicle.SettingsOption) chronicle.Settings {
	t.Helper()
	base := []chronicle.SettingsOption{
		chronicle.WithDataBlockSize(1 << 20),
		chronicle.WithIndexBlockSize(1 << 13),
		chronicle.WithPreallocate(PreallocateEnabled()),
	}
	return chronicle.NewSettings(t.TempDir(), append(base, opts...)...)
}

// OpenChronicle opens settings and closes the chronicle when the test ends.
func OpenChronicle(t testing.TB, settings chronicle.Settings, opts ...chronicle.Option) *chronicle.Chronicle {
	t.Helper()
	c, err := chronicle.Open(settings, opts...)
	if err != nil {
		t.Fatalf("open chronicle at %s: %v", settings.Path, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// WriteTestData starts an excerpt and writes the standard test record: id, i,
// a fixed 64-bit marker and the int32 values 1 to 5.
func WriteTestData(a *chronicle.Appender, id, i uint32) error {
	if err := a.StartExcerpt(TestDataCapacity); err != nil {
		return err
	}
	b := a.Buffer()
	b.WriteUint32(id)
	b.WriteUint32(i)
	b.WriteInt64(testDataMagic)
	for v := int32(1); v <= 5; v++ {
		b.WriteInt32(v)
	}
	return a.Finish()
}

// ReadTestData decodes a record written by WriteTestData and checks its
// constant fields.
func ReadTestData(b *chronicle.Buffer) (id, i uint32, err error) {
	if b.Limit() != TestDataSize {
		return 0, 0, fmt.Errorf("test record has %d bytes, want %d", b.Limit(), TestDataSize)
	}
	id = b.ReadUint32()
	i = b.ReadUint32()
	if m := b.ReadInt64(); m != testDataMagic {
		return id, i, fmt.Errorf("test record %d/%d: marker 0x%x", id, i, m)
	}
	for v := int32(1); v <= 5; v++ {
		if got := b.ReadInt32(); got != v {
			return id, i, fmt.Errorf("test record %d/%d: value %d, want %d", id, i, got, v)
		}
	}
	return id, i, nil
}

// ListFiles returns the sorted names of files in the directory of cycle whose
// names start with prefix.
func ListFiles(settings chronicle.Settings, cycle int64, prefix string) ([]string, error) {
	dir := filepath.Join(settings.Path, settings.Formatter.DateFromCycle(cycle))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// RequireCyclePresent fails the test unless the directory of cycle holds at
// least one index file and one data file.
func RequireCyclePresent(t testing.TB, settings chronicle.Settings, cycle int64) {
	t.Helper()
	index, err := ListFiles(settings, cycle, chronicle.IndexFilePrefix)
	if err != nil {
		t.Fatalf("expected cycle %d directory: %v", cycle, err)
	}
	data, _ := ListFiles(settings, cycle, chronicle.DataFilePrefix)
	if len(index) == 0 || len(data) == 0 {
		t.Fatalf("expected index and data files for cycle %d, got index=%v data=%v", cycle, index, data)
	}
}
