package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_CompleteSequences(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for w := int32(0); w < 4; w++ {
		wg.Add(1)
		go func(w int32) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				assert.True(t, a.Record(w, i))
			}
		}(w)
	}
	wg.Wait()

	reports := a.Report()
	require.Len(t, reports, 4)
	for i, r := range reports {
		assert.Equal(t, int32(i), r.Writer)
		assert.True(t, r.Complete(1000), r.String())
	}
}

func TestAudit_GapsAndDuplicates(t *testing.T) {
	a := New()
	for _, seq := range []uint64{0, 1, 3, 3, 6} {
		a.Record(7, seq)
	}
	reports := a.Report()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, uint64(4), r.Count)
	assert.Equal(t, uint64(6), r.Max)
	assert.Equal(t, uint64(3), r.Missing)
	assert.Equal(t, []uint64{2, 4, 5}, r.FirstMissing)
	assert.Equal(t, uint64(1), r.Duplicates)
	assert.False(t, r.Complete(7))
	assert.Contains(t, r.String(), "first_missing=[2 4 5]")
}

func TestAudit_OutOfOrder(t *testing.T) {
	a := New()
	for _, seq := range []uint64{0, 2, 1, 3} {
		a.Record(2, seq)
	}
	assert.True(t, a.Record(5, 0))
	assert.False(t, a.Record(5, 0))

	reports := a.Report()
	require.Len(t, reports, 2)
	r := reports[0]
	assert.Equal(t, uint64(4), r.Count)
	assert.Zero(t, r.Missing)
	assert.Equal(t, uint64(1), r.OutOfOrder)
	assert.False(t, r.Complete(4))
	assert.Contains(t, r.String(), "out_of_order=1")

	assert.Zero(t, reports[1].OutOfOrder)
	assert.Equal(t, uint64(1), reports[1].Duplicates)
}
