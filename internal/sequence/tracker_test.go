package sequence_test

import (
	"testing"

	"github.com/mtiwari1/exgstream/internal/sequence"
	"github.com/stretchr/testify/assert"
)

func TestTrackerWrapsWithoutGaps(t *testing.T) {
	var tr sequence.Tracker
	for i := 0; i < 3*256; i++ {
		res := tr.Observe(uint8(i))
		assert.False(t, res.Gap, "counter %d", i)
	}
	assert.Zero(t, tr.Gaps())
}

func TestTrackerReportsSingleGap(t *testing.T) {
	var tr sequence.Tracker
	var gaps []sequence.Result
	for i := 0; i < 300; i++ {
		if i == 100 {
			continue
		}
		if res := tr.Observe(uint8(i)); res.Gap {
			gaps = append(gaps, res)
		}
	}
	if assert.Len(t, gaps, 1) {
		assert.Equal(t, uint8(100), gaps[0].Expected)
		assert.Equal(t, uint8(101), gaps[0].Got)
		assert.Equal(t, 1, gaps[0].Dropped())
	}
	assert.Equal(t, uint64(1), tr.Gaps())
}

func TestTrackerFirstObservationAlwaysAccepted(t *testing.T) {
	var tr sequence.Tracker
	assert.False(t, tr.Observe(200).Gap)
	assert.True(t, tr.Observe(5).Gap)

	tr.Reset()
	assert.False(t, tr.Observe(77).Gap)
	assert.False(t, tr.Observe(78).Gap)
	assert.Zero(t, tr.Gaps())
}

func TestDroppedAcrossWrap(t *testing.T) {
	var tr sequence.Tracker
	tr.Observe(254)
	res := tr.Observe(2)
	assert.True(t, res.Gap)
	assert.Equal(t, 3, res.Dropped())
}
