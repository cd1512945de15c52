package filter_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allOff() filter.Settings {
	return filter.Settings{}
}

func TestDisabledChainIsIdentity(t *testing.T) {
	c := filter.NewChain(500)
	c.Apply(allOff())
	for _, v := range []int16{0, 1, -1, 100, -2048, 2047, math.MaxInt16, math.MinInt16} {
		assert.Equal(t, int32(v), c.Process(v))
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	c := filter.NewChain(250)
	var last int32
	for i := 0; i < 30000; i++ {
		last = c.Process(1000)
	}
	assert.InDelta(t, 0, last, 1)
}

func TestOutputStaysInRange(t *testing.T) {
	c := filter.NewChain(500)
	c.Apply(filter.Settings{HighPass: true, EXG: filter.EXGEMG, Notch: filter.Notch50})
	for i := 0; i < 5000; i++ {
		x := int16(math.MaxInt16)
		if i%2 == 0 {
			x = math.MinInt16
		}
		y := c.Process(x)
		assert.GreaterOrEqual(t, y, int32(math.MinInt16))
		assert.LessOrEqual(t, y, int32(math.MaxInt16))
	}
}

func TestNotchAttenuatesMains(t *testing.T) {
	const fs = 500.0
	c := filter.NewChain(fs)
	c.Apply(filter.Settings{Notch: filter.Notch50})

	var peak float64
	for i := 0; i < 5000; i++ {
		x := 1000 * math.Sin(2*math.Pi*50*float64(i)/fs)
		y := c.Process(int16(math.Round(x)))
		if i > 4000 {
			peak = math.Max(peak, math.Abs(float64(y)))
		}
	}
	assert.Less(t, peak, 50.0)
}

func TestLowPassPassesSlowSignal(t *testing.T) {
	const fs = 500.0
	c := filter.NewChain(fs)
	c.Apply(filter.Settings{EXG: filter.EXGEEG})

	var peak float64
	for i := 0; i < 5000; i++ {
		x := 1000 * math.Sin(2*math.Pi*5*float64(i)/fs)
		y := c.Process(int16(math.Round(x)))
		if i > 4000 {
			peak = math.Max(peak, math.Abs(float64(y)))
		}
	}
	assert.InDelta(t, 1000, peak, 30)
}

func TestStagesAboveNyquistAreIdentity(t *testing.T) {
	// 100 Hz puts 60 Hz notch and 70 Hz EMG above Nyquist.
	c := filter.NewChain(100)
	c.Apply(filter.Settings{EXG: filter.EXGEMG, Notch: filter.Notch60})
	for _, v := range []int16{5, -7, 300} {
		assert.Equal(t, int32(v), c.Process(v))
	}
}

func TestReenabledStageStartsClean(t *testing.T) {
	a := filter.NewChain(500)
	for i := 0; i < 100; i++ {
		a.Process(2000)
	}
	a.Apply(allOff())
	a.Apply(filter.DefaultSettings())

	b := filter.NewChain(500)
	for i := 0; i < 10; i++ {
		assert.Equal(t, b.Process(int16(i*10)), a.Process(int16(i*10)))
	}
}

func TestBankChannelsAreIndependent(t *testing.T) {
	b, err := filter.NewBank(3, 500, 12)
	require.NoError(t, err)
	b.ApplyAll(allOff())
	require.NoError(t, b.Apply(2, filter.Settings{HighPass: true}))

	var out []int32
	for i := 0; i < 2000; i++ {
		out = b.ProcessInto(out[:0], []int16{100, 100, 100})
	}
	assert.Equal(t, int32(100), out[0])
	assert.Less(t, out[1], int32(100))
	assert.Equal(t, int32(100), out[2])

	s, err := b.Settings(2)
	require.NoError(t, err)
	assert.True(t, s.HighPass)
	assert.Equal(t, 12, b.ResolutionBits())
}

func TestBankRejectsBadInput(t *testing.T) {
	_, err := filter.NewBank(0, 500, 12)
	assert.Error(t, err)

	b, err := filter.NewBank(2, 500, 12)
	require.NoError(t, err)
	assert.Error(t, b.Apply(3, allOff()))
	_, err = b.Settings(0)
	assert.Error(t, err)

	out := b.ProcessInto(nil, []int16{1, 2, 3})
	assert.Len(t, out, 2)
}

func TestParse(t *testing.T) {
	p, err := filter.ParseEXGProfile(" EEG ")
	require.NoError(t, err)
	assert.Equal(t, filter.EXGEEG, p)

	_, err = filter.ParseEXGProfile("ekg")
	assert.Error(t, err)

	n, err := filter.ParseNotch(60)
	require.NoError(t, err)
	assert.Equal(t, filter.Notch60, n)

	_, err = filter.ParseNotch(55)
	assert.Error(t, err)
}

func TestSettingsJSON(t *testing.T) {
	raw, err := json.Marshal(filter.Settings{HighPass: true, EXG: filter.EXGECG, Notch: filter.Notch50})
	require.NoError(t, err)
	assert.JSONEq(t, `{"high_pass":true,"exg":"ecg","notch":50}`, string(raw))

	var s filter.Settings
	require.NoError(t, json.Unmarshal([]byte(`{"exg":"emg","notch":60}`), &s))
	assert.Equal(t, filter.EXGEMG, s.EXG)
	assert.False(t, s.HighPass)
}
