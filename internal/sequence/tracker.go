// Package sequence detects dropped samples from the 8-bit frame counter.
package sequence

// Result is the outcome of observing one counter value.
type Result struct {
	Gap      bool
	Expected uint8
	Got      uint8
}

// Dropped is the number of counter values skipped between Expected and Got,
// modulo 256.
func (r Result) Dropped() int {
	if !r.Gap {
		return 0
	}
	return int(r.Got - r.Expected)
}

// Tracker remembers the next expected counter. The zero value is ready to use
// and accepts the first counter unconditionally.
type Tracker struct {
	expected uint8
	primed   bool
	gaps     uint64
}

// Observe checks counter against the expected value and then expects
// counter+1, so one gap is reported once rather than cascading.
func (t *Tracker) Observe(counter uint8) Result {
	res := Result{Expected: t.expected, Got: counter}
	if t.primed && counter != t.expected {
		res.Gap = true
		t.gaps++
	}
	t.primed = true
	t.expected = counter + 1
	return res
}

// Gaps is the number of gaps reported since the last reset.
func (t *Tracker) Gaps() uint64 { return t.gaps }

// Reset forgets the expected counter, as after a reconnect.
func (t *Tracker) Reset() {
	*t = Tracker{}
}
