// Package sample defines the value types that flow through the acquisition pipeline.
package sample

// Frame is one decoded packet: the 8-bit sequence counter and one raw
// value per channel, in channel order.
type Frame struct {
	Counter uint8
	Values  []int16
}

// Row is a pipeline output row: [counter, ch1, ch2, ...].
type Row []int32

// Counter returns the sequence counter stored in the first column.
func (r Row) Counter() int32 {
	if len(r) == 0 {
		return 0
	}
	return r[0]
}

// Channel returns the value for a 1-based channel number and whether it exists.
func (r Row) Channel(channel int) (int32, bool) {
	if channel <= 0 || channel >= len(r) {
		return 0, false
	}
	return r[channel], true
}

// Trim returns the row cut down to the counter plus channels 1..upTo.
// The underlying array is shared with r.
func (r Row) Trim(upTo int) Row {
	if upTo+1 >= len(r) {
		return r
	}
	if upTo < 0 {
		upTo = 0
	}
	return r[:upTo+1]
}
