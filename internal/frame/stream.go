package frame

import (
	"github.com/mtiwari1/exgstream/internal/sample"
)

// Stats counts stream decoder diagnostics.
type Stats struct {
	Packets    uint64 // valid packets decoded
	Resyncs    uint64 // sync markers rejected because the end byte did not match
	NoiseBytes uint64 // bytes discarded while hunting for a sync marker
}

// StreamDecoder reassembles sync-delimited packets from a byte stream.
// Unconsumed bytes are kept in a length-tracked accumulator that is
// compacted after every call, so each input byte is copied a bounded
// number of times.
type StreamDecoder struct {
	channels  int
	packetLen int
	buf       []byte
	off       int
	stats     Stats
}

// NewStreamDecoder builds a decoder for packets carrying the given number of channels.
func NewStreamDecoder(channels int) *StreamDecoder {
	packetLen := PacketLength(channels)
	return &StreamDecoder{
		channels:  channels,
		packetLen: packetLen,
		buf:       make([]byte, 0, packetLen*64),
	}
}

// PacketLength is the full serial packet size, sync through end byte.
func (d *StreamDecoder) PacketLength() int { return d.packetLen }

// Decode feeds p into the accumulator and appends every complete packet
// found to dst, in stream order.
func (d *StreamDecoder) Decode(dst []sample.Frame, p []byte) []sample.Frame {
	d.buf = append(d.buf, p...)

	// Noise is only scanned for once a full packet's worth of bytes is
	// buffered; a shorter sync-less run is cleared on a later call.
	for len(d.buf)-d.off >= d.packetLen {
		pending := d.buf[d.off:]

		i := findSync(pending)
		if i < 0 {
			// No marker anywhere: drop everything except a trailing first
			// sync byte whose partner may arrive in the next read.
			keep := 0
			if pending[len(pending)-1] == SyncByte1 {
				keep = 1
			}
			d.stats.NoiseBytes += uint64(len(pending) - keep)
			d.off = len(d.buf) - keep
			break
		}
		if i > 0 {
			d.stats.NoiseBytes += uint64(i)
			d.off += i
			pending = pending[i:]
		}
		if len(pending) < d.packetLen {
			break
		}
		if pending[d.packetLen-1] != EndByte {
			// False positive: step past the first sync byte and rescan.
			d.stats.Resyncs++
			d.off++
			continue
		}

		dst = append(dst, decodeRecord(pending, 2, d.channels))
		d.stats.Packets++
		d.off += d.packetLen
	}

	d.compact()
	return dst
}

// Buffered reports how many bytes are waiting for more input.
func (d *StreamDecoder) Buffered() int { return len(d.buf) - d.off }

// Stats returns a snapshot of the decoder counters.
func (d *StreamDecoder) Stats() Stats { return d.stats }

// Reset drops any buffered bytes and zeroes the counters.
func (d *StreamDecoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
	d.stats = Stats{}
}

func (d *StreamDecoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}

func findSync(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == SyncByte1 && b[i+1] == SyncByte2 {
			return i
		}
	}
	return -1
}
