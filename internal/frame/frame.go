// Package frame turns raw transport bytes into sample frames.
//
// Two framing disciplines are supported. NotificationDecoder handles
// discrete BLE notifications whose length must be an exact multiple of the
// sample record length. StreamDecoder handles an unbounded serial byte
// stream delimited by a two-byte sync marker and a terminating end byte.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// Serial packet layout constants.
const (
	SyncByte1    = 0xC7
	SyncByte2    = 0x7C
	EndByte      = 0x01
	HeaderLength = 3
)

// ErrUnexpectedLength is returned for notifications whose length is neither
// one record nor a full batch. The payload is dropped.
var ErrUnexpectedLength = errors.New("frame: unexpected payload length")

// PacketLength is the serial packet size for the given channel count:
// sync(2) + counter(1) + 2 bytes per channel + end byte.
func PacketLength(channels int) int {
	return HeaderLength + channels*2 + 1
}

// decodeRecord reads a counter byte at counterAt followed by one big-endian
// int16 per channel. The caller guarantees the slice is long enough.
func decodeRecord(b []byte, counterAt, channels int) sample.Frame {
	f := sample.Frame{
		Counter: b[counterAt],
		Values:  make([]int16, channels),
	}
	off := counterAt + 1
	for ch := 0; ch < channels; ch++ {
		f.Values[ch] = int16(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
	}
	return f
}

// NotificationDecoder decodes length-exact notifications. Notifications are
// complete units, so no bytes are carried over between calls.
type NotificationDecoder struct {
	channels   int
	recordLen  int
	blockCount int
}

// NewNotificationDecoder builds a decoder for the given channel and block counts.
func NewNotificationDecoder(channels, blockCount int) *NotificationDecoder {
	if blockCount <= 0 {
		blockCount = 1
	}
	return &NotificationDecoder{
		channels:   channels,
		recordLen:  channels*2 + 1,
		blockCount: blockCount,
	}
}

// RecordLength is the size of one sample record.
func (d *NotificationDecoder) RecordLength() int { return d.recordLen }

// Decode appends the frames contained in payload to dst, in order.
func (d *NotificationDecoder) Decode(dst []sample.Frame, payload []byte) ([]sample.Frame, error) {
	switch len(payload) {
	case d.recordLen:
		return append(dst, decodeRecord(payload, 0, d.channels)), nil
	case d.recordLen * d.blockCount:
		for off := 0; off < len(payload); off += d.recordLen {
			dst = append(dst, decodeRecord(payload[off:off+d.recordLen], 0, d.channels))
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("%w: got %d, want %d or %d",
			ErrUnexpectedLength, len(payload), d.recordLen, d.recordLen*d.blockCount)
	}
}
