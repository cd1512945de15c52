package frame_test

import (
	"math/rand"
	"testing"

	"github.com/mtiwari1/exgstream/internal/frame"
	"github.com/mtiwari1/exgstream/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketLength(t *testing.T) {
	assert.Equal(t, 10, frame.PacketLength(3))
	assert.Equal(t, 16, frame.PacketLength(6))
}

func TestNotificationDecoderSingleRecord(t *testing.T) {
	d := frame.NewNotificationDecoder(3, 10)
	payload := []byte{0x2a, 0x01, 0x02, 0xff, 0xfe, 0x80, 0x00}

	frames, err := d.Decode(nil, payload)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(42), frames[0].Counter)
	assert.Equal(t, []int16{0x0102, -2, -32768}, frames[0].Values)
}

func TestNotificationDecoderBatch(t *testing.T) {
	d := frame.NewNotificationDecoder(3, 10)
	var payload []byte
	for i := 0; i < 10; i++ {
		payload = frame.AppendRecord(payload, uint8(i), []int16{int16(i), int16(-i), 100})
	}
	require.Len(t, payload, 70)

	frames, err := d.Decode(nil, payload)
	require.NoError(t, err)
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.Equal(t, uint8(i), f.Counter)
		assert.Equal(t, []int16{int16(i), int16(-i), 100}, f.Values)
	}
}

func TestNotificationDecoderRejectsOtherLengths(t *testing.T) {
	d := frame.NewNotificationDecoder(3, 10)
	for _, n := range []int{0, 1, 6, 8, 69, 71, 140} {
		frames, err := d.Decode(nil, make([]byte, n))
		require.ErrorIs(t, err, frame.ErrUnexpectedLength, "length %d", n)
		assert.Empty(t, frames)
	}
}

func TestStreamDecoderDecodesBigEndianValues(t *testing.T) {
	d := frame.NewStreamDecoder(2)
	packet := []byte{0xC7, 0x7C, 0x07, 0x12, 0x34, 0xFF, 0x00, 0x01}

	frames := d.Decode(nil, packet)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(7), frames[0].Counter)
	assert.Equal(t, []int16{0x1234, int16(-256)}, frames[0].Values)
	assert.Zero(t, d.Buffered())
}

func TestStreamDecoderWaitsForIncompletePacket(t *testing.T) {
	d := frame.NewStreamDecoder(3)
	packet := frame.AppendPacket(nil, 5, []int16{1, 2, 3})

	frames := d.Decode(nil, packet[:4])
	assert.Empty(t, frames)
	frames = d.Decode(frames, packet[4:])
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(5), frames[0].Counter)
}

func TestStreamDecoderResyncsOnBadEndByte(t *testing.T) {
	d := frame.NewStreamDecoder(3)
	bad := frame.AppendPacket(nil, 1, []int16{1, 2, 3})
	bad[len(bad)-1] = 0x55
	good := frame.AppendPacket(nil, 2, []int16{4, 5, 6})

	frames := d.Decode(nil, append(bad, good...))
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(2), frames[0].Counter)
	assert.Equal(t, []int16{4, 5, 6}, frames[0].Values)
	assert.Equal(t, uint64(1), d.Stats().Resyncs)
}

func TestStreamDecoderClearsNoise(t *testing.T) {
	d := frame.NewStreamDecoder(3)
	noise := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	assert.Empty(t, d.Decode(nil, noise))
	assert.Zero(t, d.Buffered())
	assert.Equal(t, uint64(len(noise)), d.Stats().NoiseBytes)
}

func TestStreamDecoderClearsShortNoiseOnceFull(t *testing.T) {
	d := frame.NewStreamDecoder(3)

	assert.Empty(t, d.Decode(nil, []byte{1, 2, 3}))
	assert.Equal(t, 3, d.Buffered())
	assert.Zero(t, d.Stats().NoiseBytes)

	assert.Empty(t, d.Decode(nil, []byte{4, 5, 6, 7, 8, 9, 10}))
	assert.Zero(t, d.Buffered())
	assert.Equal(t, uint64(10), d.Stats().NoiseBytes)

	packet := frame.AppendPacket(nil, 4, []int16{1, 2, 3})
	frames := d.Decode(nil, packet)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(4), frames[0].Counter)
}

func TestStreamDecoderKeepsSplitSyncByte(t *testing.T) {
	d := frame.NewStreamDecoder(3)
	packet := frame.AppendPacket(nil, 9, []int16{7, 8, 9})
	chunk := append([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, packet[0])

	assert.Empty(t, d.Decode(nil, chunk))
	assert.Equal(t, 1, d.Buffered())

	frames := d.Decode(nil, packet[1:])
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(9), frames[0].Counter)
}

// noise returns n random bytes that never contain the sync pair.
func noise(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		v := byte(rng.Intn(256))
		for v == frame.SyncByte2 && i > 0 && b[i-1] == frame.SyncByte1 {
			v = byte(rng.Intn(256))
		}
		b[i] = v
	}
	return b
}

func TestStreamDecoderRecoversPacketsFromNoisyStream(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		channels := 1 + rng.Intn(8)
		var stream []byte
		var want []sample.Frame
		for i := 0; i < 40; i++ {
			stream = append(stream, noise(rng, rng.Intn(3*frame.PacketLength(channels)))...)
			values := make([]int16, channels)
			for ch := range values {
				// Keep payload bytes clear of the sync marker.
				values[ch] = int16(rng.Intn(0x7000))
			}
			want = append(want, sample.Frame{Counter: uint8(i), Values: values})
			stream = frame.AppendPacket(stream, uint8(i), values)
		}

		d := frame.NewStreamDecoder(channels)
		var got []sample.Frame
		for len(stream) > 0 {
			n := 1 + rng.Intn(37)
			if n > len(stream) {
				n = len(stream)
			}
			got = d.Decode(got, stream[:n])
			stream = stream[n:]
		}
		require.Equal(t, want, got, "trial %d", trial)
	}
}
