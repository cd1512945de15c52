package device_test

import (
	"testing"

	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRecordLength(t *testing.T) {
	cfg := device.Configuration{ChannelCount: 3, BlockCount: 10}
	assert.Equal(t, 7, cfg.SampleRecordLength())
	assert.Equal(t, 70, cfg.BatchLength())

	cfg.BlockCount = 0
	assert.Equal(t, 70, cfg.BatchLength(), "zero block count falls back to the default")
}

func TestHandshakeRoundTrip(t *testing.T) {
	packet := []byte{
		0x06, 0x00, // channels
		0x0a, 0x00, // block count
		0xf4, 0x01, // 500 Hz
		0x0c, 0x00, // 12 bits
	}
	cfg, err := device.ParseHandshake(packet)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.ChannelCount)
	assert.Equal(t, 10, cfg.BlockCount)
	assert.Equal(t, 500, cfg.SamplingRate)
	assert.Equal(t, 12, cfg.ADCResolutionBits)
	assert.Equal(t, packet, device.EncodeHandshake(cfg))
}

func TestHandshakeRejectsBadPackets(t *testing.T) {
	_, err := device.ParseHandshake([]byte{1, 2, 3})
	require.ErrorIs(t, err, device.ErrHandshakeLength)

	_, err = device.ParseHandshake(make([]byte, 8))
	require.ErrorIs(t, err, device.ErrInvalidConfiguration)
}

func TestFromName(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		battery  bool
	}{
		{"NPG-LITE-3CH-1A2B", 3, true},
		{"NPG-LITE-6CH-1A2B", 6, true},
		{"NPG-OLD", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := device.FromName(tt.name)
			assert.Equal(t, tt.channels, cfg.ChannelCount)
			assert.Equal(t, tt.battery, cfg.HasBatteryChannel)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog := device.DefaultCatalog()

	b, err := catalog.Lookup("uno-r4")
	require.NoError(t, err)
	assert.Equal(t, 14, b.ADCResolutionBits)
	assert.Equal(t, 6, b.Configuration().ChannelCount)

	_, err = catalog.Lookup("TOASTER")
	require.ErrorIs(t, err, device.ErrUnknownBoard)
}

func TestExtractBoardID(t *testing.T) {
	assert.Equal(t, "UNO-R4", device.ExtractBoardID("garbage\r\n\x00\x01UNO-R4\n"))
	assert.Equal(t, "RPI-PICO-RP2040", device.ExtractBoardID("RPI-PICO-RP2040"))
}

func TestParseBattery(t *testing.T) {
	level, err := device.ParseBattery([]byte{87})
	require.NoError(t, err)
	assert.Equal(t, uint8(87), level)

	level, err = device.ParseBattery([]byte{250})
	require.NoError(t, err)
	assert.Equal(t, uint8(100), level)

	_, err = device.ParseBattery([]byte{1, 2})
	require.ErrorIs(t, err, device.ErrBatteryPayload)
}
