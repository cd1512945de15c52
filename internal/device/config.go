// Package device describes the acquisition hardware: channel layout,
// handshake packets, the board catalog, and battery notifications.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Defaults used when the device does not announce its own parameters.
const (
	DefaultBlockCount   = 10
	DefaultSamplingRate = 500
	DefaultADCBits      = 12

	// HandshakeLength is the size of the binary configuration packet.
	HandshakeLength = 8
)

var (
	// ErrInvalidConfiguration is returned by Validate for unusable configurations.
	ErrInvalidConfiguration = errors.New("device: invalid configuration")

	// ErrHandshakeLength is returned when a configuration packet is not exactly 8 bytes.
	ErrHandshakeLength = errors.New("device: handshake packet must be 8 bytes")
)

// Configuration is established at handshake time and stays fixed until
// the device reconnects. Changing it requires a new acquisition session.
type Configuration struct {
	Name              string `json:"name,omitempty"`
	ChannelCount      int    `json:"channel_count"`
	BlockCount        int    `json:"block_count"`
	SamplingRate      int    `json:"sampling_rate"`
	ADCResolutionBits int    `json:"adc_resolution_bits"`
	HasBatteryChannel bool   `json:"has_battery_channel"`
}

// SampleRecordLength is the size of one length-exact sample record:
// one counter byte plus two big-endian bytes per channel.
func (c Configuration) SampleRecordLength() int {
	return c.ChannelCount*2 + 1
}

// BatchLength is the size of a batched notification carrying BlockCount records.
func (c Configuration) BatchLength() int {
	return c.SampleRecordLength() * c.Blocks()
}

// Blocks is the number of records in a batched notification; an unset
// BlockCount means DefaultBlockCount.
func (c Configuration) Blocks() int {
	if c.BlockCount <= 0 {
		return DefaultBlockCount
	}
	return c.BlockCount
}

// Validate rejects configurations that would break frame decoding or
// filter construction.
func (c Configuration) Validate() error {
	switch {
	case c.ChannelCount < 1:
		return fmt.Errorf("%w: channel count %d", ErrInvalidConfiguration, c.ChannelCount)
	case c.SamplingRate <= 0:
		return fmt.Errorf("%w: sampling rate %d", ErrInvalidConfiguration, c.SamplingRate)
	case c.ADCResolutionBits <= 0 || c.ADCResolutionBits > 24:
		return fmt.Errorf("%w: adc resolution %d bits", ErrInvalidConfiguration, c.ADCResolutionBits)
	case c.BlockCount < 0:
		return fmt.Errorf("%w: block count %d", ErrInvalidConfiguration, c.BlockCount)
	}
	return nil
}

// ParseHandshake decodes the 8-byte configuration packet:
// [numChannels u16 LE][blockCount u16 LE][samplingRate u16 LE][adcBits u16 LE].
func ParseHandshake(b []byte) (Configuration, error) {
	if len(b) != HandshakeLength {
		return Configuration{}, fmt.Errorf("%w: got %d", ErrHandshakeLength, len(b))
	}
	cfg := Configuration{
		ChannelCount:      int(binary.LittleEndian.Uint16(b[0:2])),
		BlockCount:        int(binary.LittleEndian.Uint16(b[2:4])),
		SamplingRate:      int(binary.LittleEndian.Uint16(b[4:6])),
		ADCResolutionBits: int(binary.LittleEndian.Uint16(b[6:8])),
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// EncodeHandshake is the inverse of ParseHandshake. Device simulators and
// tests use it to produce configuration packets.
func EncodeHandshake(c Configuration) []byte {
	b := make([]byte, HandshakeLength)
	binary.LittleEndian.PutUint16(b[0:2], uint16(c.ChannelCount))
	binary.LittleEndian.PutUint16(b[2:4], uint16(c.Blocks()))
	binary.LittleEndian.PutUint16(b[4:6], uint16(c.SamplingRate))
	binary.LittleEndian.PutUint16(b[6:8], uint16(c.ADCResolutionBits))
	return b
}

// FromName derives a configuration from an advertised BLE device name.
// It is the fallback when no handshake packet is available.
func FromName(name string) Configuration {
	cfg := Configuration{
		Name:              name,
		ChannelCount:      3,
		BlockCount:        DefaultBlockCount,
		SamplingRate:      DefaultSamplingRate,
		ADCResolutionBits: DefaultADCBits,
	}
	switch {
	case strings.Contains(name, "3CH"):
		cfg.HasBatteryChannel = true
	case strings.Contains(name, "6CH"):
		cfg.ChannelCount = 6
		cfg.HasBatteryChannel = true
	}
	return cfg
}
