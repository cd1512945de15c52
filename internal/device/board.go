package device

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrUnknownBoard is returned when an identification reply matches no catalog entry.
var ErrUnknownBoard = errors.New("device: unknown board")

// Board describes a serial acquisition board answering the WHORU query.
type Board struct {
	ID                string        `mapstructure:"id"`
	Name              string        `mapstructure:"name"`
	ChannelCount      int           `mapstructure:"channel_count"`
	ADCResolutionBits int           `mapstructure:"adc_resolution"`
	SamplingRate      int           `mapstructure:"sampling_rate"`
	BaudRate          int           `mapstructure:"baud_rate"`
	SerialTimeout     time.Duration `mapstructure:"serial_timeout"`
}

// Configuration converts the board description into a device configuration.
func (b Board) Configuration() Configuration {
	return Configuration{
		Name:              b.Name,
		ChannelCount:      b.ChannelCount,
		BlockCount:        1,
		SamplingRate:      b.SamplingRate,
		ADCResolutionBits: b.ADCResolutionBits,
	}
}

// Catalog is the list of known boards.
type Catalog []Board

// DefaultCatalog is used when no boards file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "UNO-R3", Name: "Arduino UNO R3", ChannelCount: 6, ADCResolutionBits: 10, SamplingRate: 250, BaudRate: 115200, SerialTimeout: 2 * time.Second},
		{ID: "UNO-CLONE", Name: "Arduino UNO Clone", ChannelCount: 6, ADCResolutionBits: 10, SamplingRate: 250, BaudRate: 115200, SerialTimeout: 2 * time.Second},
		{ID: "UNO-R4", Name: "Arduino UNO R4 Minima", ChannelCount: 6, ADCResolutionBits: 14, SamplingRate: 500, BaudRate: 230400, SerialTimeout: 2 * time.Second},
		{ID: "NANO-CLONE", Name: "Arduino Nano Clone", ChannelCount: 8, ADCResolutionBits: 10, SamplingRate: 250, BaudRate: 115200, SerialTimeout: 2 * time.Second},
		{ID: "MEGA-2560-R3", Name: "Arduino MEGA 2560 R3", ChannelCount: 16, ADCResolutionBits: 10, SamplingRate: 250, BaudRate: 115200, SerialTimeout: 2 * time.Second},
		{ID: "GIGA-R1", Name: "Arduino GIGA R1 WiFi", ChannelCount: 6, ADCResolutionBits: 16, SamplingRate: 500, BaudRate: 230400, SerialTimeout: 2 * time.Second},
		{ID: "RPI-PICO-RP2040", Name: "Raspberry Pi Pico", ChannelCount: 3, ADCResolutionBits: 12, SamplingRate: 500, BaudRate: 230400, SerialTimeout: 2 * time.Second},
		{ID: "STM32F4-BLACK-PILL", Name: "STM32F4 Black Pill", ChannelCount: 8, ADCResolutionBits: 12, SamplingRate: 500, BaudRate: 230400, SerialTimeout: 2 * time.Second},
		{ID: "NPG-LITE", Name: "NPG Lite", ChannelCount: 3, ADCResolutionBits: 12, SamplingRate: 500, BaudRate: 230400, SerialTimeout: 2 * time.Second},
	}
}

// Lookup finds a board by identifier, ignoring case.
func (c Catalog) Lookup(id string) (Board, error) {
	id = strings.TrimSpace(id)
	for _, b := range c {
		if strings.EqualFold(b.ID, id) {
			return b, nil
		}
	}
	return Board{}, fmt.Errorf("%w: %q", ErrUnknownBoard, id)
}

var boardNamePattern = regexp.MustCompile(`[A-Za-z0-9\-_\s]+$`)

// ExtractBoardID pulls the board identifier out of a WHORU reply. Only the
// last line counts, and only its trailing run of name characters.
func ExtractBoardID(reply string) string {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	return strings.TrimSpace(boardNamePattern.FindString(last))
}
