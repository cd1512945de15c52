package device

import (
	"errors"
	"fmt"
)

// ErrBatteryPayload is returned for battery notifications that are not a single byte.
var ErrBatteryPayload = errors.New("device: battery payload must be 1 byte")

// ParseBattery decodes a battery notification into a percentage.
// Values above 100 are clamped.
func ParseBattery(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: got %d", ErrBatteryPayload, len(payload))
	}
	if payload[0] > 100 {
		return 100, nil
	}
	return payload[0], nil
}
