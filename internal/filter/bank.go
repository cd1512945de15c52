package filter

import (
	"fmt"
	"sync"
)

// Bank owns one Chain per channel. Chains are never shared between
// channels; a new Bank is built whenever the device configuration changes.
type Bank struct {
	mu             sync.Mutex
	chains         []*Chain
	samplingRate   int
	resolutionBits int
}

// NewBank builds chains for channels 1..channels.
func NewBank(channels, samplingRate, resolutionBits int) (*Bank, error) {
	if channels < 1 {
		return nil, fmt.Errorf("filter: channel count must be positive, got %d", channels)
	}
	if samplingRate <= 0 {
		return nil, fmt.Errorf("filter: sampling rate must be positive, got %d", samplingRate)
	}
	b := &Bank{
		chains:         make([]*Chain, channels),
		samplingRate:   samplingRate,
		resolutionBits: resolutionBits,
	}
	for i := range b.chains {
		b.chains[i] = NewChain(samplingRate)
	}
	return b, nil
}

// Channels is the number of chains in the bank.
func (b *Bank) Channels() int { return len(b.chains) }

// SamplingRate is the rate the coefficients were derived for.
func (b *Bank) SamplingRate() int { return b.samplingRate }

// ResolutionBits is the ADC resolution the bank was built for.
func (b *Bank) ResolutionBits() int { return b.resolutionBits }

// ProcessInto filters one value per channel and appends the results to dst.
// Values beyond the bank's channel count are ignored.
func (b *Bank) ProcessInto(dst []int32, values []int16) []int32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, v := range values {
		if i >= len(b.chains) {
			break
		}
		dst = append(dst, b.chains[i].Process(v))
	}
	return dst
}

// Settings returns the stage selection of a 1-based channel.
func (b *Bank) Settings(channel int) (Settings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.chain(channel)
	if err != nil {
		return Settings{}, err
	}
	return c.Settings(), nil
}

// Apply changes the stage selection of a 1-based channel without
// touching any other channel.
func (b *Bank) Apply(channel int, s Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.chain(channel)
	if err != nil {
		return err
	}
	c.Apply(s)
	return nil
}

// ApplyAll sets the same selection on every channel.
func (b *Bank) ApplyAll(s Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.chains {
		c.Apply(s)
	}
}

// Reset clears all filter state.
func (b *Bank) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.chains {
		c.Reset()
	}
}

func (b *Bank) chain(channel int) (*Chain, error) {
	if channel < 1 || channel > len(b.chains) {
		return nil, fmt.Errorf("filter: channel %d out of range 1..%d", channel, len(b.chains))
	}
	return b.chains[channel-1], nil
}
