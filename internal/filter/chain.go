package filter

import (
	"fmt"
	"math"
	"strings"
)

// HighPassCutoff is the baseline-drift cutoff of the always-on high-pass stage, in Hz.
const HighPassCutoff = 0.1

// EXGProfile selects the band-shaping stage.
type EXGProfile int

// EXG profiles, one per class of biosignal.
const (
	EXGOff EXGProfile = iota
	EXGECG            // heart: 30 Hz low-pass
	EXGEOG            // eye: 10 Hz low-pass
	EXGEEG            // brain: 45 Hz low-pass
	EXGEMG            // muscle: 70 Hz high-pass
	exgProfileCount
)

var exgNames = [...]string{"off", "ecg", "eog", "eeg", "emg"}

func (p EXGProfile) String() string {
	if p < 0 || p >= exgProfileCount {
		return fmt.Sprintf("EXGProfile(%d)", int(p))
	}
	return exgNames[p]
}

// MarshalText encodes the profile by name.
func (p EXGProfile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (p *EXGProfile) UnmarshalText(b []byte) error {
	v, err := ParseEXGProfile(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseEXGProfile maps a profile name to its value.
func ParseEXGProfile(s string) (EXGProfile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return EXGOff, nil
	}
	for i, name := range exgNames {
		if name == s {
			return EXGProfile(i), nil
		}
	}
	return EXGOff, fmt.Errorf("filter: unknown exg profile %q", s)
}

// Notch selects the mains frequency to reject. Zero disables the stage.
type Notch int

// Supported notch settings.
const (
	NotchOff Notch = 0
	Notch50  Notch = 50
	Notch60  Notch = 60
)

// ParseNotch validates a notch frequency in Hz.
func ParseNotch(hz int) (Notch, error) {
	switch Notch(hz) {
	case NotchOff, Notch50, Notch60:
		return Notch(hz), nil
	}
	return NotchOff, fmt.Errorf("filter: unsupported notch frequency %d Hz", hz)
}

// Settings is the per-channel stage selection.
type Settings struct {
	HighPass bool       `json:"high_pass"`
	EXG      EXGProfile `json:"exg"`
	Notch    Notch      `json:"notch"`
}

// DefaultSettings enables only the high-pass stage.
func DefaultSettings() Settings {
	return Settings{HighPass: true}
}

// Chain is one channel's high-pass → EXG → notch cascade. Each stage keeps
// its own state, and a stage that is switched off neither touches the value
// nor advances its state.
type Chain struct {
	settings Settings
	highPass stage
	exg      [exgProfileCount]stage
	notch50  stage
	notch60  stage
}

// NewChain derives all coefficients from the sampling rate. Changing the
// rate requires a new Chain.
func NewChain(samplingRate int) *Chain {
	fs := float64(samplingRate)
	c := &Chain{settings: DefaultSettings()}
	if realisable(fs, HighPassCutoff) {
		c.highPass.sections = []biquad{highPass(fs, HighPassCutoff, butterworthQ)}
	}
	c.exg[EXGECG] = butterworth(fs, 30, lowPass)
	c.exg[EXGEOG] = butterworth(fs, 10, lowPass)
	c.exg[EXGEEG] = butterworth(fs, 45, lowPass)
	c.exg[EXGEMG] = butterworth(fs, 70, highPass)
	if realisable(fs, 50) {
		c.notch50.sections = []biquad{notch(fs, 50, notchQ)}
	}
	if realisable(fs, 60) {
		c.notch60.sections = []biquad{notch(fs, 60, notchQ)}
	}
	return c
}

func butterworth(fs, f0 float64, design func(fs, f0, q float64) biquad) stage {
	if !realisable(fs, f0) {
		return stage{}
	}
	return stage{sections: []biquad{design(fs, f0, butterworthQ1), design(fs, f0, butterworthQ2)}}
}

// Settings returns the current stage selection.
func (c *Chain) Settings() Settings { return c.settings }

// Apply changes the stage selection. A stage that becomes active starts
// from a clean state.
func (c *Chain) Apply(s Settings) {
	if s.HighPass && !c.settings.HighPass {
		c.highPass.reset()
	}
	if s.EXG != c.settings.EXG && s.EXG > EXGOff && s.EXG < exgProfileCount {
		c.exg[s.EXG].reset()
	}
	if s.Notch != c.settings.Notch {
		if st := c.notchStage(s.Notch); st != nil {
			st.reset()
		}
	}
	c.settings = s
}

func (c *Chain) notchStage(n Notch) *stage {
	switch n {
	case Notch50:
		return &c.notch50
	case Notch60:
		return &c.notch60
	}
	return nil
}

// Process filters one raw sample. Output is rounded and held to the int16
// range so a misbehaving stage cannot drift without bound.
func (c *Chain) Process(x int16) int32 {
	y := float64(x)
	if c.settings.HighPass {
		y = c.highPass.process(y)
	}
	if p := c.settings.EXG; p > EXGOff && p < exgProfileCount {
		y = c.exg[p].process(y)
	}
	if st := c.notchStage(c.settings.Notch); st != nil {
		y = st.process(y)
	}
	return clamp(y)
}

func clamp(y float64) int32 {
	switch {
	case math.IsNaN(y):
		return 0
	case y > math.MaxInt16:
		y = math.MaxInt16
	case y < math.MinInt16:
		y = math.MinInt16
	}
	return int32(math.Round(y))
}

// Reset clears every stage's state.
func (c *Chain) Reset() {
	c.highPass.reset()
	for i := range c.exg {
		c.exg[i].reset()
	}
	c.notch50.reset()
	c.notch60.reset()
}
