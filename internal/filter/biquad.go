// Package filter implements the per-channel IIR filter cascade applied to
// every decoded sample: high-pass, EXG band shaping, and mains notch.
package filter

import "math"

// Q factors of the two sections of a 4th-order Butterworth response.
const (
	butterworthQ1 = 0.54119610
	butterworthQ2 = 1.30656296
	butterworthQ  = math.Sqrt2 / 2
	notchQ        = 30
)

// biquad is one second-order section in Direct Form II Transposed.
// Coefficients are normalised so that a0 == 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (s *biquad) process(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

func (s *biquad) reset() {
	s.z1, s.z2 = 0, 0
}

func normalise(b0, b1, b2, a0, a1, a2 float64) biquad {
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func lowPass(fs, f0, q float64) biquad {
	w0 := 2 * math.Pi * f0 / fs
	cosw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return normalise((1-cosw)/2, 1-cosw, (1-cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

func highPass(fs, f0, q float64) biquad {
	w0 := 2 * math.Pi * f0 / fs
	cosw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return normalise((1+cosw)/2, -(1 + cosw), (1+cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

func notch(fs, f0, q float64) biquad {
	w0 := 2 * math.Pi * f0 / fs
	cosw, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	return normalise(1, -2*cosw, 1, 1+alpha, -2*cosw, 1-alpha)
}

// stage is a cascade of biquads. An empty stage is the identity.
type stage struct {
	sections []biquad
}

func (st *stage) process(x float64) float64 {
	for i := range st.sections {
		x = st.sections[i].process(x)
	}
	return x
}

func (st *stage) reset() {
	for i := range st.sections {
		st.sections[i].reset()
	}
}

// realisable reports whether f0 lies strictly below Nyquist.
func realisable(fs, f0 float64) bool {
	return f0 > 0 && f0 < fs/2
}
