package dsp

import "math"

// renormInterval bounds the drift of the incremental rotator. Renormalizing
// the phasor every few hundred samples keeps the accumulated error well below
// a milliradian over a full 2^20-sample block at single precision.
const renormInterval = 256

// NCO is a numerically-controlled oscillator generating exp(j*(phi + n*dphi)).
// The rotation is carried in float64 and folded down to complex64 at the
// output, so successive MultiplyInto calls stay phase-continuous.
type NCO struct {
	phase float64 // current phase in radians
	delta float64 // phase increment per sample in radians
}

// NewNCO creates an oscillator with initial phase phi0 and per-sample
// increment dphi, both in radians.
func NewNCO(phi0, dphi float64) *NCO {
	return &NCO{phase: phi0, delta: dphi}
}

// MultiplyInto computes dst[i] = src[i] * exp(j*(phi + i*dphi)) for the first
// n samples and advances the oscillator phase by n*dphi. dst and src may be
// the same slice.
func (o *NCO) MultiplyInto(dst, src []complex64, n int) {
	sin, cos := math.Sincos(o.phase)
	cur := complex(cos, sin)
	dsin, dcos := math.Sincos(o.delta)
	rot := complex(dcos, dsin)

	for i := 0; i < n; i++ {
		c := complex64(cur)
		s := src[i]
		dst[i] = complex(
			real(s)*real(c)-imag(s)*imag(c),
			real(s)*imag(c)+imag(s)*real(c),
		)
		cur *= rot

		if i%renormInterval == renormInterval-1 {
			// The product of unit phasors drifts off the unit circle.
			m := math.Hypot(real(cur), imag(cur))
			cur = complex(real(cur)/m, imag(cur)/m)
		}
	}

	o.phase += float64(n) * o.delta
	o.phase = math.Mod(o.phase, 2*math.Pi)
}

// AdjustPhase adds extra radians to the oscillator phase without emitting
// samples.
func (o *NCO) AdjustPhase(extra float64) {
	o.phase = math.Mod(o.phase+extra, 2*math.Pi)
}
