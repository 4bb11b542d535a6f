package dsp

import "math"

// DeciAngle is an angle expressed in turns (cycles), kept in the half-open
// interval [-0.5, 0.5). Storing angles in turns makes normalization a single
// rounding operation and keeps repeated additions bounded.
type DeciAngle = float32

// NormalizeDeciAngle wraps an angle in turns back into [-0.5, 0.5).
func NormalizeDeciAngle(angle DeciAngle) DeciAngle {
	return angle - DeciAngle(math.Floor(float64(angle)+0.5))
}

// Arg returns the complex argument of c as a normalized DeciAngle.
func Arg(c complex64) DeciAngle {
	return NormalizeDeciAngle(DeciAngle(math.Atan2(float64(imag(c)), float64(real(c))) / (2 * math.Pi)))
}
