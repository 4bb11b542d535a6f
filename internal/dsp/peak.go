package dsp

// InterpolatePeak refines a peak location from the power values at the peak
// bin and its two neighbors by fitting a parabola. The returned offset is in
// bins, relative to the center value, in [-0.5, 0.5]. A degenerate (flat)
// triplet yields 0.
func InterpolatePeak(left, center, right float64) float64 {
	denom := left - 2*center + right
	if denom == 0 {
		return 0
	}
	return 0.5 * (left - right) / denom
}

// SumPower accumulates |x|^2 over the given samples.
func SumPower(samples []complex64) float64 {
	var sum float64
	for _, s := range samples {
		re := float64(real(s))
		im := float64(imag(s))
		sum += re*re + im*im
	}
	return sum
}

// SumDC accumulates the complex sum of the given samples, which is the
// unnormalized DC bin of their Fourier transform.
func SumDC(samples []complex64) complex64 {
	var re, im float64
	for _, s := range samples {
		re += float64(real(s))
		im += float64(imag(s))
	}
	return complex64(complex(re, im))
}
