package dsp

import "math"

// FreqShift multiplies src by a complex sinusoid of shiftFreq cycles per n
// samples with initial phase shiftPhase (in turns) and stores the result in
// dst. dst and src may alias for in-place operation.
func FreqShift(dst, src []complex64, n int, shiftFreq float32, shiftPhase DeciAngle) {
	nco := NewNCO(2*math.Pi*float64(shiftPhase), 2*math.Pi*float64(shiftFreq)/float64(n))
	nco.MultiplyInto(dst, src, n)
}

// FFTShift applies the same transform as FreqShift to a frequency-domain
// buffer stored in zero-frequency-at-index-0 order. The negative-frequency
// half, which starts at ceil(n/2)+carrierOffset, receives an additional
// -2*pi*shiftFreq phase to account for the discontinuity of the periodic
// frequency axis after a non-integer time shift.
func FFTShift(dst, src []complex64, n int, shiftFreq float32, shiftPhase DeciAngle, carrierOffset int) {
	nco := NewNCO(2*math.Pi*float64(shiftPhase), 2*math.Pi*float64(shiftFreq)/float64(n))

	posLen := (n+1)/2 + carrierOffset
	if posLen < 0 {
		posLen = 0
	} else if posLen > n {
		posLen = n
	}

	nco.MultiplyInto(dst, src, posLen)
	nco.AdjustPhase(-2 * math.Pi * float64(shiftFreq))
	nco.MultiplyInto(dst[posLen:], src[posLen:], n-posLen)
}
