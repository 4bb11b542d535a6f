// Package carrier implements per-block carrier peak detection on the power
// spectrum of an IQ block. The receiver uses it to acquire the reference tone
// before handing over to the phase-tracking loop.
package carrier

import (
	"fmt"
	"math"

	"github.com/mfkiwl/corx/internal/dsp"
)

// Detection is the result of one detection pass.
type Detection struct {
	Detected bool
	Argmax   int     // peak bin, in [0, blockLen)
	Peak     float64 // power of the peak bin
	Noise    float64 // mean off-peak power
}

// Detector finds the strongest spectral peak inside a configurable bin
// window. The window is given in signed bins about DC and may wrap around
// the edges of the spectrum.
type Detector struct {
	fft   *dsp.FFT
	power []float64

	threshConst float64
	threshSNR   float64

	windowLo int
	windowHi int
}

// WithWindow restricts the search to signed bins [lo, hi] about DC.
func WithWindow(lo, hi int) func(*Detector) {
	return func(d *Detector) {
		d.windowLo = lo
		d.windowHi = hi
	}
}

// New creates a detector for blocks of blockLen samples with detection
// threshold threshConst + threshSNR*noise.
func New(blockLen int, threshConst, threshSNR float64, options ...func(*Detector)) (*Detector, error) {
	if blockLen <= 0 {
		return nil, fmt.Errorf("invalid block length %d", blockLen)
	}

	d := Detector{
		fft:         dsp.NewFFT(blockLen),
		power:       make([]float64, blockLen),
		threshConst: threshConst,
		threshSNR:   threshSNR,
		windowLo:    -(blockLen/2 - 1),
		windowHi:    blockLen/2 - 1,
	}
	for _, option := range options {
		option(&d)
	}
	if d.windowLo > d.windowHi {
		return nil, fmt.Errorf("invalid carrier window [%d, %d]", d.windowLo, d.windowHi)
	}
	return &d, nil
}

// Process runs one detection pass over a block of samples.
func (d *Detector) Process(samples []complex64) Detection {
	n := d.fft.Len()
	// A Hann taper keeps the parabolic refinement of an off-bin tone accurate.
	for i, s := range samples[:n] {
		w := float32(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n)))
		d.fft.In[i] = complex(real(s)*w, imag(s)*w)
	}
	d.fft.Execute()

	var total float64
	for i, c := range d.fft.Out {
		re := float64(real(c))
		im := float64(imag(c))
		d.power[i] = re*re + im*im
		total += d.power[i]
	}

	// Peak search over the signed window, wrapped onto [0, n).
	argmax := -1
	var peak float64
	for b := d.windowLo; b <= d.windowHi; b++ {
		i := ((b % n) + n) % n
		if argmax < 0 || d.power[i] > peak {
			peak = d.power[i]
			argmax = i
		}
	}

	// Off-peak mean, excluding the peak bin and its direct neighbors.
	excluded := d.power[argmax]
	excluded += d.power[(argmax+1)%n]
	excluded += d.power[(argmax-1+n)%n]
	noise := (total - excluded) / float64(n-3)

	return Detection{
		Detected: peak > d.threshConst+d.threshSNR*noise,
		Argmax:   argmax,
		Peak:     peak,
		Noise:    noise,
	}
}

// Power returns the power spectrum computed by the last Process call. The
// slice is reused between calls.
func (d *Detector) Power() []float64 { return d.power }
