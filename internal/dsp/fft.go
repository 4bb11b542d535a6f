package dsp

import "gonum.org/v1/gonum/dsp/fourier"

// FFT wraps a gonum complex FFT plan with preallocated input and output
// buffers. The pipeline carries complex64 samples; the plan's complex128 work
// areas are allocated once so Execute does no per-block allocation.
type FFT struct {
	n   int
	fft *fourier.CmplxFFT

	// In and Out are owned by the plan and valid for its lifetime.
	In  []complex64
	Out []complex64

	work64  []complex128
	coeff64 []complex128
}

// NewFFT plans a transform of length n.
func NewFFT(n int) *FFT {
	return &FFT{
		n:       n,
		fft:     fourier.NewCmplxFFT(n),
		In:      make([]complex64, n),
		Out:     make([]complex64, n),
		work64:  make([]complex128, n),
		coeff64: make([]complex128, n),
	}
}

// Len returns the transform length.
func (f *FFT) Len() int { return f.n }

// Execute computes the forward transform of In into Out
// (zero frequency at index 0, unnormalized).
func (f *FFT) Execute() {
	for i, v := range f.In {
		f.work64[i] = complex128(v)
	}
	f.fft.Coefficients(f.coeff64, f.work64)
	for i, v := range f.coeff64 {
		f.Out[i] = complex64(v)
	}
}

// ExecuteInverse computes the normalized inverse transform of In into Out.
func (f *FFT) ExecuteInverse() {
	for i, v := range f.In {
		f.coeff64[i] = complex128(v)
	}
	f.fft.Sequence(f.work64, f.coeff64)
	scale := 1 / float64(f.n)
	for i, v := range f.work64 {
		f.Out[i] = complex64(complex(real(v)*scale, imag(v)*scale))
	}
}
