package dsp

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"
)

func TestNormalizeDeciAngle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		in := DeciAngle((rng.Float64() - 0.5) * 100)
		out := NormalizeDeciAngle(in)
		if out < -0.5 || out >= 0.5 {
			t.Fatalf("NormalizeDeciAngle(%v) = %v, outside [-0.5, 0.5)", in, out)
		}
		// The wrapped angle must differ from the input by an integer number
		// of turns.
		turns := float64(in - out)
		if diff := math.Abs(turns - math.Round(turns)); diff > 1e-3 {
			t.Fatalf("NormalizeDeciAngle(%v) = %v, not an integer turn apart", in, out)
		}
	}

	cases := []struct {
		in, want DeciAngle
	}{
		{0, 0},
		{0.5, -0.5},
		{-0.5, -0.5},
		{0.75, -0.25},
		{-0.75, 0.25},
		{1.25, 0.25},
	}
	for _, c := range cases {
		if got := NormalizeDeciAngle(c.in); got != c.want {
			t.Errorf("NormalizeDeciAngle(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func naiveFreqShift(dst, src []complex64, n int, shiftFreq float32, shiftPhase DeciAngle) {
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * (float64(shiftFreq)*float64(i)/float64(n) + float64(shiftPhase))
		dst[i] = src[i] * complex64(cmplx.Exp(complex(0, phase)))
	}
}

func randomSignal(rng *rand.Rand, n int) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		s[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
	}
	return s
}

func TestFreqShiftMatchesNaive(t *testing.T) {
	const n = 4096
	rng := rand.New(rand.NewSource(2))
	src := randomSignal(rng, n)

	got := make([]complex64, n)
	want := make([]complex64, n)
	FreqShift(got, src, n, 37.4, 0.21)
	naiveFreqShift(want, src, n, 37.4, 0.21)

	for i := range got {
		if err := cmplx.Abs(complex128(got[i] - want[i])); err > 1e-4 {
			t.Fatalf("sample %d: got %v, want %v (err %g)", i, got[i], want[i], err)
		}
	}
}

func TestFreqShiftInPlace(t *testing.T) {
	const n = 1024
	rng := rand.New(rand.NewSource(3))
	src := randomSignal(rng, n)

	want := make([]complex64, n)
	FreqShift(want, src, n, -12.5, 0.1)

	FreqShift(src, src, n, -12.5, 0.1)
	for i := range src {
		if src[i] != want[i] {
			t.Fatalf("sample %d: in-place %v != out-of-place %v", i, src[i], want[i])
		}
	}
}

func TestFreqShiftAdditive(t *testing.T) {
	const n = 2048
	rng := rand.New(rand.NewSource(4))
	src := randomSignal(rng, n)

	once := make([]complex64, n)
	twice := make([]complex64, n)
	FreqShift(once, src, n, 5.25+(-2.5), 0.125+0.3)
	FreqShift(twice, src, n, 5.25, 0.125)
	FreqShift(twice, twice, n, -2.5, 0.3)

	var rms float64
	for i := range once {
		d := cmplx.Abs(complex128(once[i] - twice[i]))
		rms += d * d
	}
	rms = math.Sqrt(rms / n)
	if rms > 1e-4 {
		t.Fatalf("shift composition RMS error %g, want < 1e-4", rms)
	}
}

func TestNCOPhaseContinuity(t *testing.T) {
	const n = 1 << 16
	src := make([]complex64, n)
	for i := range src {
		src[i] = 1
	}

	// One long run against two chained runs over the same oscillator.
	whole := make([]complex64, n)
	nco := NewNCO(0.5, 2*math.Pi*0.01)
	nco.MultiplyInto(whole, src, n)

	parts := make([]complex64, n)
	nco = NewNCO(0.5, 2*math.Pi*0.01)
	nco.MultiplyInto(parts, src, n/2)
	nco.MultiplyInto(parts[n/2:], src[n/2:], n/2)

	for i := range whole {
		if err := cmplx.Abs(complex128(whole[i] - parts[i])); err > 1e-5 {
			t.Fatalf("sample %d: chained NCO diverged by %g", i, err)
		}
	}
}

func TestFFTShiftMatchesCircularTimeShift(t *testing.T) {
	const n = 256
	rng := rand.New(rand.NewSource(5))
	src := randomSignal(rng, n)

	for _, shift := range []int{1, 3, 17, n / 2} {
		// FFT of the circularly shifted sequence.
		f := NewFFT(n)
		for i := range src {
			f.In[i] = src[(i+shift)%n]
		}
		f.Execute()
		want := make([]complex64, n)
		copy(want, f.Out)

		// FFT of the original sequence, then a frequency-domain time shift.
		copy(f.In, src)
		f.Execute()
		got := make([]complex64, n)
		FFTShift(got, f.Out, n, float32(shift), 0, 0)

		for i := range got {
			if err := cmplx.Abs(complex128(got[i] - want[i])); err > 1e-2 {
				t.Fatalf("shift %d, bin %d: got %v, want %v", shift, i, got[i], want[i])
			}
		}
	}
}

func TestInterpolatePeak(t *testing.T) {
	// For any downward parabola sampled at -1, 0, +1 the interpolator must
	// recover the vertex exactly.
	for _, x0 := range []float64{-0.5, -0.2, 0, 0.13, 0.49} {
		const a, c = -3.0, 10.0
		y := func(x float64) float64 { return a*(x-x0)*(x-x0) + c }
		got := InterpolatePeak(y(-1), y(0), y(1))
		if math.Abs(got-x0) > 1e-12 {
			t.Errorf("InterpolatePeak vertex %v: got %v", x0, got)
		}
	}

	if got := InterpolatePeak(1, 1, 1); got != 0 {
		t.Errorf("flat triplet: got %v, want 0", got)
	}
}

func TestFFTInverseRoundTrip(t *testing.T) {
	const n = 512
	rng := rand.New(rand.NewSource(6))
	src := randomSignal(rng, n)

	f := NewFFT(n)
	copy(f.In, src)
	f.Execute()
	copy(f.In, f.Out)
	f.ExecuteInverse()

	for i := range src {
		if err := cmplx.Abs(complex128(f.Out[i] - src[i])); err > 1e-3 {
			t.Fatalf("sample %d: round trip error %g", i, err)
		}
	}
}
