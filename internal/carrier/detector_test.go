package carrier

import (
	"math"
	"math/rand"
	"testing"
)

func tone(n int, bin float64, ampl float64) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		phase := 2 * math.Pi * bin * float64(i) / float64(n)
		s[i] = complex(float32(ampl*math.Cos(phase)), float32(ampl*math.Sin(phase)))
	}
	return s
}

func addNoise(s []complex64, rng *rand.Rand, sigma float64) {
	for i := range s {
		s[i] += complex(float32(rng.NormFloat64()*sigma), float32(rng.NormFloat64()*sigma))
	}
}

func TestDetectorFindsTone(t *testing.T) {
	const n = 4096
	s := tone(n, 37, 1)
	addNoise(s, rand.New(rand.NewSource(1)), 0.05)

	d, err := New(n, 0, 15)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det := d.Process(s)
	if !det.Detected {
		t.Fatal("strong tone not detected")
	}
	if det.Argmax != 37 {
		t.Fatalf("argmax = %d, want 37", det.Argmax)
	}
	if det.Peak <= det.Noise {
		t.Fatalf("peak %v not above noise %v", det.Peak, det.Noise)
	}
}

func TestDetectorNegativeFrequency(t *testing.T) {
	const n = 1024
	s := tone(n, -100, 1)

	d, err := New(n, 0, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det := d.Process(s)
	if !det.Detected {
		t.Fatal("tone not detected")
	}
	if det.Argmax != n-100 {
		t.Fatalf("argmax = %d, want %d", det.Argmax, n-100)
	}
}

func TestDetectorNoiseOnly(t *testing.T) {
	const n = 2048
	s := make([]complex64, n)
	addNoise(s, rand.New(rand.NewSource(2)), 0.1)

	d, err := New(n, 0, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if det := d.Process(s); det.Detected {
		t.Fatalf("false detection on noise: %+v", det)
	}
}

func TestDetectorWindow(t *testing.T) {
	const n = 1024
	// A strong tone outside the window and a weaker one inside it.
	s := tone(n, 300, 1)
	inside := tone(n, 10, 0.3)
	for i := range s {
		s[i] += inside[i]
	}

	d, err := New(n, 0, 0.5, WithWindow(-50, 50))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det := d.Process(s)
	if det.Argmax != 10 {
		t.Fatalf("argmax = %d, want the in-window tone at 10", det.Argmax)
	}
}
