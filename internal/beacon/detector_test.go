package beacon

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfkiwl/corx/internal/dsp"
)

func chirpTemplate(n int) []float32 {
	tpl := make([]float32, n)
	for i := range tpl {
		x := float64(i) / float64(n)
		tpl[i] = float32(math.Sin(2 * math.Pi * (5*x + 40*x*x)))
	}
	return tpl
}

func blockFFT(t *testing.T, samples []complex64) []complex64 {
	t.Helper()
	fft := dsp.NewFFT(len(samples))
	copy(fft.In, samples)
	fft.Execute()
	out := make([]complex64, len(samples))
	copy(out, fft.Out)
	return out
}

func TestDetectorFindsPulse(t *testing.T) {
	const (
		blockLen   = 8192
		historyLen = 2048
		pulseAt    = 1500
	)

	tpl := chirpTemplate(512)
	rng := rand.New(rand.NewSource(1))

	block := make([]complex64, blockLen)
	for i := range block {
		block[i] = complex(float32(rng.NormFloat64()*0.01), float32(rng.NormFloat64()*0.01))
	}
	for i, v := range tpl {
		block[pulseAt+i] += complex(v, 0)
	}

	d, err := New(tpl, blockLen, historyLen, 0, 15)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det := d.Detect(blockFFT(t, block), 0)
	if !det.Detected {
		t.Fatal("pulse not detected")
	}
	if det.PeakIdx != pulseAt {
		t.Fatalf("peak index = %d, want %d", det.PeakIdx, pulseAt)
	}
	if math.Abs(det.PeakOffset) > 0.5 {
		t.Fatalf("peak offset = %v, want within half a sample", det.PeakOffset)
	}
	if det.PeakPower <= det.NoisePower {
		t.Fatalf("peak power %v not above noise %v", det.PeakPower, det.NoisePower)
	}
}

func TestDetectorNoiseOnly(t *testing.T) {
	const blockLen, historyLen = 4096, 1024

	tpl := chirpTemplate(256)
	rng := rand.New(rand.NewSource(2))

	block := make([]complex64, blockLen)
	for i := range block {
		block[i] = complex(float32(rng.NormFloat64()*0.1), float32(rng.NormFloat64()*0.1))
	}

	d, err := New(tpl, blockLen, historyLen, 0, 30)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if det := d.Detect(blockFFT(t, block), 0); det.Detected {
		t.Fatalf("false detection on noise: %+v", det)
	}
}

func TestDetectorIgnoresHistoryRange(t *testing.T) {
	const blockLen, historyLen = 4096, 1024

	tpl := chirpTemplate(256)
	block := make([]complex64, blockLen)
	// Pulse entirely inside the overlap tail: it belongs to the next block.
	for i, v := range tpl {
		block[blockLen-historyLen+100+i] += complex(v, 0)
	}

	d, err := New(tpl, blockLen, historyLen, 0, 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det := d.Detect(blockFFT(t, block), 0)
	if det.Detected && det.PeakIdx >= blockLen-historyLen {
		t.Fatalf("peak attributed to overlap range: %+v", det)
	}
}

func TestLoadTemplate(t *testing.T) {
	want := []float32{0.5, -1.25, 3}
	raw := make([]byte, 4*len(want))
	for i, v := range want {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	path := filepath.Join(t.TempDir(), "pulse.tpl")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.tpl")); err == nil {
		t.Error("missing file: want error")
	}
}
