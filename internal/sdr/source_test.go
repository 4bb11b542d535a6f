package sdr

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func rampSamples(n int) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		s[i] = complex(float32(i), -float32(i))
	}
	return s
}

func TestMemorySourceFraming(t *testing.T) {
	cfg := Config{BlockLen: 16, HistoryLen: 4}
	stride := cfg.Stride()

	src := NewMemorySource(rampSamples(100), cfg)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for k := 0; src.Next(); k++ {
		block := src.Data()
		if block.Index != k {
			t.Fatalf("block index = %d, want %d", block.Index, k)
		}

		// Block k must hold stream samples [k*stride, k*stride+blockLen).
		for i, s := range block.Samples {
			want := float32(k*stride + i)
			if real(s) != want {
				t.Fatalf("block %d sample %d = %v, want %v", k, i, real(s), want)
			}
		}
	}

	if err := src.Err(); err != nil {
		t.Fatalf("Err after EOF: %v", err)
	}
}

func TestMemorySourceCancel(t *testing.T) {
	cfg := Config{BlockLen: 8, HistoryLen: 2}
	src := NewMemorySource(rampSamples(1000), cfg)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !src.Next() {
		t.Fatal("first Next returned false")
	}
	src.Cancel()
	if src.Next() {
		t.Fatal("Next after Cancel returned true")
	}
	if err := src.Err(); err != nil {
		t.Fatalf("cancel must not surface an error, got %v", err)
	}
}

func TestFileSourceCF32(t *testing.T) {
	samples := rampSamples(64)
	raw := make([]byte, len(samples)*8)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[8*i:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(raw[8*i+4:], math.Float32bits(imag(s)))
	}

	path := filepath.Join(t.TempDir(), "capture.cf32")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{BlockLen: 16, HistoryLen: 8}
	src, err := NewFileSource(path, FormatCF32, cfg)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	if err = src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	var blocks int
	for ; src.Next(); blocks++ {
		block := src.Data()
		for i, s := range block.Samples {
			if want := samples[block.Index*cfg.Stride()+i]; s != want {
				t.Fatalf("block %d sample %d = %v, want %v", block.Index, i, s, want)
			}
		}
	}

	// 64 samples: one full block of 16, then (64-16)/8 more strides.
	if want := 1 + (64-16)/8; blocks != want {
		t.Fatalf("read %d blocks, want %d", blocks, want)
	}
	if err = src.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
}

func TestU8Conversion(t *testing.T) {
	if got := u8ToIQ(127); math.Abs(float64(got)) > 0.01 {
		t.Errorf("u8ToIQ(127) = %v, want near 0", got)
	}
	if got := u8ToIQ(255); got < 0.9 {
		t.Errorf("u8ToIQ(255) = %v, want near full scale", got)
	}
	if got := u8ToIQ(0); got > -0.9 {
		t.Errorf("u8ToIQ(0) = %v, want near negative full scale", got)
	}
}
