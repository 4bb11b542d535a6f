package sdr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// SampleFormat identifies the on-disk layout of a raw IQ capture.
type SampleFormat string

const (
	// FormatU8 is interleaved unsigned 8-bit I/Q as produced by rtl_sdr.
	FormatU8 SampleFormat = "u8"

	// FormatCF32 is interleaved little-endian float32 I/Q.
	FormatCF32 SampleFormat = "cf32"
)

func (f SampleFormat) bytesPerSample() (int, error) {
	switch f {
	case FormatU8:
		return 2, nil
	case FormatCF32:
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown sample format %q", f)
	}
}

// u8ToIQ converts one rtl-sdr byte to a centered float sample. The ADC
// midpoint sits at 127.4, not 127.5 (see the rtlamr magnitude LUT).
func u8ToIQ(b byte) float32 {
	return (float32(b) - 127.4) / 128
}

// FileSource replays a raw IQ capture from a file or stdin with the same
// overlapped framing as a live tuner.
type FileSource struct {
	framer

	cfg    Config
	path   string
	format SampleFormat

	file *os.File
	r    io.Reader
	raw  []byte
}

// NewFileSource creates a playback source for path; "-" reads stdin.
func NewFileSource(path string, format SampleFormat, cfg Config) (*FileSource, error) {
	bps, err := format.bytesPerSample()
	if err != nil {
		return nil, err
	}
	if cfg.BlockLen <= 0 || cfg.HistoryLen < 0 || cfg.HistoryLen >= cfg.BlockLen {
		return nil, fmt.Errorf("invalid framing: blockLen=%d historyLen=%d", cfg.BlockLen, cfg.HistoryLen)
	}

	return &FileSource{
		framer: newFramer(cfg.BlockLen, cfg.HistoryLen),
		cfg:    cfg,
		path:   path,
		format: format,
		raw:    make([]byte, cfg.BlockLen*bps),
	}, nil
}

func (s *FileSource) Start() error {
	if s.path == "-" {
		s.r = bufio.NewReaderSize(os.Stdin, 1<<20)
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return fmt.Errorf("opening capture: %w", err)
		}
		s.file = f
		s.r = bufio.NewReaderSize(f, 1<<20)
	}
	s.started = time.Now()
	return nil
}

func (s *FileSource) Next() bool {
	if s.cancelled.Load() {
		return false
	}

	dst := s.begin()
	bps, _ := s.format.bytesPerSample()
	raw := s.raw[:len(dst)*bps]

	if _, err := io.ReadFull(s.r, raw); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = &SourceError{Code: 2, Err: fmt.Errorf("reading capture: %w", err)}
		}
		return false
	}

	switch s.format {
	case FormatU8:
		for i := range dst {
			dst[i] = complex(u8ToIQ(raw[2*i]), u8ToIQ(raw[2*i+1]))
		}
	case FormatCF32:
		for i := range dst {
			re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
			dst[i] = complex(re, im)
		}
	}

	s.commit(len(dst))
	return true
}

// SetBiasTee is a no-op for file playback; only a live tuner has a preamp.
func (s *FileSource) SetBiasTee(bool) bool { return false }

func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
