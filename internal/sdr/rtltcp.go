package sdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/bemasher/rtltcp"
)

// rtl_tcp protocol commands not covered by the rtltcp package. Bias-tee
// control is an rtl-sdr-blog extension to the protocol.
const (
	cmdFreqCorrection = 0x05
	cmdBiasTee        = 0x0e
)

// readTimeout bounds a single TCP read so a pending Cancel is observed within
// one timeout even when the server stalls.
const readTimeout = time.Second

// RTLTCPSource reads 8-bit IQ from an rtl_tcp server and frames it into
// overlapped blocks.
type RTLTCPSource struct {
	framer

	cfg  Config
	addr string
	sdr  rtltcp.SDR
	raw  []byte

	logger *slog.Logger
}

// WithRTLTCPLogger sets the logger for tuner control chatter.
func WithRTLTCPLogger(logger *slog.Logger) func(*RTLTCPSource) {
	return func(s *RTLTCPSource) {
		s.logger = logger.With(slog.String("source", "rtltcp"), slog.String("addr", s.addr))
	}
}

// NewRTLTCPSource creates a source connected to the rtl_tcp server at addr.
func NewRTLTCPSource(addr string, cfg Config, options ...func(*RTLTCPSource)) (*RTLTCPSource, error) {
	if cfg.BlockLen <= 0 || cfg.HistoryLen < 0 || cfg.HistoryLen >= cfg.BlockLen {
		return nil, fmt.Errorf("invalid framing: blockLen=%d historyLen=%d", cfg.BlockLen, cfg.HistoryLen)
	}

	s := RTLTCPSource{
		framer: newFramer(cfg.BlockLen, cfg.HistoryLen),
		cfg:    cfg,
		addr:   addr,
		raw:    make([]byte, cfg.BlockLen*2),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&s)
	}
	return &s, nil
}

func (s *RTLTCPSource) Start() error {
	addr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving rtl_tcp address: %w", err)
	}
	if err = s.sdr.Connect(addr); err != nil {
		return fmt.Errorf("connecting to rtl_tcp: %w", err)
	}

	if err = s.sdr.SetSampleRate(uint32(s.cfg.SampleRate)); err != nil {
		return fmt.Errorf("setting sample rate: %w", err)
	}
	if err = s.sdr.SetCenterFreq(s.cfg.CenterFreq); err != nil {
		return fmt.Errorf("setting center frequency: %w", err)
	}

	if s.cfg.Gain == 0 {
		if err = s.sdr.SetGainMode(false); err != nil {
			return fmt.Errorf("enabling tuner AGC: %w", err)
		}
	} else {
		if err = s.sdr.SetGainMode(true); err != nil {
			return fmt.Errorf("setting manual gain mode: %w", err)
		}
		if err = s.sdr.SetGain(uint32(s.cfg.Gain * 10)); err != nil {
			return fmt.Errorf("setting tuner gain: %w", err)
		}
	}

	if s.cfg.FreqCorrPPM != 0 {
		if err = s.command(cmdFreqCorrection, uint32(int32(s.cfg.FreqCorrPPM))); err != nil {
			return fmt.Errorf("setting frequency correction: %w", err)
		}
	}

	s.logger.Info("tuner configured",
		slog.Int("sampleRate", s.cfg.SampleRate),
		slog.Uint64("centerFreq", uint64(s.cfg.CenterFreq)),
		slog.Float64("gain", s.cfg.Gain))

	s.started = time.Now()
	return nil
}

func (s *RTLTCPSource) Next() bool {
	if s.cancelled.Load() {
		return false
	}

	dst := s.begin()
	raw := s.raw[:len(dst)*2]

	for read := 0; read < len(raw); {
		if s.cancelled.Load() {
			return false
		}
		if err := s.sdr.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			s.err = &SourceError{Code: 3, Err: fmt.Errorf("setting read deadline: %w", err)}
			return false
		}
		n, err := s.sdr.Read(raw[read:])
		read += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.err = &SourceError{Code: 3, Err: fmt.Errorf("reading from rtl_tcp: %w", err)}
			}
			return false
		}
	}

	for i := range dst {
		dst[i] = complex(u8ToIQ(raw[2*i]), u8ToIQ(raw[2*i+1]))
	}

	s.commit(len(dst))
	return true
}

// SetBiasTee toggles the antenna-line preamp supply. Returns true once the
// command has been written to the server.
func (s *RTLTCPSource) SetBiasTee(on bool) bool {
	var param uint32
	if on {
		param = 1
	}
	if err := s.command(cmdBiasTee, param); err != nil {
		s.logger.Error("bias tee command failed", slog.Any("error", err))
		return false
	}
	if on {
		s.logger.Info("enabled bias tee")
	} else {
		s.logger.Info("disabled bias tee")
	}
	return true
}

// command writes a raw rtl_tcp control message: one command byte followed by
// a big-endian 32-bit parameter.
func (s *RTLTCPSource) command(cmd byte, param uint32) error {
	return binary.Write(s.sdr, binary.BigEndian, struct {
		Cmd   uint8
		Param uint32
	}{cmd, param})
}

func (s *RTLTCPSource) Close() error {
	if s.sdr.TCPConn == nil {
		return nil
	}
	return s.sdr.Close()
}
