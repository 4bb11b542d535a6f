package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mfkiwl/corx/internal/receiver"
	"github.com/mfkiwl/corx/internal/sdr"
)

// Config is the receiver configuration, assembled from an optional YAML file
// and command-line flags. Flags take precedence over file values.
type Config struct {
	Input      string           `yaml:"input"`  // rtltcp://host:port, file path, or "-"
	Format     sdr.SampleFormat `yaml:"format"` // u8 or cf32 for file input
	Output     string           `yaml:"output"` // trace file, "-" for stdout, empty for none
	Database   string           `yaml:"database"`
	Template   string           `yaml:"template"`
	ReceiverID int              `yaml:"receiverID"`

	Source sdr.Config `yaml:"source"`

	CorrThreshold    string  `yaml:"corrThreshold"`
	CarrierThreshold string  `yaml:"carrierThreshold"`
	CarrierWindow    string  `yaml:"carrierWindow"` // "lo:hi" in signed bins
	CarrierRef       float64 `yaml:"carrierRef"`

	CorrSize          int `yaml:"corrSize"`
	SkipBeaconPadding int `yaml:"skipBeaconPadding"`
	SliceStart        int `yaml:"sliceStart"`
	SliceLen          int `yaml:"sliceLen"`

	BeaconInterval float64 `yaml:"beaconInterval"`
	MaxCaptureTime float64 `yaml:"maxCaptureTime"`
	PreampOffTime  float64 `yaml:"preampOffTime"`
	PreampOffSkip  float64 `yaml:"preampOffSkip"`

	Station StationConfig `yaml:"station"`

	LogLevel string `yaml:"logLevel"`
}

// StationConfig is the receiver's antenna position, recorded with the
// session metadata.
type StationConfig struct {
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	Altitude  *float64 `yaml:"altitude"`
}

func defaultConfig() Config {
	return Config{
		Input:      "-",
		Format:     sdr.FormatU8,
		Template:   "template.tpl",
		ReceiverID: -1,
		Source: sdr.Config{
			SampleRate: 2_400_000,
			BlockLen:   16384,
			HistoryLen: 4096,
		},
		CorrThreshold:    "15s",
		CarrierThreshold: "2s",
		CarrierRef:       receiver.DefaultCarrierRef,
		LogLevel:         "info",
	}
}

// ParseArgs builds the configuration from the command line. When -c names a
// YAML file its values replace the defaults before the remaining flags are
// applied on top.
func ParseArgs(args []string) (*Config, error) {
	cfg := defaultConfig()

	if path := configPathFromArgs(args); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("corx", flag.ContinueOnError)
	fs.String("c", "", "YAML configuration file")

	// Receiver flags.
	fs.StringVar(&cfg.Output, "o", cfg.Output, "output trace file ('-' for stdout) [default: no output]")
	fs.StringVar(&cfg.CorrThreshold, "u", cfg.CorrThreshold, "correlation detection threshold (<constant>c<snr>s)")
	fs.StringVar(&cfg.Template, "z", cfg.Template, "beacon template (.tpl) file")
	fs.IntVar(&cfg.ReceiverID, "r", cfg.ReceiverID, "this receiver's unique identifier")
	fs.StringVar(&cfg.Database, "d", cfg.Database, "session metadata database (SQLite)")

	// Block-source flags.
	fs.StringVar(&cfg.Input, "i", cfg.Input, "input: rtltcp://host:port, capture file, or '-' for stdin")
	format := fs.String("format", string(cfg.Format), "capture file sample format (u8 or cf32)")
	fs.IntVar(&cfg.Source.SampleRate, "s", cfg.Source.SampleRate, "sample rate in Hz")
	centerFreq := fs.Uint64("f", uint64(cfg.Source.CenterFreq), "tuner center frequency in Hz")
	fs.Float64Var(&cfg.Source.Gain, "g", cfg.Source.Gain, "tuner gain in dB (0 for AGC)")
	fs.IntVar(&cfg.Source.BlockLen, "b", cfg.Source.BlockLen, "block length in samples")
	fs.IntVar(&cfg.Source.HistoryLen, "w", cfg.Source.HistoryLen, "history (overlap) length in samples")
	fs.IntVar(&cfg.Source.SkipBlocks, "k", cfg.Source.SkipBlocks, "blocks to discard at startup")
	fs.IntVar(&cfg.Source.FreqCorrPPM, "p", cfg.Source.FreqCorrPPM, "tuner frequency correction in ppm")

	// Detection tuning.
	fs.StringVar(&cfg.CarrierThreshold, "t", cfg.CarrierThreshold, "carrier detection threshold (<constant>c<snr>s)")
	fs.StringVar(&cfg.CarrierWindow, "carrier-window", cfg.CarrierWindow, "carrier search window in signed bins (lo:hi)")
	fs.Float64Var(&cfg.CarrierRef, "carrier-ref", cfg.CarrierRef, "expected carrier offset in Hz")

	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg.Format = sdr.SampleFormat(*format)
	cfg.Source.CenterFreq = uint32(*centerFreq)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configPathFromArgs extracts the -c value without running the full flag
// parser, so file values can seed the flag defaults.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-c" || arg == "--c" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-c=") {
			return strings.TrimPrefix(arg, "-c=")
		}
		if strings.HasPrefix(arg, "--c=") {
			return strings.TrimPrefix(arg, "--c=")
		}
	}
	return ""
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading configuration file: %w", err)
	}
	if err = yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing configuration file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Source.BlockLen <= 0 || c.Source.HistoryLen < 0 || c.Source.HistoryLen >= c.Source.BlockLen {
		return fmt.Errorf("invalid framing: blockLen=%d historyLen=%d", c.Source.BlockLen, c.Source.HistoryLen)
	}
	if c.Source.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.Source.SampleRate)
	}
	if c.Format != sdr.FormatU8 && c.Format != sdr.FormatCF32 {
		return fmt.Errorf("unknown sample format %q", c.Format)
	}
	if _, _, err := ParseThreshold(c.CorrThreshold); err != nil {
		return fmt.Errorf("correlation threshold: %w", err)
	}
	if _, _, err := ParseThreshold(c.CarrierThreshold); err != nil {
		return fmt.Errorf("carrier threshold: %w", err)
	}
	if c.CarrierWindow != "" {
		if _, _, err := parseWindow(c.CarrierWindow); err != nil {
			return fmt.Errorf("carrier window: %w", err)
		}
	}
	return nil
}

// ParseThreshold parses a detection threshold of the form "<c>c<s>s",
// e.g. "15s", "100c", or "5c12s". Either component may be omitted.
func ParseThreshold(s string) (constant, snr float64, err error) {
	if s == "" {
		return 0, 0, fmt.Errorf("empty threshold")
	}

	rest := s
	for rest != "" {
		i := strings.IndexAny(rest, "cs")
		if i < 0 {
			return 0, 0, fmt.Errorf("invalid threshold %q: missing 'c' or 's' suffix", s)
		}
		value, perr := strconv.ParseFloat(rest[:i], 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("invalid threshold %q: %w", s, perr)
		}
		switch rest[i] {
		case 'c':
			constant = value
		case 's':
			snr = value
		}
		rest = rest[i+1:]
	}
	return constant, snr, nil
}

// parseWindow parses a signed bin range "lo:hi".
func parseWindow(s string) (lo, hi int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid window %q: want lo:hi", s)
	}
	if lo, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if hi, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("invalid window %q: lo > hi", s)
	}
	return lo, hi, nil
}
