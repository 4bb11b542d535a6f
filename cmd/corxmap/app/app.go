// Package app renders a carrier-spectrum waterfall from the session metadata
// database a capture run recorded with -d. One image row per stored spectrum
// snapshot, with beacon detections marked in the left margin.
package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/mfkiwl/corx/internal/storage"
)

// Config holds the corxmap options.
type Config struct {
	Database  string
	SessionID int64 // 0 selects the most recent session
	Output    string
	Format    string // png or jpeg
	Theme     string
	MinPower  float64 // dB, 0 = automatic
	MaxPower  float64 // dB, 0 = automatic
	NoLabels  bool
}

// ParseArgs builds the configuration from the command line.
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("corxmap", flag.ContinueOnError)

	var cfg Config
	fs.StringVar(&cfg.Database, "d", "", "session metadata database (SQLite)")
	fs.Int64Var(&cfg.SessionID, "session", 0, "session to render [default: most recent]")
	fs.StringVar(&cfg.Output, "o", "waterfall.png", "output image file")
	fs.StringVar(&cfg.Format, "f", "", "image format (png or jpeg) [default: from file extension]")
	fs.StringVar(&cfg.Theme, "theme", string(ThermalTheme), "color theme (thermal, classic, grayscale)")
	fs.Float64Var(&cfg.MinPower, "min-power", 0, "lower bound of the power scale in dB [default: automatic]")
	fs.Float64Var(&cfg.MaxPower, "max-power", 0, "upper bound of the power scale in dB [default: automatic]")
	fs.BoolVar(&cfg.NoLabels, "no-annotations", false, "skip axis labels and the info bar (beacon markers are still drawn)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("no database given (-d)")
	}

	if cfg.Format == "" {
		switch {
		case strings.HasSuffix(cfg.Output, ".jpg"), strings.HasSuffix(cfg.Output, ".jpeg"):
			cfg.Format = "jpeg"
		default:
			cfg.Format = "png"
		}
	}
	if cfg.Format != "png" && cfg.Format != "jpeg" {
		return nil, fmt.Errorf("unknown image format %q", cfg.Format)
	}
	return &cfg, nil
}

// sessionConfig is the slice of the recorded receiver configuration needed
// to label the frequency axis.
type sessionConfig struct {
	Source struct {
		SampleRate int    `json:"SampleRate"`
		CenterFreq uint32 `json:"CenterFreq"`
		BlockLen   int    `json:"BlockLen"`
	} `json:"Source"`
}

// Run renders the waterfall and returns the process exit code.
func Run(cfg *Config, logger *slog.Logger) int {
	if err := run(cfg, logger); err != nil {
		logger.Error(err.Error())
		return 1
	}
	return 0
}

func run(cfg *Config, logger *slog.Logger) (err error) {
	store, err := storage.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if cErr := store.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", cErr)
		}
	}()

	session, err := selectSession(store, cfg.SessionID)
	if err != nil {
		return err
	}

	spectra, err := store.Spectra(session.ID)
	if err != nil {
		return fmt.Errorf("loading spectra: %w", err)
	}
	beacons, err := store.Beacons(session.ID)
	if err != nil {
		return fmt.Errorf("loading beacons: %w", err)
	}

	logger.Info("rendering waterfall",
		slog.Int64("session", session.ID),
		slog.Int("spectra", len(spectra)),
		slog.Int("beacons", len(beacons)))

	var sampleRate float64
	if session.Config.Valid {
		var sc sessionConfig
		if jsonErr := json.Unmarshal([]byte(session.Config.String), &sc); jsonErr == nil {
			sampleRate = float64(sc.Source.SampleRate)
		}
	}

	renderer := NewRenderer(RenderConfig{
		Theme:      ColorTheme(cfg.Theme),
		MinPower:   cfg.MinPower,
		MaxPower:   cfg.MaxPower,
		SampleRate: sampleRate,
		NoLabels:   cfg.NoLabels,
	})
	img, err := renderer.Render(spectra, beacons)
	if err != nil {
		return fmt.Errorf("rendering: %w", err)
	}

	return writeImage(cfg.Output, cfg.Format, img)
}

func selectSession(store *storage.Store, id int64) (*storage.SessionData, error) {
	sessions, err := store.Sessions()
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("database holds no sessions")
	}

	if id == 0 {
		return &sessions[len(sessions)-1], nil
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("no session with id %d", id)
}

func writeImage(path, format string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	switch format {
	case "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	return nil
}
