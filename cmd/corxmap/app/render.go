package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/mfkiwl/corx/internal/storage"
)

// ColorTheme selects the power-to-color gradient.
type ColorTheme string

const (
	ThermalTheme   ColorTheme = "thermal"   // black to red to yellow to white
	ClassicTheme   ColorTheme = "classic"   // blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // black to white

	colorMapSize = 256

	beaconMarkWidth = 4
)

var beaconMarkColor = color.RGBA{R: 0xff, G: 0x00, B: 0x66, A: 0xff}

// RenderConfig holds the waterfall rendering options.
type RenderConfig struct {
	Theme    ColorTheme
	MinPower float64 // dB; both zero selects automatic bounds
	MaxPower float64 // dB

	// SampleRate labels the frequency axis when known; zero falls back to
	// bin indices.
	SampleRate float64

	NoLabels bool

	Borders BorderConfig
}

// BorderConfig defines the white space around the waterfall.
type BorderConfig struct {
	Top    int // frequency scale
	Left   int // beacon markers
	Bottom int // information bar
	Right  int
}

// Renderer draws spectrum snapshot rows into an annotated waterfall.
type Renderer struct {
	config   RenderConfig
	colorMap []color.Color
}

// NewRenderer creates a renderer, filling zero-valued borders with defaults.
func NewRenderer(config RenderConfig) *Renderer {
	if config.Borders.Top == 0 {
		config.Borders.Top = 40
	}
	if config.Borders.Left == 0 {
		config.Borders.Left = 40
	}
	if config.Borders.Bottom == 0 {
		config.Borders.Bottom = 40
	}
	if config.Borders.Right == 0 {
		config.Borders.Right = 40
	}

	r := Renderer{config: config, colorMap: make([]color.Color, colorMapSize)}
	theme := themeFunc(config.Theme)
	for i := range r.colorMap {
		r.colorMap[i] = theme(float64(i) / float64(colorMapSize-1))
	}
	return &r
}

// Render produces the waterfall image: one row per snapshot, one column per
// spectrum bin, beacon detections marked in the left margin.
func (r *Renderer) Render(spectra []storage.SpectrumData, beacons []storage.BeaconData) (*image.RGBA, error) {
	if len(spectra) == 0 {
		return nil, fmt.Errorf("no spectra to render")
	}

	width := len(spectra[0].Power)
	height := len(spectra)

	full := image.Rect(0, 0,
		width+r.config.Borders.Left+r.config.Borders.Right,
		height+r.config.Borders.Top+r.config.Borders.Bottom)
	img := image.NewRGBA(full)
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(
		r.config.Borders.Left,
		r.config.Borders.Top,
		r.config.Borders.Left+width,
		r.config.Borders.Top+height)

	minDB, maxDB := r.bounds(spectra)

	for y, snap := range spectra {
		if len(snap.Power) != width {
			return nil, fmt.Errorf("snapshot %d has %d bins, want %d", y, len(snap.Power), width)
		}
		for x, power := range snap.Power {
			img.Set(area.Min.X+x, area.Min.Y+y, r.powerColor(toDB(power), minDB, maxDB))
		}
	}

	r.markBeacons(img, area, spectra, beacons)

	if !r.config.NoLabels {
		ann, err := newAnnotator(r.config)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, area, spectra, minDB, maxDB); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

// markBeacons draws a marker beside every waterfall row whose block range
// contains a beacon detection.
func (r *Renderer) markBeacons(img *image.RGBA, area image.Rectangle, spectra []storage.SpectrumData, beacons []storage.BeaconData) {
	for _, b := range beacons {
		row := rowForBlock(spectra, b.BlockIdx)
		if row < 0 {
			continue
		}
		for x := area.Min.X - 2 - beaconMarkWidth; x < area.Min.X-2; x++ {
			img.Set(x, area.Min.Y+row, beaconMarkColor)
		}
	}
}

// rowForBlock finds the last snapshot row at or before the given block.
func rowForBlock(spectra []storage.SpectrumData, blockIdx int) int {
	row := -1
	for i, snap := range spectra {
		if snap.BlockIdx > blockIdx {
			break
		}
		row = i
	}
	return row
}

// bounds determines the dB range of the color scale.
func (r *Renderer) bounds(spectra []storage.SpectrumData) (minDB, maxDB float64) {
	if r.config.MinPower != 0 || r.config.MaxPower != 0 {
		return r.config.MinPower, r.config.MaxPower
	}

	minDB = math.Inf(1)
	maxDB = math.Inf(-1)
	for _, snap := range spectra {
		for _, power := range snap.Power {
			db := toDB(power)
			if db < minDB {
				minDB = db
			}
			if db > maxDB {
				maxDB = db
			}
		}
	}
	if !(maxDB > minDB) {
		minDB, maxDB = -120, 0
	}
	return minDB, maxDB
}

func (r *Renderer) powerColor(db, minDB, maxDB float64) color.Color {
	normalized := (db - minDB) / (maxDB - minDB)
	normalized = math.Max(0, math.Min(1, normalized))
	return r.colorMap[int(normalized*float64(colorMapSize-1))]
}

func toDB(power float64) float64 {
	if power <= 0 {
		return -200
	}
	return 10 * math.Log10(power)
}

func themeFunc(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case GrayscaleTheme:
		return func(v float64) color.Color {
			g := uint8(v * 255)
			return color.RGBA{R: g, G: g, B: g, A: 0xff}
		}

	case ClassicTheme:
		// Hue sweep from blue (cold) to red (hot).
		return func(v float64) color.Color {
			return colorful.Hsv(240-240*v, 1, 0.9)
		}

	default: // thermal
		return func(v float64) color.Color {
			switch {
			case v < 1.0/3:
				return colorful.Color{R: 3 * v, G: 0, B: 0}.Clamped()
			case v < 2.0/3:
				return colorful.Color{R: 1, G: 3*v - 1, B: 0}.Clamped()
			default:
				return colorful.Color{R: 1, G: 1, B: 3*v - 2}.Clamped()
			}
		}
	}
}
