package app

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mfkiwl/corx/internal/storage"
)

const (
	dpi            = 120.0
	fontSize       = 10.0
	tickMarkHeight = 5
	pixelsPerLabel = 120.0

	timeFormat = "15:04:05"
)

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, spectra []storage.SpectrumData, minDB, maxDB float64) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawFrequencyScale(img, area, len(spectra[0].Power)); err != nil {
		return fmt.Errorf("drawing frequency scale: %w", err)
	}
	if err := a.drawInfoBar(img, area, spectra, minDB, maxDB); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

// drawFrequencyScale labels the x axis with the baseband frequency offset,
// DC at the center. Without a known sample rate, labels are bin indices.
func (a *annotator) drawFrequencyScale(img *image.RGBA, area image.Rectangle, bins int) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := area.Min.Y - tickMarkHeight - fontHeight/2

	numLabels := area.Dx() / int(pixelsPerLabel)
	if numLabels < 2 {
		numLabels = 2
	}

	for i := 0; i <= numLabels; i++ {
		frac := float64(i) / float64(numLabels)
		x := area.Min.X + int(frac*float64(area.Dx()-1))

		for y := area.Min.Y - tickMarkHeight; y < area.Min.Y; y++ {
			img.Set(x, y, color.Black)
		}

		label := a.frequencyLabel(frac, bins)
		width := font.MeasureString(a.fontFace, label)
		pt := freetype.Pt(x-width.Round()/2, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) frequencyLabel(frac float64, bins int) string {
	if a.config.SampleRate == 0 {
		return fmt.Sprintf("%d", int((frac-0.5)*float64(bins)))
	}
	hz := (frac - 0.5) * a.config.SampleRate
	value, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%.1f %sHz", value, suffix)
}

func (a *annotator) drawInfoBar(img *image.RGBA, area image.Rectangle, spectra []storage.SpectrumData, minDB, maxDB float64) error {
	first := spectra[0]
	last := spectra[len(spectra)-1]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s - %s",
		first.Timestamp.Local().Format(timeFormat),
		last.Timestamp.Local().Format(timeFormat)))
	sb.WriteString(fmt.Sprintf("; blocks %d-%d", first.BlockIdx, last.BlockIdx))
	sb.WriteString(fmt.Sprintf("; scale %.0f to %.0f dB", minDB, maxDB))
	if d := last.Timestamp.Sub(first.Timestamp); d > 0 {
		sb.WriteString(fmt.Sprintf("; %s", d.Round(time.Second)))
	}

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-fontHeight)/2 - metrics.Descent.Round()

	pt := freetype.Pt(area.Min.X, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}
