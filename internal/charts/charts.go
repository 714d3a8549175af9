// Package charts renders the raster charts embedded in exported reports.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/compliscope/compliscope/internal/models"
)

const (
	chartWidth  = 960
	chartHeight = 480
	padding     = 40
	barGap      = 8
)

var (
	background    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	axisColor     = color.NRGBA{R: 108, G: 117, B: 125, A: 255}
	gridColor     = color.NRGBA{R: 233, G: 236, B: 239, A: 255}
	originalColor = color.NRGBA{R: 108, G: 117, B: 125, A: 255}
	improveColor  = color.NRGBA{R: 40, G: 167, B: 69, A: 255}
	declineColor  = color.NRGBA{R: 220, G: 53, B: 69, A: 255}
)

var ErrEmptyImage = errors.New("image has no pixels")

type bar struct {
	original  int
	predicted int
}

// ScoreComparisonPNG draws grouped bars per framework: the current score in
// grey beside the predicted score, green when it improves and red otherwise.
func ScoreComparisonPNG(original, predicted models.ScoreSet) ([]byte, error) {
	metrics := []models.Metric{models.MetricOverall, models.MetricGDPR, models.MetricHIPAA, models.MetricSOC2, models.MetricPCIDSS}

	var bars []bar
	for _, m := range metrics {
		o, ok := original.Get(m)
		if !ok {
			continue
		}
		p, ok := predicted.Get(m)
		if !ok {
			continue
		}
		bars = append(bars, bar{original: models.ClampScore(o), predicted: models.ClampScore(p)})
	}

	canvas := imaging.New(chartWidth, chartHeight, background)
	plotHeight := chartHeight - 2*padding
	plotWidth := chartWidth - 2*padding

	for _, pct := range []int{25, 50, 75, 100} {
		y := chartHeight - padding - plotHeight*pct/100
		canvas = imaging.Paste(canvas, imaging.New(plotWidth, 1, gridColor), image.Pt(padding, y))
	}
	canvas = imaging.Paste(canvas, imaging.New(plotWidth, 2, axisColor), image.Pt(padding, chartHeight-padding))
	canvas = imaging.Paste(canvas, imaging.New(2, plotHeight, axisColor), image.Pt(padding, padding))

	if len(bars) > 0 {
		group := plotWidth / len(bars)
		barWidth := (group - 3*barGap) / 2
		for i, b := range bars {
			x := padding + i*group + barGap
			canvas = drawBar(canvas, x, barWidth, plotHeight, b.original, originalColor)

			c := improveColor
			if b.predicted < b.original {
				c = declineColor
			}
			canvas = drawBar(canvas, x+barWidth+barGap, barWidth, plotHeight, b.predicted, c)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding chart: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBar(canvas *image.NRGBA, x, width, plotHeight, score int, c color.NRGBA) *image.NRGBA {
	h := plotHeight * score / 100
	if h <= 0 || width <= 0 {
		return canvas
	}
	return imaging.Paste(canvas, imaging.New(width, h, c), image.Pt(x, chartHeight-padding-h))
}

// Fit decodes an image, shrinks it to at most maxWidth pixels wide and returns
// it re-encoded as PNG together with its final size.
func Fit(data []byte, maxWidth int) ([]byte, image.Point, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("decoding image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, image.Point{}, ErrEmptyImage
	}
	if b.Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, image.Point{}, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), img.Bounds().Size(), nil
}
