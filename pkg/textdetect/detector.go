// Package textdetect proposes the region covered by printed text, using
// Tesseract word boxes.
package textdetect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

// Options tune OCR and the padding around the text block
type Options struct {
	Language      string
	PaddingRatio  float64
	MinConfidence float64
}

// DefaultOptions for English printed text
var DefaultOptions = Options{
	Language:      "eng",
	PaddingRatio:  0.05,
	MinConfidence: 60,
}

// Word is one OCR word box in bitmap pixels
type Word struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// Detector unions confident word boxes into one region
type Detector struct {
	opts      Options
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a text-block detector
func New(opts Options, logger *slog.Logger) *Detector {
	if opts.Language == "" {
		opts.Language = DefaultOptions.Language
	}
	if opts.PaddingRatio < 0 {
		opts.PaddingRatio = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{
		opts:      opts,
		processor: processing.NewProcessor(),
		logger:    logger,
	}
}

// Detect runs OCR over the photo and returns the padded union of all word
// boxes at or above the confidence threshold, scaled to dims. No words
// yields a nil region.
func (d *Detector) Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
	img, err := d.processor.LoadImageSmart(ctx, photoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to load photo: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words, err := d.words(img)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	block, ok := unionWords(words, d.opts.MinConfidence)
	if !ok {
		d.logger.Debug("no confident words", "words", len(words))
		return nil, nil
	}
	block = pad(block, d.opts.PaddingRatio, bounds)

	region := toRegion(block, bounds, dims)
	d.logger.Debug("text block detected", "words", len(words), "rect", block.String())
	return &region, nil
}

// words runs Tesseract with a fresh client; gosseract clients are not safe
// for concurrent use
func (d *Detector) words(img image.Image) ([]Word, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	c := gosseract.NewClient()
	defer c.Close()

	if err := c.SetLanguage(d.opts.Language); err != nil {
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get boxes: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		words = append(words, Word{
			Text:       box.Word,
			Box:        box.Box,
			Confidence: box.Confidence,
		})
	}
	return words, nil
}

// unionWords returns the smallest rectangle covering every non-empty word at
// or above minConfidence
func unionWords(words []Word, minConfidence float64) (image.Rectangle, bool) {
	var block image.Rectangle
	found := false
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" || w.Confidence < minConfidence || w.Box.Empty() {
			continue
		}
		if !found {
			block, found = w.Box, true
			continue
		}
		block = block.Union(w.Box)
	}
	return block, found
}

// pad grows r by ratio of its own size on every side, staying inside bounds
func pad(r image.Rectangle, ratio float64, bounds image.Rectangle) image.Rectangle {
	dx := int(math.Round(float64(r.Dx()) * ratio))
	dy := int(math.Round(float64(r.Dy()) * ratio))
	return image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy).Intersect(bounds)
}

// toRegion maps a rect in the bitmap to the coordinate space of dims
func toRegion(r image.Rectangle, bounds image.Rectangle, dims types.Dimensions) types.CropRegion {
	r = r.Sub(bounds.Min)
	sx, sy := 1.0, 1.0
	if dims.Valid() && bounds.Dx() > 0 && bounds.Dy() > 0 {
		sx = dims.Width / float64(bounds.Dx())
		sy = dims.Height / float64(bounds.Dy())
	}
	return types.CropRegion{
		X:      float64(r.Min.X) * sx,
		Y:      float64(r.Min.Y) * sy,
		Width:  float64(r.Dx()) * sx,
		Height: float64(r.Dy()) * sy,
	}
}

var _ client.Detector = (*Detector)(nil)
