// Package detection turns a multimodal model's answer into a crop region
// proposal for the crop session.
package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model to locate the region worth keeping
const DefaultPrompt = `You are a document and question locator for a photo taken with a phone.

Return JSON only:
{
  "label": "string",
  "confidence": 0.0,
  "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
  "description": "short neutral sentence (at most 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly include the printed or handwritten text block the photo was taken for (a question, an exercise, a receipt, a page). Include its figures and answer options.
- Exclude hands, table surface and unrelated surrounding text.
- If there is no such region, return:
  {"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0},"description":"no region"}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options tune a VisionDetector
type Options struct {
	Model         string
	Prompt        string
	SendFormat    string
	SendSize      int
	SendQuality   int
	MinConfidence float64
}

// DefaultOptions are used for zero fields of Options
var DefaultOptions = Options{
	Prompt:        DefaultPrompt,
	SendFormat:    "jpg",
	SendSize:      1024,
	SendQuality:   85,
	MinConfidence: 0.2,
}

// VisionDetector asks a vision model where the crop region is
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
	logger    *slog.Logger
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(vc client.VisionClient, opts Options, logger *slog.Logger) *VisionDetector {
	if opts.Prompt == "" {
		opts.Prompt = DefaultOptions.Prompt
	}
	if opts.SendFormat == "" {
		opts.SendFormat = DefaultOptions.SendFormat
	}
	if opts.SendSize <= 0 {
		opts.SendSize = DefaultOptions.SendSize
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = DefaultOptions.SendQuality
	}
	if opts.MinConfidence < 0 {
		opts.MinConfidence = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VisionDetector{
		client:    vc,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}
}

// Detect loads the photo, queries the model and converts its box to a region
// in the coordinate space of dims. A "none" answer, a low-confidence answer
// or a degenerate box yields a nil region.
func (d *VisionDetector) Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
	imgB64, err := d.encode(ctx, photoURI)
	if err != nil {
		return nil, err
	}

	det, err := d.client.AnalyzeImage(ctx, d.opts.Model, d.opts.Prompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}

	region, reason := d.regionFor(det, dims)
	if region == nil {
		d.logger.Debug("vision detection ignored", "reason", reason,
			"label", det.Label, "confidence", det.Confidence)
		return nil, nil
	}
	d.logger.Debug("vision detection", "label", det.Label, "confidence", det.Confidence,
		"description", det.Description)
	return region, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, photoURI string) (string, error) {
	imgB64, err := d.encode(ctx, photoURI)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.opts.Model, SimpleTestPrompt, imgB64)
}

func (d *VisionDetector) encode(ctx context.Context, photoURI string) (string, error) {
	img, err := d.processor.LoadImageSmart(ctx, photoURI)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.prepare(img)
}

func (d *VisionDetector) prepare(img image.Image) (string, error) {
	b64, err := d.processor.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return "", fmt.Errorf("failed to encode photo: %w", err)
	}
	return b64, nil
}

func (d *VisionDetector) regionFor(det *types.Detection, dims types.Dimensions) (*types.CropRegion, string) {
	if det == nil || det.Label == "none" {
		return nil, "no subject"
	}
	if isFallbackLabel(det.Label) {
		return nil, "fallback answer"
	}
	if det.Confidence < d.opts.MinConfidence {
		return nil, "low confidence"
	}

	box := normalizeBox(det.Box)
	if box.W <= 0 || box.H <= 0 {
		return nil, "degenerate box"
	}
	region, ok := geometry.ClampRegion(geometry.FromBox(box, dims), dims)
	if !ok {
		return nil, "box outside photo"
	}
	return &region, ""
}

func isFallbackLabel(label string) bool {
	for _, indicator := range []string{"unclear", "parse", "error", "fallback", "non-json"} {
		if strings.Contains(label, indicator) {
			return true
		}
	}
	return false
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clamps a normalized box into the unit square. Boxes that
// extend past an edge are cut at that edge.
func normalizeBox(b types.Box) types.Box {
	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

var _ client.Detector = (*VisionDetector)(nil)
