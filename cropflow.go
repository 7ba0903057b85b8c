// Package cropflow wires the crop session to its detector and cropper
// backends from configuration.
//
// A session starts from a freshly captured photo. The photo is fitted to the
// viewport, a default crop region is placed, and in Auto mode a detector
// proposes a better one. The user may switch to Manual and drag the region
// on screen; Confirm writes the cropped image and returns its URI.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine, err := cropflow.New(cfg, slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if err := engine.StartPhoto(ctx, "file:///sdcard/DCIM/question.jpg", engine.Viewport()); err != nil {
//		log.Fatal(err)
//	}
//	uri, err := engine.Session.Confirm(ctx)
//
// Detector backends:
//
//   - ollama, llamacpp: a multimodal model locates the question or document
//   - contour: the largest paper-like contour found with OpenCV
//   - text: the union of Tesseract word boxes
//   - saliency: the busiest part of the photo by edge and contrast, in pure Go
//   - none: Auto mode never moves the default region
package cropflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/menta2k/cropflow/internal/config"
	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/contour"
	"github.com/menta2k/cropflow/pkg/cropper"
	"github.com/menta2k/cropflow/pkg/detection"
	"github.com/menta2k/cropflow/pkg/llamacpp"
	"github.com/menta2k/cropflow/pkg/ollama"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/saliency"
	"github.com/menta2k/cropflow/pkg/session"
	"github.com/menta2k/cropflow/pkg/textdetect"
	"github.com/menta2k/cropflow/pkg/types"
)

// Version of the cropflow library
const Version = "1.0.0"

// Engine owns a configured crop session
type Engine struct {
	Session *session.Orchestrator

	cfg       *config.Config
	vision    *detection.VisionDetector
	processor *processing.Processor
	logger    *slog.Logger
}

// New builds the detector and cropper selected by cfg and a session using them
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	det, vision, err := NewDetector(cfg, logger)
	if err != nil {
		return nil, err
	}
	crop := NewCropper(cfg, logger)

	orch := session.New(det, crop,
		session.WithLogger(logger),
		session.WithMaxHeightRatio(cfg.Viewport.MaxHeightRatio),
		session.WithDefaultInset(cfg.Region.DefaultInset),
	)

	return &Engine{
		Session:   orch,
		cfg:       cfg,
		vision:    vision,
		processor: processing.NewProcessor(),
		logger:    logger,
	}, nil
}

// NewDetector returns the detector for cfg.Detector.Backend, bounded by
// cfg.Detector.Timeout. For the model backends the VisionDetector is also
// returned so callers can probe the model.
func NewDetector(cfg *config.Config, logger *slog.Logger) (client.Detector, *detection.VisionDetector, error) {
	var (
		det    client.Detector
		vision *detection.VisionDetector
	)

	switch cfg.Detector.Backend {
	case config.BackendOllama, config.BackendLlamaCpp:
		vc, err := newVisionClient(cfg.Detector)
		if err != nil {
			return nil, nil, err
		}
		vision = detection.NewVisionDetector(vc, detection.Options{
			Model:         cfg.Detector.Model,
			SendFormat:    cfg.Detector.SendFormat,
			SendSize:      cfg.Detector.SendSize,
			SendQuality:   cfg.Detector.SendQuality,
			MinConfidence: cfg.Detector.MinConfidence,
		}, logger)
		det = vision
	case config.BackendContour:
		det = contour.New(contour.Options{
			CannyLow:     cfg.Contour.CannyLow,
			CannyHigh:    cfg.Contour.CannyHigh,
			MinAreaRatio: cfg.Contour.MinAreaRatio,
			MaxAreaRatio: cfg.Contour.MaxAreaRatio,
			Blur:         cfg.Contour.Blur,
		}, logger)
	case config.BackendText:
		det = textdetect.New(textdetect.Options{
			Language:      cfg.Text.Language,
			PaddingRatio:  cfg.Text.PaddingRatio,
			MinConfidence: cfg.Text.MinConfidence,
		}, logger)
	case config.BackendSaliency:
		det = saliency.New(saliency.Options{
			WorkSize:     cfg.Saliency.WorkSize,
			Threshold:    cfg.Saliency.Threshold,
			MinAreaRatio: cfg.Saliency.MinAreaRatio,
			MaxAreaRatio: cfg.Saliency.MaxAreaRatio,
			PaddingRatio: cfg.Saliency.PaddingRatio,
		}, logger)
	case config.BackendNone:
		return client.NoDetector, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector backend: %s", cfg.Detector.Backend)
	}

	return client.WithDetectTimeout(det, cfg.Detector.Timeout), vision, nil
}

func newVisionClient(cfg config.DetectorConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	default:
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		c.SetImageFormat(cfg.SendFormat)
		return c, nil
	}
}

// NewCropper returns the file cropper for cfg.Output, bounded by
// cfg.Cropper.Timeout
func NewCropper(cfg *config.Config, logger *slog.Logger) client.Cropper {
	c := cropper.New(types.OutputOptions{
		Dir:      cfg.Output.Dir,
		Format:   cfg.Output.Format,
		Quality:  cfg.Output.Quality,
		Lossless: cfg.Output.Lossless,
		Prefix:   cfg.Output.Prefix,
		Suffix:   cfg.Output.Suffix,
	}, logger)
	return client.WithCropTimeout(c, cfg.Cropper.Timeout)
}

// Viewport returns the configured viewport size
func (e *Engine) Viewport() types.Dimensions {
	return types.Dimensions{Width: e.cfg.Viewport.Width, Height: e.cfg.Viewport.Height}
}

// StartPhoto reads the photo's pixel size and starts a session for it
func (e *Engine) StartPhoto(ctx context.Context, photoURI string, viewport types.Dimensions) error {
	dims, err := e.processor.ProbeDimensions(ctx, photoURI)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalidInput, err)
	}
	return e.Session.Start(ctx, photoURI, dims, viewport)
}

// Probe asks the vision model to describe the photo. It fails for backends
// without a model.
func (e *Engine) Probe(ctx context.Context, photoURI string) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("backend %s has no vision model to probe", e.cfg.Detector.Backend)
	}
	return e.vision.TestVision(ctx, photoURI)
}

// WriteOverlay draws the session's current region over its photo and saves
// the result to path as PNG
func (e *Engine) WriteOverlay(ctx context.Context, path string) error {
	snap := e.Session.Snapshot()
	if snap.PhotoURI == "" {
		return fmt.Errorf("%w: no photo", session.ErrInvalidState)
	}
	img, err := e.processor.LoadImageSmart(ctx, snap.PhotoURI)
	if err != nil {
		return err
	}
	overlay := e.processor.CreateRegionOverlay(img, snap.Dimensions, snap.Region)
	return e.processor.SaveImage(overlay, path, "png", 0, false)
}

// Close stops background detection
func (e *Engine) Close() {
	e.Session.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
