package client

import (
	"context"

	"github.com/menta2k/cropflow/pkg/types"
)

// VisionClient talks to a multimodal model backend
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Detection, error)
}

// Detector proposes a crop region for a photo. A nil region with a nil
// error means nothing was found.
type Detector interface {
	Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error)
}

// Cropper produces a new image restricted to region and returns its URI
type Cropper interface {
	Crop(ctx context.Context, photoURI string, region types.CropRegion, dims types.Dimensions) (string, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error)

func (f DetectorFunc) Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
	return f(ctx, photoURI, dims)
}

// CropperFunc adapts a function to Cropper
type CropperFunc func(ctx context.Context, photoURI string, region types.CropRegion, dims types.Dimensions) (string, error)

func (f CropperFunc) Crop(ctx context.Context, photoURI string, region types.CropRegion, dims types.Dimensions) (string, error) {
	return f(ctx, photoURI, region, dims)
}

// NoDetector never finds a region; used for manual-only sessions
var NoDetector Detector = DetectorFunc(func(context.Context, string, types.Dimensions) (*types.CropRegion, error) {
	return nil, nil
})
