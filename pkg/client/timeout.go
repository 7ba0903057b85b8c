package client

import (
	"context"
	"time"

	"github.com/menta2k/cropflow/pkg/types"
)

// WithDetectTimeout bounds each Detect call by d. A non-positive d returns
// the detector unchanged.
func WithDetectTimeout(det Detector, d time.Duration) Detector {
	if d <= 0 || det == nil {
		return det
	}
	return DetectorFunc(func(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return det.Detect(ctx, photoURI, dims)
	})
}

// WithCropTimeout bounds each Crop call by d. A non-positive d returns the
// cropper unchanged.
func WithCropTimeout(c Cropper, d time.Duration) Cropper {
	if d <= 0 || c == nil {
		return c
	}
	return CropperFunc(func(ctx context.Context, photoURI string, region types.CropRegion, dims types.Dimensions) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Crop(ctx, photoURI, region, dims)
	})
}
