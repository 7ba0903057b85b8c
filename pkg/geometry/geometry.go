// Package geometry maps crop rectangles between original-image space and
// display space.
//
// Every function here is pure. Transforms assume the display has been
// measured (non-zero); callers are expected to check
// types.DisplayDimensions.Measured before converting.
package geometry

import (
	"math"

	"github.com/menta2k/cropflow/pkg/types"
)

// DefaultMaxHeightRatio caps the displayed photo at 70% of the viewport height
const DefaultMaxHeightRatio = 0.7

// FitToViewport fits original into viewport using DefaultMaxHeightRatio
func FitToViewport(original, viewport types.Dimensions) types.DisplayDimensions {
	return Fit(original, viewport, DefaultMaxHeightRatio)
}

// Fit scales original to the viewport width, preserving aspect ratio. When
// the resulting height would exceed maxHeightRatio*viewport.Height the image
// is fitted to that height instead. An unusable viewport yields the zero
// (unmeasured) display size.
func Fit(original, viewport types.Dimensions, maxHeightRatio float64) types.DisplayDimensions {
	if !original.Valid() || !viewport.Valid() {
		return types.DisplayDimensions{}
	}
	if !(maxHeightRatio > 0) || maxHeightRatio > 1 {
		maxHeightRatio = DefaultMaxHeightRatio
	}

	aspect := original.AspectRatio()
	width := viewport.Width
	height := width / aspect

	if limit := viewport.Height * maxHeightRatio; height > limit {
		height = limit
		width = height * aspect
	}

	return types.DisplayDimensions{Width: width, Height: height}
}

// ToDisplaySpace scales a region from original-image space to display space.
// Both axes are scaled independently.
func ToDisplaySpace(region types.CropRegion, original types.Dimensions, display types.DisplayDimensions) types.Rect {
	sx, sy, ok := scale(original, display)
	if !ok {
		return types.Rect{}
	}
	return types.Rect{
		X:      region.X * sx,
		Y:      region.Y * sy,
		Width:  region.Width * sx,
		Height: region.Height * sy,
	}
}

// ToOriginalSpace is the inverse of ToDisplaySpace. The result is clamped to
// the original bounds and may be empty if rect lies outside the photo.
func ToOriginalSpace(rect types.Rect, original types.Dimensions, display types.DisplayDimensions) types.CropRegion {
	sx, sy, ok := scale(original, display)
	if !ok {
		return types.CropRegion{}
	}
	region := types.CropRegion{
		X:      rect.X / sx,
		Y:      rect.Y / sy,
		Width:  rect.Width / sx,
		Height: rect.Height / sy,
	}
	clamped, _ := ClampRegion(region, original)
	return clamped
}

// ClampRegion intersects region with [0,0]..bounds. ok is false when the
// intersection has no area or the input is not finite.
func ClampRegion(region types.CropRegion, bounds types.Dimensions) (clamped types.CropRegion, ok bool) {
	if !region.Finite() || !bounds.Valid() {
		return types.CropRegion{}, false
	}

	x0 := math.Max(region.X, 0)
	y0 := math.Max(region.Y, 0)
	x1 := math.Min(region.Right(), bounds.Width)
	y1 := math.Min(region.Bottom(), bounds.Height)

	clamped = types.CropRegion{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	return clamped, !clamped.IsEmpty()
}

// Contains reports whether region lies fully inside bounds
func Contains(bounds types.Dimensions, region types.CropRegion) bool {
	return region.Finite() && !region.IsEmpty() &&
		region.X >= 0 && region.Y >= 0 &&
		region.Right() <= bounds.Width && region.Bottom() <= bounds.Height
}

// FromBox converts a normalized box to original-image pixels
func FromBox(b types.Box, dims types.Dimensions) types.CropRegion {
	return types.CropRegion{
		X:      b.X * dims.Width,
		Y:      b.Y * dims.Height,
		Width:  b.W * dims.Width,
		Height: b.H * dims.Height,
	}
}

// Rescale maps a region between two pixel spaces of the same photo, for
// example from reported capture dimensions to the decoded bitmap size.
func Rescale(region types.CropRegion, from, to types.Dimensions) types.CropRegion {
	if !from.Valid() || !to.Valid() {
		return region
	}
	sx := to.Width / from.Width
	sy := to.Height / from.Height
	return types.CropRegion{
		X:      region.X * sx,
		Y:      region.Y * sy,
		Width:  region.Width * sx,
		Height: region.Height * sy,
	}
}

func scale(original types.Dimensions, display types.DisplayDimensions) (sx, sy float64, ok bool) {
	if !original.Valid() || !display.Measured() {
		return 0, 0, false
	}
	return display.Width / original.Width, display.Height / original.Height, true
}
