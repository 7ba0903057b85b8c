// Package contour finds the dominant rectangular object in a photo, a sheet
// of paper or a page, with classic edge detection.
package contour

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"gocv.io/x/gocv"

	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

// Options tune the edge and contour pass
type Options struct {
	CannyLow     float64
	CannyHigh    float64
	MinAreaRatio float64
	MaxAreaRatio float64
	Blur         int
}

// DefaultOptions work for paper on a contrasting surface
var DefaultOptions = Options{
	CannyLow:     50,
	CannyHigh:    150,
	MinAreaRatio: 0.05,
	MaxAreaRatio: 0.95,
	Blur:         5,
}

// Detector proposes the bounding rectangle of the largest contour
type Detector struct {
	opts      Options
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a contour detector. Invalid thresholds fall back to
// DefaultOptions.
func New(opts Options, logger *slog.Logger) *Detector {
	if opts.CannyHigh <= opts.CannyLow || opts.CannyLow < 0 {
		opts.CannyLow, opts.CannyHigh = DefaultOptions.CannyLow, DefaultOptions.CannyHigh
	}
	if opts.MaxAreaRatio <= opts.MinAreaRatio || opts.MaxAreaRatio > 1 {
		opts.MinAreaRatio, opts.MaxAreaRatio = DefaultOptions.MinAreaRatio, DefaultOptions.MaxAreaRatio
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

// Detect runs grayscale, blur, Canny and dilation over the photo and returns
// the bounding box of the largest external contour whose area fraction is
// within the configured range, scaled to dims
func (d *Detector) Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
	img, err := d.read(ctx, photoURI)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rects := d.contourRects(img)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := img.Cols(), img.Rows()
	best, ok := pickLargest(rects, w, h, d.opts.MinAreaRatio, d.opts.MaxAreaRatio)
	if !ok {
		d.logger.Debug("no contour in area range", "contours", len(rects))
		return nil, nil
	}
	region := toRegion(best, w, h, dims)
	d.logger.Debug("contour detected", "contours", len(rects), "rect", best.String())
	return &region, nil
}

func (d *Detector) read(ctx context.Context, photoURI string) (gocv.Mat, error) {
	if strings.HasPrefix(photoURI, "http://") || strings.HasPrefix(photoURI, "https://") {
		decoded, err := d.processor.LoadImageFromURL(ctx, photoURI)
		if err != nil {
			return gocv.NewMat(), err
		}
		return gocv.ImageToMatRGB(decoded)
	}

	path, err := processing.LocalPath(photoURI)
	if err != nil {
		return gocv.NewMat(), err
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("failed to read image %s", path)
	}
	return img, nil
}

func (d *Detector) contourRects(img gocv.Mat) []image.Rectangle {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	if k := blurKernel(d.opts.Blur); k > 0 {
		gocv.GaussianBlur(gray, &gray, image.Point{k, k}, 0, 0, gocv.BorderDefault)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(d.opts.CannyLow), float32(d.opts.CannyHigh))

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{5, 5})
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, gocv.BoundingRect(contours.At(i)))
	}
	return rects
}

// blurKernel returns an odd kernel size, or 0 for no blur
func blurKernel(size int) int {
	if size <= 1 {
		return 0
	}
	if size%2 == 0 {
		size++
	}
	return size
}

// pickLargest returns the largest rect whose share of the w*h image lies in
// [minRatio, maxRatio]
func pickLargest(rects []image.Rectangle, w, h int, minRatio, maxRatio float64) (image.Rectangle, bool) {
	total := float64(w) * float64(h)
	if total <= 0 {
		return image.Rectangle{}, false
	}

	var best image.Rectangle
	bestArea := 0
	for _, r := range rects {
		r = r.Intersect(image.Rect(0, 0, w, h))
		area := r.Dx() * r.Dy()
		if area == 0 {
			continue
		}
		ratio := float64(area) / total
		if ratio < minRatio || ratio > maxRatio {
			continue
		}
		if area > bestArea {
			best, bestArea = r, area
		}
	}
	return best, bestArea > 0
}

// toRegion maps a rect in a w*h bitmap to the coordinate space of dims
func toRegion(r image.Rectangle, w, h int, dims types.Dimensions) types.CropRegion {
	sx, sy := 1.0, 1.0
	if dims.Valid() {
		sx = dims.Width / float64(w)
		sy = dims.Height / float64(h)
	}
	return types.CropRegion{
		X:      float64(r.Min.X) * sx,
		Y:      float64(r.Min.Y) * sy,
		Width:  float64(r.Dx()) * sx,
		Height: float64(r.Dy()) * sy,
	}
}

var _ client.Detector = (*Detector)(nil)
