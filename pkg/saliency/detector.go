// Package saliency finds the visually busy part of a photo without a model
// or native libraries. It scores pixels by edge strength and contrast
// against the mean brightness, then unions the sliding windows that score
// close to the best one.
package saliency

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

// Options tune the saliency detector
type Options struct {
	WorkSize       int     // long side of the analysis image
	EdgeWeight     float64
	ContrastWeight float64
	Threshold      float64 // fraction of the best window score a window needs
	MinScore       float64 // best window score below which nothing is salient
	MinAreaRatio   float64
	MaxAreaRatio   float64
	PaddingRatio   float64
}

// DefaultOptions suit a sheet of paper on a plain surface
var DefaultOptions = Options{
	WorkSize:       256,
	EdgeWeight:     0.8,
	ContrastWeight: 0.2,
	Threshold:      0.35,
	MinScore:       0.01,
	MinAreaRatio:   0.02,
	MaxAreaRatio:   0.95,
	PaddingRatio:   0.01,
}

// Detector is a client.Detector backed by a saliency map
type Detector struct {
	processor *processing.Processor
	opts      Options
	logger    *slog.Logger
}

// New creates a saliency detector; zero options take their defaults
func New(opts Options, logger *slog.Logger) *Detector {
	if opts.WorkSize <= 0 {
		opts.WorkSize = DefaultOptions.WorkSize
	}
	if opts.EdgeWeight <= 0 && opts.ContrastWeight <= 0 {
		opts.EdgeWeight, opts.ContrastWeight = DefaultOptions.EdgeWeight, DefaultOptions.ContrastWeight
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultOptions.Threshold
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultOptions.MinScore
	}
	if opts.MaxAreaRatio <= opts.MinAreaRatio || opts.MaxAreaRatio > 1 {
		opts.MinAreaRatio, opts.MaxAreaRatio = DefaultOptions.MinAreaRatio, DefaultOptions.MaxAreaRatio
	}
	if opts.PaddingRatio < 0 {
		opts.PaddingRatio = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}
}

// Detect returns the salient region of the photo in the coordinate space of
// dims, or nil when the photo is uniform or salient everywhere
func (d *Detector) Detect(ctx context.Context, photoURI string, dims types.Dimensions) (*types.CropRegion, error) {
	img, err := d.processor.LoadImageSmart(ctx, photoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to load photo: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	small := imaging.Grayscale(imaging.Fit(img, d.opts.WorkSize, d.opts.WorkSize, imaging.Box))
	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	smap := d.saliencyMap(small)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rect, best := d.salientBounds(smap, w, h)
	if rect.Empty() {
		d.logger.Debug("saliency: nothing salient", "best", best)
		return nil, nil
	}
	ratio := float64(rect.Dx()*rect.Dy()) / float64(w*h)
	if ratio < d.opts.MinAreaRatio || ratio > d.opts.MaxAreaRatio {
		d.logger.Debug("saliency: region rejected", "area_ratio", ratio)
		return nil, nil
	}

	work := types.Dimensions{Width: float64(w), Height: float64(h)}
	if !dims.Valid() {
		dims = work
	}
	region := geometry.Rescale(pad(rect, d.opts.PaddingRatio, w, h), work, dims)
	clamped, ok := geometry.ClampRegion(region, dims)
	if !ok {
		return nil, nil
	}
	d.logger.Debug("saliency region", "area_ratio", ratio, "best", best)
	return &clamped, nil
}

// saliencyMap scores every pixel of a grayscale image in [0,1]
func (d *Detector) saliencyMap(gray *image.NRGBA) [][]float64 {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	lum := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4]) / 255
	}

	var mean float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mean += lum(x, y)
		}
	}
	mean /= float64(w * h)

	smap := make([][]float64, h)
	for y := range smap {
		smap[y] = make([]float64, w)
	}
	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := lum(x, y)
			var edge float64
			for _, o := range neighbors {
				edge += math.Abs(c - lum(x+o[0], y+o[1]))
			}
			edge /= 8
			smap[y][x] = d.opts.EdgeWeight*edge + d.opts.ContrastWeight*math.Abs(c-mean)
		}
	}
	return smap
}

// salientBounds unions the windows scoring at least Threshold of the best
// window. It also returns the best window score.
func (d *Detector) salientBounds(smap [][]float64, w, h int) (image.Rectangle, float64) {
	size := max(min(w, h)/8, 3)
	size = min(size, w, h)
	step := max(size/2, 1)

	type window struct {
		rect  image.Rectangle
		score float64
	}
	var windows []window
	best := 0.0
	for _, y := range starts(h, size, step) {
		for _, x := range starts(w, size, step) {
			s := windowScore(smap, x, y, size)
			windows = append(windows, window{image.Rect(x, y, x+size, y+size), s})
			best = math.Max(best, s)
		}
	}
	if best < d.opts.MinScore {
		return image.Rectangle{}, best
	}

	var bounds image.Rectangle
	for _, win := range windows {
		if win.score >= best*d.opts.Threshold {
			bounds = bounds.Union(win.rect)
		}
	}
	return bounds, best
}

// starts lists window origins covering [0,n) with the last window flush
// against the far edge
func starts(n, size, step int) []int {
	var out []int
	for p := 0; p+size <= n; p += step {
		out = append(out, p)
	}
	if last := n - size; len(out) == 0 || out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}

func windowScore(smap [][]float64, x, y, size int) float64 {
	var total float64
	for ry := y; ry < y+size; ry++ {
		for rx := x; rx < x+size; rx++ {
			total += smap[ry][rx]
		}
	}
	return total / float64(size*size)
}

func pad(r image.Rectangle, ratio float64, w, h int) types.CropRegion {
	px := ratio * float64(w)
	py := ratio * float64(h)
	x0 := math.Max(0, float64(r.Min.X)-px)
	y0 := math.Max(0, float64(r.Min.Y)-py)
	x1 := math.Min(float64(w), float64(r.Max.X)+px)
	y1 := math.Min(float64(h), float64(r.Max.Y)+py)
	return types.CropRegion{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

var _ client.Detector = (*Detector)(nil)
