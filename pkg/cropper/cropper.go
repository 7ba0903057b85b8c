// Package cropper writes the confirmed crop region of a photo to a new file.
package cropper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/cropflow/internal/utils"
	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

// DefaultOutput is used for zero fields of the cropper's output options
var DefaultOutput = types.OutputOptions{
	Format:  "jpg",
	Quality: 90,
	Suffix:  "_crop",
}

// Cropper crops photos to a region and saves the result
type Cropper struct {
	processor *processing.Processor
	output    types.OutputOptions
	newID     func() string
	logger    *slog.Logger
}

// New creates a cropper writing files according to output. An empty
// output.Dir writes next to local photos and into the temp dir for remote
// ones.
func New(output types.OutputOptions, logger *slog.Logger) *Cropper {
	if output.Quality <= 0 || output.Quality > 100 {
		output.Quality = DefaultOutput.Quality
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cropper{
		processor: processing.NewProcessor(),
		output:    output,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// Crop writes the region of the photo at photoURI to a new file and returns
// its file:// URI. region is expressed for a photo of size dims.
func (c *Cropper) Crop(ctx context.Context, photoURI string, region types.CropRegion, dims types.Dimensions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()

	img, err := c.processor.LoadImageSmart(ctx, photoURI)
	if err != nil {
		return "", fmt.Errorf("failed to load photo: %w", err)
	}

	cropped, err := c.processor.CropImageToRegion(img, region, dims)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	base, dir := sourceName(photoURI)
	if c.output.Dir != "" {
		dir = c.output.Dir
	}
	if err := utils.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	format := c.format(base)
	id := c.newID()
	if len(id) > 8 {
		id = id[:8]
	}
	out := utils.GenerateOutputFilename(base, dir, c.output.Prefix, c.suffix()+"-"+id, format)

	if err := c.processor.SaveImage(cropped, out, format, c.output.Quality, c.output.Lossless); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("failed to save crop: %w", err)
	}

	b := cropped.Bounds()
	c.logger.Debug("crop written", "path", out, "width", b.Dx(), "height", b.Dy(),
		"elapsed", time.Since(start))
	return processing.FileURI(out), nil
}

func (c *Cropper) suffix() string {
	if c.output.Suffix == "" {
		return DefaultOutput.Suffix
	}
	return c.output.Suffix
}

// format picks the configured output format, else the source extension
func (c *Cropper) format(base string) string {
	format := strings.ToLower(c.output.Format)
	if format == "" {
		format = utils.GetFileExtension(base)
	}
	switch format {
	case "jpeg":
		return "jpg"
	case "jpg", "png", "webp":
		return format
	default:
		return DefaultOutput.Format
	}
}

// sourceName returns the file name of the photo and the directory crops go
// to by default
func sourceName(photoURI string) (base, dir string) {
	if strings.HasPrefix(photoURI, "http://") || strings.HasPrefix(photoURI, "https://") {
		name := "photo"
		if u, err := url.Parse(photoURI); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
			name = path.Base(u.Path)
		}
		return name, os.TempDir()
	}
	p, err := processing.LocalPath(photoURI)
	if err != nil {
		return "photo", os.TempDir()
	}
	return filepath.Base(p), filepath.Dir(p)
}

var _ client.Cropper = (*Cropper)(nil)
