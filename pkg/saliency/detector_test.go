package saliency

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropflow/pkg/types"
)

// sheetPhoto is a 400x800 gray desk with a white sheet at (100,200)-(300,500)
func sheetPhoto(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 400, 800))
	for y := 0; y < 800; y++ {
		for x := 0; x < 400; x++ {
			c := color.NRGBA{100, 100, 100, 255}
			if x >= 100 && x < 300 && y >= 200 && y < 500 {
				c = color.NRGBA{255, 255, 255, 255}
			}
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "sheet.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectFindsSheet(t *testing.T) {
	d := New(Options{}, nil)
	dims := types.Dimensions{Width: 400, Height: 800}

	region, err := d.Detect(context.Background(), sheetPhoto(t), dims)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if region == nil {
		t.Fatal("expected a region")
	}
	if region.X > 100 || region.Y > 200 || region.Right() < 300 || region.Bottom() < 500 {
		t.Errorf("region %+v does not cover the sheet", *region)
	}
	if area := region.Width * region.Height; area > 0.5*dims.Width*dims.Height {
		t.Errorf("region %+v covers too much of the photo", *region)
	}
}

func TestDetectScalesToReportedDimensions(t *testing.T) {
	d := New(Options{}, nil)
	dims := types.Dimensions{Width: 800, Height: 1600}

	region, err := d.Detect(context.Background(), sheetPhoto(t), dims)
	if err != nil || region == nil {
		t.Fatalf("Detect = %v, %v", region, err)
	}
	if region.X > 200 || region.Y > 400 || region.Right() < 600 || region.Bottom() < 1000 {
		t.Errorf("region %+v does not cover the scaled sheet", *region)
	}
	if region.Right() > dims.Width || region.Bottom() > dims.Height {
		t.Errorf("region %+v outside %+v", *region, dims)
	}
}

func TestDetectUniformPhoto(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 300, 300))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	path := filepath.Join(t.TempDir(), "flat.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}

	region, err := New(Options{}, nil).Detect(context.Background(), path, types.Dimensions{Width: 300, Height: 300})
	if err != nil {
		t.Fatal(err)
	}
	if region != nil {
		t.Errorf("expected no region for a flat photo, got %+v", *region)
	}
}

func TestDetectErrors(t *testing.T) {
	d := New(Options{}, nil)
	if _, err := d.Detect(context.Background(), filepath.Join(t.TempDir(), "missing.png"), types.Dimensions{Width: 1, Height: 1}); err == nil {
		t.Error("expected load error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, sheetPhoto(t), types.Dimensions{Width: 400, Height: 800}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestStarts(t *testing.T) {
	cases := []struct {
		n, size, step int
		want          []int
	}{
		{10, 4, 2, []int{0, 2, 4, 6}},
		{11, 4, 2, []int{0, 2, 4, 6, 7}},
		{3, 3, 1, []int{0}},
	}
	for _, tc := range cases {
		if got := starts(tc.n, tc.size, tc.step); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("starts(%d,%d,%d) = %v, want %v", tc.n, tc.size, tc.step, got, tc.want)
		}
	}
}

func TestPad(t *testing.T) {
	got := pad(image.Rect(5, 5, 95, 50), 0.1, 100, 100)
	want := types.CropRegion{X: 0, Y: 0, Width: 100, Height: 60}
	if got != want {
		t.Errorf("pad = %+v, want %+v", got, want)
	}
}
