package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/types"
)

type fakeVision struct {
	det    *types.Detection
	err    error
	model  string
	prompt string
	gotB64 bool
	answer string
}

func (f *fakeVision) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.model, f.prompt, f.gotB64 = model, prompt, imgB64 != ""
	return f.answer, f.err
}

func (f *fakeVision) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Detection, error) {
	f.model, f.prompt, f.gotB64 = model, prompt, imgB64 != ""
	return f.det, f.err
}

func writePhoto(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 200))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(50, 100, color.Black)
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return processing.FileURI(path)
}

var dims = types.Dimensions{Width: 1000, Height: 2000}

func TestDetectConvertsBox(t *testing.T) {
	fv := &fakeVision{det: &types.Detection{
		Label:      "question",
		Confidence: 0.9,
		Box:        types.Box{X: 0.1, Y: 0.25, W: 0.5, H: 0.25},
	}}
	d := NewVisionDetector(fv, Options{Model: "qwen2.5vl"}, nil)

	region, err := d.Detect(context.Background(), writePhoto(t), dims)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	want := types.CropRegion{X: 100, Y: 500, Width: 500, Height: 500}
	if region == nil || !near(*region, want) {
		t.Errorf("region = %+v, want %+v", region, want)
	}
	if fv.model != "qwen2.5vl" || fv.prompt != DefaultPrompt || !fv.gotB64 {
		t.Errorf("client called with model %q, default prompt %v, image %v", fv.model, fv.prompt == DefaultPrompt, fv.gotB64)
	}
}

func TestDetectClampsOverflowingBox(t *testing.T) {
	fv := &fakeVision{det: &types.Detection{
		Label:      "page",
		Confidence: 0.8,
		Box:        types.Box{X: 0.5, Y: -0.1, W: 0.8, H: 0.6},
	}}
	d := NewVisionDetector(fv, Options{}, nil)

	region, err := d.Detect(context.Background(), writePhoto(t), dims)
	if err != nil {
		t.Fatal(err)
	}
	want := types.CropRegion{X: 500, Y: 0, Width: 500, Height: 1000}
	if region == nil || !near(*region, want) {
		t.Errorf("region = %+v, want %+v", region, want)
	}
}

func TestDetectIgnoresUnusableAnswers(t *testing.T) {
	cases := []struct {
		name string
		det  *types.Detection
	}{
		{"none", &types.Detection{Label: "none", Confidence: 0.9, Box: types.Box{W: 0.5, H: 0.5}}},
		{"low confidence", &types.Detection{Label: "page", Confidence: 0.05, Box: types.Box{W: 0.5, H: 0.5}}},
		{"degenerate", &types.Detection{Label: "page", Confidence: 0.9, Box: types.Box{X: 0.2, Y: 0.2}}},
		{"outside", &types.Detection{Label: "page", Confidence: 0.9, Box: types.Box{X: 1.5, Y: 0.2, W: 0.3, H: 0.3}}},
		{"fallback", &types.Detection{Label: "parse error", Confidence: 0.9, Box: types.Box{W: 0.5, H: 0.5}}},
	}
	photo := writePhoto(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewVisionDetector(&fakeVision{det: tc.det}, Options{}, nil)
			region, err := d.Detect(context.Background(), photo, dims)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if region != nil {
				t.Errorf("expected no region, got %+v", region)
			}
		})
	}
}

func TestDetectPropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	d := NewVisionDetector(&fakeVision{err: boom}, Options{}, nil)
	if _, err := d.Detect(context.Background(), writePhoto(t), dims); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped client error", err)
	}

	if _, err := d.Detect(context.Background(), "file:///does/not/exist.png", dims); err == nil {
		t.Error("expected load error")
	}
}

func TestDetectHonorsCancel(t *testing.T) {
	fv := &fakeVision{det: &types.Detection{Label: "page", Confidence: 1, Box: types.Box{W: 1, H: 1}}}
	d := NewVisionDetector(fv, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, writePhoto(t), dims); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if fv.gotB64 {
		t.Error("model queried after cancel")
	}
}

func TestTestVision(t *testing.T) {
	fv := &fakeVision{answer: "a worksheet"}
	d := NewVisionDetector(fv, Options{Model: "m"}, nil)

	got, err := d.TestVision(context.Background(), writePhoto(t))
	if err != nil || got != "a worksheet" {
		t.Errorf("TestVision = %q, %v", got, err)
	}
	if fv.prompt != SimpleTestPrompt {
		t.Errorf("prompt = %q", fv.prompt)
	}
}

func TestNormalizeBox(t *testing.T) {
	got := normalizeBox(types.Box{X: -0.2, Y: 0.9, W: 0.5, H: 0.5})
	want := types.Box{X: 0, Y: 0.9, W: 0.3, H: 0.1}
	const tol = 1e-9
	if abs(got.X-want.X) > tol || abs(got.Y-want.Y) > tol || abs(got.W-want.W) > tol || abs(got.H-want.H) > tol {
		t.Errorf("normalizeBox = %+v, want %+v", got, want)
	}
}

func near(a, b types.CropRegion) bool {
	const tol = 1e-6
	return abs(a.X-b.X) < tol && abs(a.Y-b.Y) < tol && abs(a.Width-b.Width) < tol && abs(a.Height-b.Height) < tol
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
