package cropflow

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cropflow/internal/config"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/session"
	"github.com/menta2k/cropflow/pkg/types"
)

func writePhoto(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "capture.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write photo: %v", err)
	}
	return path
}

func manualConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Detector.Backend = config.BackendNone
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Format = "png"
	return cfg
}

func waitReady(t *testing.T, o *session.Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for o.State() == types.StateDetecting {
		if time.Now().After(deadline) {
			t.Fatal("session stuck in detecting")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineConfirmWritesCrop(t *testing.T) {
	engine, err := New(manualConfig(t), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer engine.Close()

	photo := writePhoto(t, 200, 400)
	if err := engine.StartPhoto(context.Background(), photo, engine.Viewport()); err != nil {
		t.Fatalf("StartPhoto failed: %v", err)
	}
	waitReady(t, engine.Session)

	want := types.CropRegion{X: 20, Y: 100, Width: 160, Height: 140}
	if got := engine.Session.Region(); !near(got, want) {
		t.Errorf("default region = %+v, want %+v", got, want)
	}

	uri, err := engine.Session.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	path, err := processing.LocalPath(uri)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("output %q is not a png", path)
	}
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("failed to open crop: %v", err)
	}
	if img.Bounds().Dx() != 160 || img.Bounds().Dy() != 140 {
		t.Errorf("crop size = %v, want 160x140", img.Bounds())
	}
	if engine.Session.State() != types.StateDone {
		t.Errorf("state = %v, want done", engine.Session.State())
	}
}

func TestEngineStartMissingPhoto(t *testing.T) {
	engine, err := New(manualConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	err = engine.StartPhoto(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), engine.Viewport())
	if !errors.Is(err, session.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestEngineProbeNeedsModel(t *testing.T) {
	engine, err := New(manualConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Probe(context.Background(), "photo.jpg"); err == nil {
		t.Error("expected error probing without a vision backend")
	}
}

func TestEngineWriteOverlay(t *testing.T) {
	engine, err := New(manualConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	out := filepath.Join(t.TempDir(), "overlay.png")
	if err := engine.WriteOverlay(context.Background(), out); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("overlay before start: %v", err)
	}

	if err := engine.StartPhoto(context.Background(), writePhoto(t, 100, 100), engine.Viewport()); err != nil {
		t.Fatal(err)
	}
	waitReady(t, engine.Session)
	if err := engine.WriteOverlay(context.Background(), out); err != nil {
		t.Fatalf("WriteOverlay failed: %v", err)
	}
	if _, err := imaging.Open(out); err != nil {
		t.Errorf("overlay not readable: %v", err)
	}
}

func TestNewDetectorBackends(t *testing.T) {
	cases := []struct {
		backend    string
		url        string
		wantVision bool
		wantErr    bool
	}{
		{config.BackendOllama, "http://localhost:11434", true, false},
		{config.BackendLlamaCpp, "http://localhost:8080", true, false},
		{config.BackendContour, "", false, false},
		{config.BackendText, "", false, false},
		{config.BackendSaliency, "", false, false},
		{config.BackendNone, "", false, false},
		{"tensorflow", "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Detector.Backend = tc.backend
			cfg.Detector.URL = tc.url
			det, vision, err := NewDetector(cfg, nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error = %v", err)
			}
			if tc.wantErr {
				return
			}
			if det == nil {
				t.Error("nil detector")
			}
			if (vision != nil) != tc.wantVision {
				t.Errorf("vision detector = %v, want %v", vision != nil, tc.wantVision)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Viewport.MaxHeightRatio = 3
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected validation error")
	}
}

func near(a, b types.CropRegion) bool {
	const tol = 1e-9
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol &&
		math.Abs(a.Width-b.Width) < tol && math.Abs(a.Height-b.Height) < tol
}
