package textdetect

import (
	"image"
	"testing"

	"github.com/menta2k/cropflow/pkg/types"
)

func TestUnionWords(t *testing.T) {
	words := []Word{
		{Text: "What", Box: image.Rect(10, 20, 40, 30), Confidence: 91},
		{Text: "is", Box: image.Rect(45, 20, 55, 30), Confidence: 88},
		{Text: "~~", Box: image.Rect(0, 0, 5, 5), Confidence: 12},
		{Text: " ", Box: image.Rect(90, 90, 95, 95), Confidence: 99},
		{Text: "x?", Box: image.Rect(12, 40, 30, 52), Confidence: 70},
	}
	got, ok := unionWords(words, 60)
	if !ok {
		t.Fatal("expected a block")
	}
	if want := image.Rect(10, 20, 55, 52); got != want {
		t.Errorf("union = %v, want %v", got, want)
	}

	if _, ok := unionWords(words[2:4], 60); ok {
		t.Error("expected no block from noise")
	}
	if _, ok := unionWords(nil, 0); ok {
		t.Error("expected no block from no words")
	}
}

func TestPad(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	if got := pad(image.Rect(20, 20, 60, 40), 0.1, bounds); got != image.Rect(16, 18, 64, 42) {
		t.Errorf("pad = %v", got)
	}
	if got := pad(image.Rect(0, 90, 50, 100), 0.5, bounds); got != image.Rect(0, 85, 75, 100) {
		t.Errorf("pad at edge = %v", got)
	}
}

func TestToRegion(t *testing.T) {
	got := toRegion(image.Rect(10, 10, 30, 20), image.Rect(0, 0, 100, 50), types.Dimensions{Width: 400, Height: 200})
	want := types.CropRegion{X: 40, Y: 40, Width: 80, Height: 40}
	if got != want {
		t.Errorf("toRegion = %+v, want %+v", got, want)
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(Options{PaddingRatio: -1}, nil)
	if d.opts.Language != "eng" || d.opts.PaddingRatio != 0 {
		t.Errorf("options = %+v", d.opts)
	}
}
