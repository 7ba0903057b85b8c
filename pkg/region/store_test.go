package region

import (
	"errors"
	"testing"

	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/types"
)

func TestDefaultRegion(t *testing.T) {
	got := DefaultRegion(types.Dimensions{Width: 1000, Height: 2000})
	want := types.CropRegion{X: 100, Y: 500, Width: 800, Height: 700}
	if got != want {
		t.Errorf("DefaultRegion = %+v, want %+v", got, want)
	}
}

func TestDefaultRegionWithInvalidInset(t *testing.T) {
	dims := types.Dimensions{Width: 1000, Height: 2000}
	got := DefaultRegionWith(dims, Inset{X: 0.5, Y: 0, Width: 0.8, Height: 0.5})
	if got != DefaultRegion(dims) {
		t.Errorf("invalid inset should fall back to default, got %+v", got)
	}

	custom := DefaultRegionWith(dims, Inset{X: 0, Y: 0, Width: 1, Height: 0.5})
	if custom != (types.CropRegion{X: 0, Y: 0, Width: 1000, Height: 1000}) {
		t.Errorf("custom inset region = %+v", custom)
	}
}

func TestNewStoreStartsAtDefault(t *testing.T) {
	dims := types.Dimensions{Width: 400, Height: 300}
	s := NewStore(dims, DefaultInset)
	if s.Region() != DefaultRegion(dims) {
		t.Errorf("initial region = %+v", s.Region())
	}
	if s.Bounds() != dims {
		t.Errorf("bounds = %+v", s.Bounds())
	}
}

func TestSetRegionClamps(t *testing.T) {
	s := NewStore(types.Dimensions{Width: 100, Height: 100}, DefaultInset)

	got, err := s.SetRegion(types.CropRegion{X: 50, Y: -20, Width: 80, Height: 60})
	if err != nil {
		t.Fatalf("SetRegion failed: %v", err)
	}
	want := types.CropRegion{X: 50, Y: 0, Width: 50, Height: 40}
	if got != want || s.Region() != want {
		t.Errorf("SetRegion = %+v, stored %+v, want %+v", got, s.Region(), want)
	}
	if !geometry.Contains(s.Bounds(), s.Region()) {
		t.Errorf("stored region %+v escapes bounds", s.Region())
	}
}

func TestSetRegionRejectsOutside(t *testing.T) {
	s := NewStore(types.Dimensions{Width: 100, Height: 100}, DefaultInset)
	before := s.Region()

	candidates := []types.CropRegion{
		{X: 150, Y: 10, Width: 20, Height: 20},
		{X: -50, Y: -50, Width: 10, Height: 10},
		{X: 10, Y: 10, Width: 0, Height: 10},
		{X: 10, Y: 10, Width: 10, Height: -1},
	}
	for _, c := range candidates {
		got, err := s.SetRegion(c)
		if !errors.Is(err, ErrInvalidRegion) {
			t.Errorf("SetRegion(%+v) error = %v, want ErrInvalidRegion", c, err)
		}
		if got != before || s.Region() != before {
			t.Errorf("SetRegion(%+v) changed region to %+v", c, s.Region())
		}
	}
}

func TestSubscribeNotifiesOnSuccessOnly(t *testing.T) {
	s := NewStore(types.Dimensions{Width: 100, Height: 100}, DefaultInset)

	var calls []types.CropRegion
	s.Subscribe(func(r types.CropRegion) { calls = append(calls, r) })
	s.Subscribe(nil)

	if _, err := s.SetRegion(types.CropRegion{X: 1, Y: 1, Width: 10, Height: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetRegion(types.CropRegion{X: 500, Y: 1, Width: 10, Height: 10}); err == nil {
		t.Fatal("expected error")
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0] != (types.CropRegion{X: 1, Y: 1, Width: 10, Height: 10}) {
		t.Errorf("notified with %+v", calls[0])
	}
}

func TestSetRegionKeepsInBoundsRegionExact(t *testing.T) {
	s := NewStore(types.Dimensions{Width: 1, Height: 1}, DefaultInset)
	candidate := types.CropRegion{X: 0.1, Y: 0.2, Width: 0.7, Height: 0.3}
	got, err := s.SetRegion(candidate)
	if err != nil {
		t.Fatal(err)
	}
	if got != candidate || s.Region() != candidate {
		t.Errorf("stored %+v, want %+v unchanged", s.Region(), candidate)
	}
}
