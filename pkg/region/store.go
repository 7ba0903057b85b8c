package region

import (
	"errors"
	"fmt"

	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/types"
)

// ErrInvalidRegion is returned when a candidate region has no area once
// clamped to the photo bounds
var ErrInvalidRegion = errors.New("invalid region")

// Inset describes the default region as fractions of the photo size
type Inset struct {
	X      float64 `json:"x" mapstructure:"x"`
	Y      float64 `json:"y" mapstructure:"y"`
	Width  float64 `json:"width" mapstructure:"width"`
	Height float64 `json:"height" mapstructure:"height"`
}

// DefaultInset is the starting rectangle: 10%/25% in, 80% wide, 35% tall
var DefaultInset = Inset{X: 0.1, Y: 0.25, Width: 0.8, Height: 0.35}

// Valid reports whether the inset describes a non-empty rectangle inside the photo
func (in Inset) Valid() bool {
	return in.X >= 0 && in.Y >= 0 && in.Width > 0 && in.Height > 0 &&
		in.X+in.Width <= 1 && in.Y+in.Height <= 1
}

// DefaultRegion returns the DefaultInset rectangle for dims
func DefaultRegion(dims types.Dimensions) types.CropRegion {
	return DefaultRegionWith(dims, DefaultInset)
}

// DefaultRegionWith returns the inset rectangle for dims. An invalid inset
// falls back to DefaultInset.
func DefaultRegionWith(dims types.Dimensions, in Inset) types.CropRegion {
	if !in.Valid() {
		in = DefaultInset
	}
	return types.CropRegion{
		X:      dims.Width * in.X,
		Y:      dims.Height * in.Y,
		Width:  dims.Width * in.Width,
		Height: dims.Height * in.Height,
	}
}

// ChangeFunc is called after every successful SetRegion
type ChangeFunc func(types.CropRegion)

// Store holds the crop region for one photo and keeps it inside the photo
// bounds. Store is not safe for concurrent use.
type Store struct {
	bounds    types.Dimensions
	region    types.CropRegion
	listeners []ChangeFunc
}

// NewStore creates a store for a photo of the given dimensions, starting at
// the default region for inset
func NewStore(bounds types.Dimensions, in Inset) *Store {
	return &Store{
		bounds: bounds,
		region: DefaultRegionWith(bounds, in),
	}
}

// Bounds returns the photo dimensions the store clamps against
func (s *Store) Bounds() types.Dimensions {
	return s.bounds
}

// Region returns the current region
func (s *Store) Region() types.CropRegion {
	return s.region
}

// Subscribe registers fn for change notifications
func (s *Store) Subscribe(fn ChangeFunc) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

// SetRegion clamps candidate into the photo bounds and stores it. If the
// clamped region has no area the store keeps its previous value and
// ErrInvalidRegion is returned.
func (s *Store) SetRegion(candidate types.CropRegion) (types.CropRegion, error) {
	// a region already inside the bounds is stored as given
	clamped, ok := candidate, geometry.Contains(s.bounds, candidate)
	if !ok {
		clamped, ok = geometry.ClampRegion(candidate, s.bounds)
	}
	if !ok {
		return s.region, fmt.Errorf("%w: %+v outside %gx%g", ErrInvalidRegion, candidate, s.bounds.Width, s.bounds.Height)
	}

	s.region = clamped
	for _, fn := range s.listeners {
		fn(clamped)
	}
	return clamped, nil
}
