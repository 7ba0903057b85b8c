package types

import "math"

// Dimensions are the pixel dimensions of a captured photo
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both sides are positive and finite
func (d Dimensions) Valid() bool {
	return finite(d.Width) && finite(d.Height) && d.Width > 0 && d.Height > 0
}

// AspectRatio returns width/height, or 0 for invalid dimensions
func (d Dimensions) AspectRatio() float64 {
	if !d.Valid() {
		return 0
	}
	return d.Width / d.Height
}

// DisplayDimensions is the on-screen size of the rendered photo.
// The zero value means the display has not been measured yet.
type DisplayDimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Measured reports whether the display size is usable for transforms
func (d DisplayDimensions) Measured() bool {
	return d.Width > 0 && d.Height > 0
}

// CropRegion is a rectangle in original-image pixel coordinates
type CropRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge
func (r CropRegion) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge
func (r CropRegion) Bottom() float64 { return r.Y + r.Height }

// IsEmpty reports whether the region has no area
func (r CropRegion) IsEmpty() bool {
	return !(r.Width > 0) || !(r.Height > 0)
}

// Finite reports whether every field is a finite number
func (r CropRegion) Finite() bool {
	return finite(r.X) && finite(r.Y) && finite(r.Width) && finite(r.Height)
}

// Rect is a rectangle in display-space coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is the region proposal returned by a vision model
type Detection struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Box         Box     `json:"box"`
	Description string  `json:"description"`
}

// Mode selects where region changes come from
type Mode int

const (
	ModeAuto Mode = iota
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// SessionState is the lifecycle of one crop session
type SessionState int

const (
	StateIdle SessionState = iota
	StateDetecting
	StateReady
	StateConfirming
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateReady:
		return "ready"
	case StateConfirming:
		return "confirming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OutputOptions controls how cropped images are written
type OutputOptions struct {
	Dir      string
	Format   string
	Quality  int
	Lossless bool
	Prefix   string
	Suffix   string
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
