package session

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/region"
)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxHeightRatio sets the fraction of the viewport height the photo may
// occupy
func WithMaxHeightRatio(ratio float64) Option {
	return func(o *Orchestrator) {
		if ratio > 0 && ratio <= 1 {
			o.maxHeightRatio = ratio
		}
	}
}

// WithDefaultInset sets the region used at session start
func WithDefaultInset(in region.Inset) Option {
	return func(o *Orchestrator) {
		if in.Valid() {
			o.inset = in
		}
	}
}

// WithIDGenerator replaces the session ID source
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func defaults(o *Orchestrator) {
	o.logger = slog.New(slog.DiscardHandler)
	o.maxHeightRatio = geometry.DefaultMaxHeightRatio
	o.inset = region.DefaultInset
	o.newID = uuid.NewString
}
