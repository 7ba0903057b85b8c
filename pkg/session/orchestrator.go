// Package session coordinates one capture-and-crop session: it owns the crop
// region, the Auto/Manual mode and the session lifecycle, runs the detector
// in Auto mode and hands the final region to the cropper on confirm.
//
// All state lives behind a single mutex. Detection runs in the background
// and its result is applied only if the request's mode token is still
// current, so a late response can never overwrite a region the user is
// editing by hand.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/menta2k/cropflow/pkg/client"
	"github.com/menta2k/cropflow/pkg/geometry"
	"github.com/menta2k/cropflow/pkg/mode"
	"github.com/menta2k/cropflow/pkg/region"
	"github.com/menta2k/cropflow/pkg/types"
)

const confirmKey = "confirm"

// cropJob is one confirm attempt. Callers that arrive while it is in flight
// join it through its key.
type cropJob struct {
	key    string
	ctx    context.Context
	id     string
	uri    string
	dims   types.Dimensions
	region types.CropRegion
}

var errNoCropper = errors.New("no cropper configured")

// Snapshot is a consistent view of the session handed to observers
type Snapshot struct {
	Version    uint64
	SessionID  string
	PhotoURI   string
	Dimensions types.Dimensions
	Display    types.DisplayDimensions
	Mode       types.Mode
	State      types.SessionState
	Region     types.CropRegion
	Processing bool
	ResultURI  string
	Err        error
}

// Listener receives a Snapshot after every state change
type Listener func(Snapshot)

// Orchestrator is the crop session coordinator. Use New to create one and
// Start for every captured photo.
type Orchestrator struct {
	detector       client.Detector
	cropper        client.Cropper
	logger         *slog.Logger
	maxHeightRatio float64
	inset          region.Inset
	newID          func() string

	mu            sync.Mutex
	id            string
	photoURI      string
	dims          types.Dimensions
	viewport      types.Dimensions
	display       types.DisplayDimensions
	store         *region.Store
	modes         *mode.Controller
	state         types.SessionState
	resultURI     string
	lastErr       error
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	detectCancel  context.CancelFunc

	version    uint64
	listeners  map[int]Listener
	nextID     int
	pending    []Snapshot
	delivering bool

	attempt  uint64
	job      cropJob
	confirms singleflight.Group
	wg       sync.WaitGroup
}

// New creates an orchestrator using detector for Auto mode and cropper on
// confirm. A nil detector never finds a region.
func New(detector client.Detector, cropper client.Cropper, opts ...Option) *Orchestrator {
	if detector == nil {
		detector = client.NoDetector
	}
	o := &Orchestrator{
		detector:  detector,
		cropper:   cropper,
		modes:     mode.New(),
		state:     types.StateIdle,
		listeners: make(map[int]Listener),
	}
	defaults(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a session for a freshly captured photo. It computes the
// display size, resets the region to the default inset, switches to Auto and
// issues the initial detection. ctx bounds every background detection of the
// session. Calling Start again discards the previous session.
func (o *Orchestrator) Start(ctx context.Context, photoURI string, dims types.Dimensions, viewport types.Dimensions) error {
	if !dims.Valid() {
		return fmt.Errorf("%w: dimensions %gx%g", ErrInvalidInput, dims.Width, dims.Height)
	}
	if photoURI == "" {
		return fmt.Errorf("%w: empty photo URI", ErrInvalidInput)
	}

	o.mu.Lock()
	if o.state == types.StateConfirming {
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start while confirming", ErrInvalidState)
	}
	o.stopSessionLocked()

	o.id = o.newID()
	o.photoURI = photoURI
	o.dims = dims
	o.viewport = viewport
	o.display = geometry.Fit(dims, viewport, o.maxHeightRatio)
	o.store = region.NewStore(dims, o.inset)
	o.store.Subscribe(o.regionChangedLocked)
	o.resultURI = ""
	o.lastErr = nil
	o.sessionCtx, o.sessionCancel = context.WithCancel(ctx)

	o.modes.Reset()
	token := o.modes.Begin()
	o.state = types.StateDetecting
	o.launchDetectionLocked(token)

	o.logger.Info("crop session started",
		"session", o.id, "photo", photoURI,
		"width", dims.Width, "height", dims.Height,
		"display_width", o.display.Width, "display_height", o.display.Height)
	o.publishLocked()
	o.mu.Unlock()
	o.flush()
	return nil
}

// ToggleMode flips between Auto and Manual. Entering Auto re-runs detection;
// entering Manual keeps the current region as the starting point.
func (o *Orchestrator) ToggleMode() (types.Mode, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		current := o.modes.Mode()
		o.mu.Unlock()
		return current, err
	}

	next, token, detect := o.modes.Toggle()
	o.clearFailureLocked()
	if detect {
		o.state = types.StateDetecting
		o.launchDetectionLocked(token)
	} else {
		o.cancelDetectionLocked()
		if o.state == types.StateDetecting {
			o.state = types.StateReady
		}
	}

	o.logger.Info("crop mode toggled", "session", o.id, "mode", next.String())
	o.publishLocked()
	o.mu.Unlock()
	o.flush()
	return next, nil
}

// UpdateRegionFromDisplay applies a rectangle drawn on the display, in
// display coordinates. It never changes the mode.
func (o *Orchestrator) UpdateRegionFromDisplay(rect types.Rect) (types.CropRegion, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		o.mu.Unlock()
		return types.CropRegion{}, err
	}
	if !o.display.Measured() {
		current := o.store.Region()
		o.mu.Unlock()
		return current, ErrDisplayNotReady
	}

	candidate := geometry.ToOriginalSpace(rect, o.dims, o.display)
	r, err := o.setRegionLocked(candidate)
	o.mu.Unlock()
	o.flush()
	return r, err
}

// SetRegion applies a region given in original-image coordinates. Like
// UpdateRegionFromDisplay it never changes the mode.
func (o *Orchestrator) SetRegion(candidate types.CropRegion) (types.CropRegion, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		o.mu.Unlock()
		return types.CropRegion{}, err
	}
	r, err := o.setRegionLocked(candidate)
	o.mu.Unlock()
	o.flush()
	return r, err
}

// Resize recomputes the display size for a new viewport. The region, kept in
// original-image space, is untouched.
func (o *Orchestrator) Resize(viewport types.Dimensions) (types.DisplayDimensions, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		current := o.display
		o.mu.Unlock()
		return current, err
	}
	o.viewport = viewport
	o.display = geometry.Fit(o.dims, viewport, o.maxHeightRatio)
	o.clearFailureLocked()
	display := o.display
	o.publishLocked()
	o.mu.Unlock()
	o.flush()
	return display, nil
}

// Retake discards the session without producing a crop
func (o *Orchestrator) Retake() error {
	o.mu.Lock()
	switch {
	case o.store == nil:
		o.mu.Unlock()
		return fmt.Errorf("%w: no active session", ErrInvalidState)
	case o.state == types.StateConfirming:
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot retake while confirming", ErrInvalidState)
	case o.state == types.StateDone:
		o.mu.Unlock()
		return ErrSessionClosed
	}

	o.stopSessionLocked()
	o.state = types.StateDone
	o.resultURI = ""
	o.lastErr = nil
	o.logger.Info("crop session retaken", "session", o.id)
	o.publishLocked()
	o.mu.Unlock()
	o.flush()
	return nil
}

// Confirm crops the photo to the current region. Calls made while a crop is
// in flight join it and share its outcome. The crop itself runs under the
// session context, so cancelling ctx only stops this caller from waiting:
// it returns ctx.Err() and the crop carries on for the other callers. On
// failure the session moves to Failed with the region intact and Confirm
// may be called again. After success Confirm keeps returning the same URI.
func (o *Orchestrator) Confirm(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.mu.Lock()
	switch {
	case o.store == nil:
		o.mu.Unlock()
		return "", fmt.Errorf("%w: no active session", ErrInvalidState)
	case o.state == types.StateDone && o.resultURI != "":
		uri := o.resultURI
		o.mu.Unlock()
		return uri, nil
	case o.state == types.StateDone:
		o.mu.Unlock()
		return "", ErrSessionClosed
	case o.state != types.StateConfirming:
		o.beginConfirmLocked()
	}
	// registered under o.mu: while the state is Confirming the job's key is
	// still in flight, so a joiner can never start a second crop
	job := o.job
	ch := o.confirms.DoChan(job.key, func() (interface{}, error) {
		return o.runCrop(job)
	})
	o.mu.Unlock()
	o.flush()

	select {
	case res := <-ch:
		o.flush()
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (o *Orchestrator) beginConfirmLocked() {
	if o.state == types.StateDetecting {
		// the pending result must not replace the region being cropped
		o.modes.Invalidate()
		o.cancelDetectionLocked()
	}
	o.attempt++
	o.job = cropJob{
		key:    fmt.Sprintf("%s-%d", confirmKey, o.attempt),
		ctx:    o.sessionCtx,
		id:     o.id,
		uri:    o.photoURI,
		dims:   o.dims,
		region: o.store.Region(),
	}
	o.state = types.StateConfirming
	o.lastErr = nil
	r := o.job.region
	o.logger.Info("crop confirm started", "session", o.id,
		"x", r.X, "y", r.Y, "width", r.Width, "height", r.Height)
	o.publishLocked()
}

// runCrop executes job outside any caller and records its outcome
func (o *Orchestrator) runCrop(job cropJob) (string, error) {
	out, err := o.crop(job.ctx, job.uri, job.region, job.dims)

	o.mu.Lock()
	if err != nil {
		cerr := &CropError{Err: err}
		o.state = types.StateFailed
		o.lastErr = cerr
		o.logger.Error("crop failed", "session", job.id, "error", err)
		o.publishLocked()
		o.mu.Unlock()
		o.flush()
		return "", cerr
	}

	o.stopSessionLocked()
	o.state = types.StateDone
	o.resultURI = out
	o.logger.Info("crop confirmed", "session", job.id, "result", out)
	o.publishLocked()
	o.mu.Unlock()
	o.flush()
	return out, nil
}

func (o *Orchestrator) crop(ctx context.Context, uri string, r types.CropRegion, dims types.Dimensions) (string, error) {
	if o.cropper == nil {
		return "", errNoCropper
	}
	out, err := o.cropper.Crop(ctx, uri, r, dims)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("cropper returned an empty URI")
	}
	return out, nil
}

// Subscribe registers fn to receive snapshots in mutation order. Listeners
// run outside the session lock and may call back into the orchestrator.
// The returned func removes the listener.
func (o *Orchestrator) Subscribe(fn Listener) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Close cancels background detection and any crop in flight, and waits
// for detection to finish. It may be called from a listener.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stopSessionLocked()
	o.mu.Unlock()
	o.wg.Wait()
}

// Snapshot returns the current session view
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// State returns the session lifecycle state
func (o *Orchestrator) State() types.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Mode returns the current acquisition mode
func (o *Orchestrator) Mode() types.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.modes.Mode()
}

// Region returns the crop region in original-image space
func (o *Orchestrator) Region() types.CropRegion {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.store == nil {
		return types.CropRegion{}
	}
	return o.store.Region()
}

// Display returns the on-screen size of the photo
func (o *Orchestrator) Display() types.DisplayDimensions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.display
}

// DisplayRegion returns the crop region in display space for drawing handles
func (o *Orchestrator) DisplayRegion() (types.Rect, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.store == nil {
		return types.Rect{}, fmt.Errorf("%w: no active session", ErrInvalidState)
	}
	if !o.display.Measured() {
		return types.Rect{}, ErrDisplayNotReady
	}
	return geometry.ToDisplaySpace(o.store.Region(), o.dims, o.display), nil
}

// IsProcessing reports whether a crop is in flight
func (o *Orchestrator) IsProcessing() bool {
	return o.State() == types.StateConfirming
}

func (o *Orchestrator) editableLocked() error {
	switch {
	case o.store == nil:
		return fmt.Errorf("%w: no active session", ErrInvalidState)
	case o.state == types.StateDone:
		return ErrSessionClosed
	case o.state == types.StateConfirming:
		return fmt.Errorf("%w: crop in progress", ErrInvalidState)
	}
	return nil
}

// setRegionLocked writes through the store, whose change callback publishes
// the snapshot. A failed write leaves state and error as they were.
func (o *Orchestrator) setRegionLocked(candidate types.CropRegion) (types.CropRegion, error) {
	prevState, prevErr := o.state, o.lastErr
	o.clearFailureLocked()
	r, err := o.store.SetRegion(candidate)
	if err != nil {
		o.state, o.lastErr = prevState, prevErr
	}
	return r, err
}

// clearFailureLocked moves Failed back to Ready once the user interacts again
func (o *Orchestrator) clearFailureLocked() bool {
	if o.state != types.StateFailed {
		return false
	}
	o.state = types.StateReady
	o.lastErr = nil
	return true
}

// regionChangedLocked runs as the store's change callback, under o.mu
func (o *Orchestrator) regionChangedLocked(types.CropRegion) {
	o.publishLocked()
}

func (o *Orchestrator) launchDetectionLocked(token mode.Token) {
	o.cancelDetectionLocked()
	ctx, cancel := context.WithCancel(o.sessionCtx)
	o.detectCancel = cancel

	id, uri, dims := o.id, o.photoURI, o.dims
	o.wg.Add(1)
	go func() {
		defer cancel()
		done := sync.OnceFunc(o.wg.Done)
		defer done()
		found, err := o.detector.Detect(ctx, uri, dims)
		o.finishDetection(id, token, found, err)
		// listeners run after the slot is released so they may call Close
		done()
		o.flush()
	}()
}

// finishDetection applies an accepted result and queues one snapshot for
// it. The caller flushes.
func (o *Orchestrator) finishDetection(id string, token mode.Token, found *types.CropRegion, err error) {
	o.mu.Lock()
	if !o.modes.Accept(token) {
		o.logger.Debug("stale detection discarded", "session", id, "error", err)
		o.mu.Unlock()
		return
	}
	o.detectCancel = nil
	if o.state == types.StateDetecting {
		o.state = types.StateReady
	}

	published := false
	switch {
	case err != nil:
		o.logger.Warn("detection failed, keeping region", "session", id,
			"error", fmt.Errorf("%w: %w", ErrDetectionFailed, err))
	case found == nil:
		o.logger.Info("detection found no region", "session", id)
	default:
		if _, serr := o.store.SetRegion(*found); serr != nil {
			o.logger.Warn("detected region rejected", "session", id, "error", serr)
		} else {
			// the store callback published the new region
			published = true
			o.logger.Info("detected region applied", "session", id,
				"x", found.X, "y", found.Y, "width", found.Width, "height", found.Height)
		}
	}

	if !published {
		o.publishLocked()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) cancelDetectionLocked() {
	if o.detectCancel != nil {
		o.detectCancel()
		o.detectCancel = nil
	}
}

// stopSessionLocked makes every outstanding detection stale and cancels it
func (o *Orchestrator) stopSessionLocked() {
	o.modes.Invalidate()
	o.cancelDetectionLocked()
	if o.sessionCancel != nil {
		o.sessionCancel()
		o.sessionCancel = nil
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:    o.version,
		SessionID:  o.id,
		PhotoURI:   o.photoURI,
		Dimensions: o.dims,
		Display:    o.display,
		Mode:       o.modes.Mode(),
		State:      o.state,
		Processing: o.state == types.StateConfirming,
		ResultURI:  o.resultURI,
		Err:        o.lastErr,
	}
	if o.store != nil {
		s.Region = o.store.Region()
	}
	return s
}

func (o *Orchestrator) publishLocked() {
	o.version++
	if len(o.listeners) == 0 {
		return
	}
	o.pending = append(o.pending, o.snapshotLocked())
}

// flush delivers pending snapshots. Only one goroutine delivers at a time;
// snapshots queued meanwhile, including by listeners themselves, are picked
// up by the active deliverer in order.
func (o *Orchestrator) flush() {
	o.mu.Lock()
	if o.delivering {
		o.mu.Unlock()
		return
	}
	o.delivering = true

	for len(o.pending) > 0 {
		batch := o.pending
		o.pending = nil
		listeners := make([]Listener, 0, len(o.listeners))
		for _, l := range o.listeners {
			listeners = append(listeners, l)
		}
		o.mu.Unlock()
		for _, snap := range batch {
			for _, l := range listeners {
				o.notify(l, snap)
			}
		}
		o.mu.Lock()
	}

	o.delivering = false
	o.mu.Unlock()
}

func (o *Orchestrator) notify(l Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("session listener panic", "session", snap.SessionID, "error", r)
		}
	}()
	l(snap)
}
