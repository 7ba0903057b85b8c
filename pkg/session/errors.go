package session

import "errors"

var (
	// ErrInvalidInput is returned by Start for unusable photo dimensions or URI
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current session state
	ErrInvalidState = errors.New("invalid session state")
	// ErrSessionClosed is returned after Retake, or for edits after a
	// successful confirm
	ErrSessionClosed = errors.New("session closed")
	// ErrDisplayNotReady is returned for display-space operations before the
	// display has been measured
	ErrDisplayNotReady = errors.New("display not measured")
	// ErrDetectionFailed tags detector failures in logs. It is never
	// returned to callers.
	ErrDetectionFailed = errors.New("detection failed")
	// ErrCropFailed matches every *CropError
	ErrCropFailed = errors.New("crop failed")
)

// CropError carries a cropper failure. Its message is the cropper's message,
// unchanged.
type CropError struct {
	Err error
}

func (e *CropError) Error() string {
	if e.Err == nil {
		return ErrCropFailed.Error()
	}
	return e.Err.Error()
}

func (e *CropError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCropFailed) true for any CropError
func (e *CropError) Is(target error) bool { return target == ErrCropFailed }
