package worker

import "errors"

var (
	// ErrReconcile wraps any failure that rolled back a reconciliation run
	ErrReconcile = errors.New("reconciliation failed")
	// ErrSweep wraps any failure of an expiry sweep
	ErrSweep = errors.New("expiry sweep failed")
	// ErrShutdownTimeout is returned when in-flight runs outlived the grace period
	ErrShutdownTimeout = errors.New("background tasks did not stop within grace period")
)
