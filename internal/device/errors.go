package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrUnknownSide) {
//	    // reject the request
//	}
var (
	// ErrUnknownSide is returned when a side is neither left nor right.
	ErrUnknownSide = errors.New("device: unknown side")

	// ErrUnknownCategory is returned when a category name is not recognised.
	ErrUnknownCategory = errors.New("device: unknown category")

	// ErrUnknownPreset is returned when a base preset name is not in the table.
	ErrUnknownPreset = errors.New("device: unknown preset")

	// ErrPodIDRequired is returned by history operations called without a pod id.
	ErrPodIDRequired = errors.New("device: pod id is required")
)
