package transitions

import "errors"

var (
	// ErrBusy is returned when a sequence is already running on the same device.
	ErrBusy = errors.New("transitions: another sequence is in progress")

	// ErrDeviceTimeout is returned when the device never reports the transition ended.
	ErrDeviceTimeout = errors.New("transitions: timed out waiting for transition to end")

	// ErrSetStarted is returned when editing a set that is no longer pending.
	ErrSetStarted = errors.New("transitions: set has already started")

	// ErrTransitionNotFound is returned when a step ID is not in the set.
	ErrTransitionNotFound = errors.New("transitions: transition not found")
)
