package session

import "errors"

// Validation errors. Surfaced to callers unchanged, mapped to 400/404.
var (
	ErrBadMode           = errors.New("unknown content mode")
	ErrMissingContentID  = errors.New("content id is required for this mode")
	ErrUnknownAsset      = errors.New("video not found")
	ErrUnknownPlaylist   = errors.New("playlist not found")
	ErrEmptyPlaylist     = errors.New("playlist has no items")
	ErrBadScheduledTime  = errors.New("scheduled time is not a valid RFC3339 timestamp")
	ErrPastScheduledTime = errors.New("scheduled time is in the past")
	ErrBadRecurrence     = errors.New("unknown recurrence")
)

// Policy errors from admission and the scheduler.
var (
	ErrUnknownKey        = errors.New("stream key not found")
	ErrInactiveKey       = errors.New("stream key is inactive")
	ErrKeyBusy           = errors.New("stream key already has an active session")
	ErrCapacityExhausted = errors.New("maximum concurrent streams reached")
	ErrNotPending        = errors.New("schedule is not pending")
)

// Runtime errors. After the start call returns, these are recorded on
// the session row instead of being propagated.
var (
	ErrSpawnFailed    = errors.New("failed to spawn encoder")
	ErrStopFailed     = errors.New("failed to stop encoder")
	ErrOrphanKillFail = errors.New("failed to kill orphan encoder")
)

// Consistency errors. Illegal transitions are programmer errors and
// map to 500.
var (
	ErrIllegalTransition = errors.New("illegal session state transition")
	ErrMissingSession    = errors.New("session not found")
	ErrMissingTrigger    = errors.New("scheduled live not found")
)
