package runtime

import "errors"

// ErrQueueSaturated is returned when the lane queue's global depth is at or
// above Config.MaxQueueDepth at intake time (spec §4.6 step 3).
var ErrQueueSaturated = errors.New("runtime: queue saturated")

// ErrNotFound is returned by session lookups for an unknown lane key.
var ErrNotFound = errors.New("runtime: not found")

// ErrAuthRequired is returned internally when no provider is authenticated;
// HandleIncoming turns it into the canonical user-facing message rather
// than propagating it.
var ErrAuthRequired = errors.New("runtime: authentication required")
