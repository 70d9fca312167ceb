// Package channels implements external message-surface adapters (spec §6's
// CLI `--no-telegram` toggle and the general "channel" concept referenced
// throughout spec.md's Incoming.source).
package channels

import "context"

// Channel is a messaging platform integration.
type Channel interface {
	// Name returns the channel's identifier, used as Incoming.Source.
	Name() string

	// Start begins listening for messages. It blocks until ctx is cancelled
	// or a fatal error occurs.
	Start(ctx context.Context) error
}
