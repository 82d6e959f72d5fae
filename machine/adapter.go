package machine

import (
	"context"
)

// An Adapter is a controller connection that streams lines under flow
// control.
type Adapter interface {
	// Start begins a new session streaming lines.
	Start(lines []string) error

	// Enqueue appends lines to the running session, starting one if idle.
	Enqueue(lines ...string) error

	// ExecuteBatch enqueues lines and waits until they are all acknowledged.
	ExecuteBatch(ctx context.Context, lines []string) error

	Pause() error
	Resume() error
	Stop() error

	// Wait blocks until the session completes or stops.
	Wait(ctx context.Context) (SessionState, error)

	Session() Session
	CurrentState() State
	Position() PositionState
}
