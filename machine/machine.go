package machine

import (
	"context"
	"fmt"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

// State is the last status reported by the controller.
type State struct {
	Status string
	MPos   coord.Point
	WCO    coord.Point
}

// SessionState is the lifecycle of a streaming session.
type SessionState string

const (
	SessionIdle     SessionState = "IDLE"
	SessionRunning  SessionState = "RUNNING"
	SessionPaused   SessionState = "PAUSED"
	SessionComplete SessionState = "COMPLETE"
	SessionStopped  SessionState = "STOPPED"
)

// Done reports whether the session reached a terminal state.
func (s SessionState) Done() bool { return s == SessionComplete || s == SessionStopped }

// Session is a snapshot of the current execution session. Lines are sent in
// order, so the sent indices are always [0, Sent).
type Session struct {
	ID      string
	State   SessionState
	Index   int
	Sent    int
	Acked   int
	Pending int
	Queued  int
	Total   int
	Errors  int
}

// Rejection is a line the controller answered with `error:`.
type Rejection struct {
	Index int
	Line  string
	Code  string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("line %d %q rejected: error:%s", r.Index, r.Line, r.Code)
}

// Machine wraps an Adapter with manual control commands.
type Machine struct {
	Adapter
}

func NewMachine(a Adapter) *Machine {
	return &Machine{Adapter: a}
}

func (m *Machine) Home(ctx context.Context) error {
	return m.ExecuteBatch(ctx, []string{"$H"})
}

// Unlock clears an alarm lock.
func (m *Machine) Unlock(ctx context.Context) error {
	return m.ExecuteBatch(ctx, []string{"$X"})
}

// Jog moves by d at feed, restoring absolute mode afterwards.
func (m *Machine) Jog(ctx context.Context, d coord.Point, feed float64) error {
	b := gcode.Block{{W: 'G', Arg: 91}, {W: 'G', Arg: 0}, {W: 'X', Arg: d.X}, {W: 'Y', Arg: d.Y}}
	if feed > 0 {
		b[1].Arg = 1
		b = append(b, gcode.Word{W: 'F', Arg: feed})
	}
	return m.ExecuteBatch(ctx, []string{b.String(), "G90"})
}

// SetZero makes the current position the work origin.
func (m *Machine) SetZero(ctx context.Context) error {
	return m.ExecuteBatch(ctx, []string{"G92 X0 Y0"})
}

// ReturnToZero moves to the work origin.
func (m *Machine) ReturnToZero(ctx context.Context) error {
	return m.ExecuteBatch(ctx, []string{"G90 X0 Y0"})
}

// Command sends user supplied lines and waits for them to run.
func (m *Machine) Command(ctx context.Context, lines ...string) error {
	return m.ExecuteBatch(ctx, lines)
}

// Run streams a program and waits for it to finish.
func (m *Machine) Run(ctx context.Context, lines []string) (SessionState, error) {
	if err := m.Start(lines); err != nil {
		return SessionIdle, err
	}
	return m.Wait(ctx)
}
