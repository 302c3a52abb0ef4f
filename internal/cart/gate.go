package cart

import "time"

// ConfirmKind names the destructive operation awaiting confirmation
type ConfirmKind int

const (
	ConfirmNone ConfirmKind = iota
	ConfirmRemove
	ConfirmClear
)

func (k ConfirmKind) String() string {
	switch k {
	case ConfirmRemove:
		return "remove"
	case ConfirmClear:
		return "clear"
	default:
		return "none"
	}
}

// Gate holds at most one armed confirmation with a deadline. Expiry is
// checked on access; nothing fires when the deadline passes. A Gate is not
// safe for concurrent use: the Session serializes access under its lock.
type Gate struct {
	timeSource TimeSource
	kind       ConfirmKind
	deadline   time.Time
}

// NewGate creates a disarmed Gate
func NewGate(timeSrc TimeSource) *Gate {
	return &Gate{timeSource: timeSrc}
}

// Arm replaces any armed confirmation with kind, valid for timeout
func (g *Gate) Arm(kind ConfirmKind, timeout time.Duration) {
	g.kind = kind
	g.deadline = g.timeSource.Now().Add(timeout)
}

// TryConsume reports whether kind is armed and unexpired. The gate is
// disarmed either way.
func (g *Gate) TryConsume(kind ConfirmKind) bool {
	ok := g.kind != ConfirmNone && g.kind == kind && !g.IsExpired()
	g.Clear()
	return ok
}

// IsExpired reports whether an armed confirmation's deadline has passed
func (g *Gate) IsExpired() bool {
	return g.kind != ConfirmNone && !g.timeSource.Now().Before(g.deadline)
}

// Pending returns the armed kind, or ConfirmNone when disarmed or expired
func (g *Gate) Pending() ConfirmKind {
	if g.kind == ConfirmNone || g.IsExpired() {
		return ConfirmNone
	}
	return g.kind
}

// Clear disarms the gate
func (g *Gate) Clear() {
	g.kind = ConfirmNone
	g.deadline = time.Time{}
}
