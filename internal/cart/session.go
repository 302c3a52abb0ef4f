package cart

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/smartkart/internal/product"
)

// DefaultConfirmTimeout is how long a remove or clear request waits for confirmation
const DefaultConfirmTimeout = 5 * time.Second

var sessionActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smartkart_session_actions_total",
	Help: "Session operations by name and whether they changed anything",
}, []string{"action", "outcome"})

// Mode is the session's current interaction mode
type Mode int

const (
	ModeScanning Mode = iota
	ModeItemPending
	ModeCartReview
)

func (m Mode) String() string {
	switch m {
	case ModeScanning:
		return "scanning"
	case ModeItemPending:
		return "item_pending"
	case ModeCartReview:
		return "cart_review"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	for _, mode := range []Mode{ModeScanning, ModeItemPending, ModeCartReview} {
		if mode.String() == string(text) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", text)
}

// Direction is a cart navigation direction
type Direction int

const (
	Next Direction = iota
	Previous
)

// Announcer speaks text to the user
type Announcer interface {
	// Speak blocks until the text has been spoken
	Speak(text string)
	// SpeakAsync queues the text; priority puts it ahead of queued text
	SpeakAsync(text string, priority bool)
}

// History persists items added to the cart
type History interface {
	Record(item Item) (*Record, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

type nopAnnouncer struct{}

func (nopAnnouncer) Speak(string)            {}
func (nopAnnouncer) SpeakAsync(string, bool) {}

// effects collects what an operation wants to happen outside the lock
type effects struct {
	say      []string
	priority bool
	record   *Item
}

func (e *effects) speak(format string, args ...any) {
	e.say = append(e.say, fmt.Sprintf(format, args...))
}

// Session is the shopping session shared by the capture loop and every
// control surface. All state lives behind mu; announcements and history
// writes happen after it is released.
type Session struct {
	announcer      Announcer
	history        History
	timeSource     TimeSource
	confirmTimeout time.Duration

	mu      sync.Mutex
	mode    Mode
	pending *Item
	items   []Item
	cursor  int // -1 unless reviewing a non-empty cart
	ignored map[string]bool
	gate    *Gate
	last    *Item
}

// NewSession creates a Session in scanning mode
func NewSession(announcer Announcer, history History, confirmTimeout time.Duration) *Session {
	return NewSessionWithDeps(announcer, history, confirmTimeout, &defaultTimeSource{})
}

// NewSessionWithDeps creates a Session with a custom time source for testing
func NewSessionWithDeps(announcer Announcer, history History, confirmTimeout time.Duration, timeSrc TimeSource) *Session {
	if announcer == nil {
		announcer = nopAnnouncer{}
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &Session{
		announcer:      announcer,
		history:        history,
		timeSource:     timeSrc,
		confirmTimeout: confirmTimeout,
		mode:           ModeScanning,
		cursor:         -1,
		ignored:        make(map[string]bool),
		gate:           NewGate(timeSrc),
	}
}

// run applies fn under the lock, then performs its side effects
func (s *Session) run(name string, fn func(e *effects) bool) {
	var e effects
	s.mu.Lock()
	applied := fn(&e)
	s.mu.Unlock()

	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	sessionActions.WithLabelValues(name, outcome).Inc()

	if e.record != nil && s.history != nil {
		if _, err := s.history.Record(*e.record); err != nil {
			slog.Error("Failed to record cart item", "barcode", e.record.Barcode, "error", err)
		}
	}
	if len(e.say) > 0 {
		text := strings.Join(e.say, " ")
		slog.Info("Announcing", "action", name, "text", text)
		s.announcer.SpeakAsync(text, e.priority)
	}
}

// enter switches mode and restores the per-mode invariants
func (s *Session) enter(m Mode) {
	if m != ModeItemPending {
		s.pending = nil
	}
	s.cursor = -1
	if m == ModeCartReview && len(s.items) > 0 {
		s.cursor = 0
	}
	if m == ModeScanning {
		clear(s.ignored)
	}
	s.mode = m
}

func (s *Session) indexOf(barcode string) int {
	for i := range s.items {
		if s.items[i].Barcode == barcode {
			return i
		}
	}
	return -1
}

func (s *Session) notAvailable(e *effects, what string) {
	var where string
	switch s.mode {
	case ModeScanning:
		where = "while scanning"
	case ModeItemPending:
		where = "while an item is waiting"
	case ModeCartReview:
		where = "in cart view"
	}
	e.speak("%s is not available %s.", what, where)
}

func (s *Session) describeCurrent(e *effects) {
	e.speak("Item %d of %d: %s.", s.cursor+1, len(s.items), s.items[s.cursor].Name)
}

func describeProduct(e *effects, item Item) {
	if item.Brand != "" {
		e.speak("%s by %s.", item.Name, item.Brand)
	} else {
		e.speak("%s.", item.Name)
	}
	if len(item.Allergens) > 0 {
		e.speak("Warning: contains %s.", strings.Join(item.Allergens, ", "))
	}
}

func countItems(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

// OnScanResult applies the outcome of looking up a verified barcode.
// lookupErr reports a failed lookup, distinct from an unknown product.
func (s *Session) OnScanResult(barcode string, p *product.Product, lookupErr error) {
	s.run("scan", func(e *effects) bool {
		if s.mode != ModeScanning {
			if s.ignored[barcode] {
				return false
			}
			s.ignored[barcode] = true
			if s.mode == ModeItemPending {
				e.speak("Waiting on the previous item. Add or cancel it first.")
			} else {
				e.speak("In cart view. Exit the cart to scan.")
			}
			return false
		}

		if i := s.indexOf(barcode); i >= 0 {
			e.speak("%s is already in your cart.", s.items[i].Name)
			return false
		}

		item := newItem(barcode, p, lookupErr, s.timeSource.Now())
		s.enter(ModeItemPending)
		s.pending = &item
		last := item.clone()
		s.last = &last

		switch {
		case item.LookupFailed:
			e.speak("Could not look up this product. Check the network connection.")
		case !item.FoundInCatalog:
			e.speak("Product not found.")
		default:
			describeProduct(e, item)
		}
		return true
	})
}

// ConfirmAdd moves the pending item into the cart
func (s *Session) ConfirmAdd() {
	s.run(ActionConfirmAdd.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeItemPending {
			s.notAvailable(e, "Adding")
			return false
		}
		if !s.pending.FoundInCatalog {
			if s.pending.LookupFailed {
				e.speak("Cannot add this product because the lookup failed. Cancel and scan it again.")
			} else {
				e.speak("Cannot add an unknown product.")
			}
			return false
		}

		item := s.pending.clone()
		s.items = append(s.items, item)
		record := item.clone()
		e.record = &record
		s.enter(ModeScanning)
		e.speak("Added %s. %s in your cart.", item.Name, countItems(len(s.items)))
		return true
	})
}

// CancelPending drops the pending item
func (s *Session) CancelPending() {
	s.run(ActionCancelPending.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeItemPending {
			s.notAvailable(e, "Cancel")
			return false
		}
		s.enter(ModeScanning)
		e.speak("Cancelled.")
		return true
	})
}

// SpeakAllergens reads the pending item's allergens
func (s *Session) SpeakAllergens() {
	s.run(ActionSpeakAllergens.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeItemPending {
			s.notAvailable(e, "Allergen information")
			return false
		}
		switch {
		case !s.pending.FoundInCatalog:
			e.speak("No product information available.")
		case len(s.pending.Allergens) == 0:
			e.speak("No allergens listed for %s.", s.pending.Name)
		default:
			e.speak("%s contains %s.", s.pending.Name, strings.Join(s.pending.Allergens, ", "))
		}
		return true
	})
}

// EnterCartReview abandons any pending item and starts reviewing the cart
func (s *Session) EnterCartReview() {
	s.run(ActionEnterCartReview.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode == ModeCartReview {
			s.notAvailable(e, "Opening the cart")
			return false
		}
		s.enter(ModeCartReview)
		if len(s.items) == 0 {
			e.speak("Your cart is empty.")
			return true
		}
		e.speak("Your cart has %s.", countItems(len(s.items)))
		s.describeCurrent(e)
		return true
	})
}

// ExitCartReview returns to scanning
func (s *Session) ExitCartReview() {
	s.run(ActionExitCartReview.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Leaving the cart")
			return false
		}
		s.enter(ModeScanning)
		e.speak("Scanning.")
		return true
	})
}

// Navigate moves the cart cursor, wrapping at both ends
func (s *Session) Navigate(dir Direction) {
	name := ActionNext.String()
	if dir == Previous {
		name = ActionPrevious.String()
	}
	s.run(name, func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Navigation")
			return false
		}
		n := len(s.items)
		if n == 0 {
			e.speak("Your cart is empty.")
			return false
		}
		if dir == Previous {
			s.cursor = (s.cursor - 1 + n) % n
		} else {
			s.cursor = (s.cursor + 1) % n
		}
		s.describeCurrent(e)
		return true
	})
}

// SpeakCurrentIngredients reads the ingredients of the item under the cursor
func (s *Session) SpeakCurrentIngredients() {
	s.run(ActionSpeakIngredients.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Ingredients")
			return false
		}
		if s.cursor < 0 {
			e.speak("Your cart is empty.")
			return false
		}
		item := s.items[s.cursor]
		if item.IngredientsText == "" {
			e.speak("No ingredients listed for %s.", item.Name)
		} else {
			e.speak("Ingredients of %s: %s", item.Name, item.IngredientsText)
		}
		return true
	})
}

func (s *Session) confirmSeconds() int {
	return int(math.Ceil(s.confirmTimeout.Seconds()))
}

// RequestRemove asks the user to confirm removing the item under the cursor
func (s *Session) RequestRemove() {
	s.run(ActionRequestRemove.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Removing")
			return false
		}
		if s.cursor < 0 {
			e.speak("Your cart is empty.")
			return false
		}
		s.gate.Arm(ConfirmRemove, s.confirmTimeout)
		e.priority = true
		e.speak("Remove %s? Press confirm within %d seconds.", s.items[s.cursor].Name, s.confirmSeconds())
		return true
	})
}

// ConfirmRemove removes the item under the cursor if a remove request is still armed
func (s *Session) ConfirmRemove() {
	s.run(ActionConfirmRemove.String(), func(e *effects) bool {
		armed := s.gate.TryConsume(ConfirmRemove)
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Removing")
			return false
		}
		if !armed || s.cursor < 0 {
			e.speak("Nothing to confirm.")
			return false
		}

		removed := s.items[s.cursor]
		s.items = slices.Delete(s.items, s.cursor, s.cursor+1)
		if len(s.items) == 0 {
			s.cursor = -1
			e.speak("Removed %s. Your cart is empty.", removed.Name)
			return true
		}
		s.cursor = min(s.cursor, len(s.items)-1)
		e.speak("Removed %s.", removed.Name)
		s.describeCurrent(e)
		return true
	})
}

// RequestClear asks the user to confirm emptying the cart
func (s *Session) RequestClear() {
	s.run(ActionRequestClear.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Clearing the cart")
			return false
		}
		if len(s.items) == 0 {
			e.speak("Your cart is empty.")
			return false
		}
		s.gate.Arm(ConfirmClear, s.confirmTimeout)
		e.priority = true
		e.speak("Clear all %s? Press confirm within %d seconds.", countItems(len(s.items)), s.confirmSeconds())
		return true
	})
}

// ConfirmClear empties the cart if a clear request is still armed
func (s *Session) ConfirmClear() {
	s.run(ActionConfirmClear.String(), func(e *effects) bool {
		armed := s.gate.TryConsume(ConfirmClear)
		if s.mode != ModeCartReview {
			s.notAvailable(e, "Clearing the cart")
			return false
		}
		if !armed {
			e.speak("Nothing to confirm.")
			return false
		}
		s.items = nil
		s.enter(ModeScanning)
		e.speak("Cart cleared.")
		return true
	})
}

// RepeatLast repeats the most recent scan result in any mode
func (s *Session) RepeatLast() {
	s.run(ActionRepeatLast.String(), func(e *effects) bool {
		s.gate.Clear()
		if s.last == nil {
			e.speak("No items have been scanned yet.")
			return false
		}
		e.speak("Last scanned item:")
		describeProduct(e, *s.last)
		return true
	})
}

// Snapshot is a point-in-time copy of the session
type Snapshot struct {
	Mode                Mode   `json:"mode"`
	Pending             *Item  `json:"pending,omitempty"`
	Items               []Item `json:"items"`
	Cursor              *int   `json:"cursor,omitempty"`
	PendingConfirmation string `json:"pending_confirmation,omitempty"`
}

// Snapshot copies the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Mode:  s.mode,
		Items: make([]Item, 0, len(s.items)),
	}
	for _, item := range s.items {
		snap.Items = append(snap.Items, item.clone())
	}
	if s.pending != nil {
		pending := s.pending.clone()
		snap.Pending = &pending
	}
	if s.cursor >= 0 {
		cursor := s.cursor
		snap.Cursor = &cursor
	}
	if kind := s.gate.Pending(); kind != ConfirmNone {
		snap.PendingConfirmation = kind.String()
	}
	return snap
}

// checkInvariants reports the first broken session invariant
func (s *Session) checkInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if (s.pending != nil) != (s.mode == ModeItemPending) {
		return fmt.Errorf("pending item set=%t in mode %s", s.pending != nil, s.mode)
	}
	wantCursor := s.mode == ModeCartReview && len(s.items) > 0
	if (s.cursor >= 0) != wantCursor {
		return fmt.Errorf("cursor %d in mode %s with %d items", s.cursor, s.mode, len(s.items))
	}
	if s.cursor >= len(s.items) {
		return fmt.Errorf("cursor %d out of range for %d items", s.cursor, len(s.items))
	}
	if s.mode == ModeScanning && len(s.ignored) > 0 {
		return fmt.Errorf("%d ignored codes while scanning", len(s.ignored))
	}
	return nil
}
