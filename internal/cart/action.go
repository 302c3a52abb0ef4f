package cart

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when an action name is not recognised
var ErrUnknownAction = errors.New("unknown action")

// Action is a user operation a control surface can trigger
type Action int

const (
	ActionConfirmAdd Action = iota + 1
	ActionCancelPending
	ActionSpeakAllergens
	ActionEnterCartReview
	ActionExitCartReview
	ActionNext
	ActionPrevious
	ActionSpeakIngredients
	ActionRequestRemove
	ActionConfirmRemove
	ActionRequestClear
	ActionConfirmClear
	ActionRepeatLast
)

var actionNames = map[Action]string{
	ActionConfirmAdd:       "confirm_add",
	ActionCancelPending:    "cancel_pending",
	ActionSpeakAllergens:   "speak_allergens",
	ActionEnterCartReview:  "enter_cart_review",
	ActionExitCartReview:   "exit_cart_review",
	ActionNext:             "next",
	ActionPrevious:         "previous",
	ActionSpeakIngredients: "speak_ingredients",
	ActionRequestRemove:    "request_remove",
	ActionConfirmRemove:    "confirm_remove",
	ActionRequestClear:     "request_clear",
	ActionConfirmClear:     "confirm_clear",
	ActionRepeatLast:       "repeat_last",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Actions lists every action in declaration order
func Actions() []Action {
	out := make([]Action, 0, len(actionNames))
	for a := ActionConfirmAdd; a <= ActionRepeatLast; a++ {
		out = append(out, a)
	}
	return out
}

// ParseAction maps an action name such as "confirm_add" to its Action
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Do dispatches an action to the matching Session operation
func (s *Session) Do(action Action) error {
	switch action {
	case ActionConfirmAdd:
		s.ConfirmAdd()
	case ActionCancelPending:
		s.CancelPending()
	case ActionSpeakAllergens:
		s.SpeakAllergens()
	case ActionEnterCartReview:
		s.EnterCartReview()
	case ActionExitCartReview:
		s.ExitCartReview()
	case ActionNext:
		s.Navigate(Next)
	case ActionPrevious:
		s.Navigate(Previous)
	case ActionSpeakIngredients:
		s.SpeakCurrentIngredients()
	case ActionRequestRemove:
		s.RequestRemove()
	case ActionConfirmRemove:
		s.ConfirmRemove()
	case ActionRequestClear:
		s.RequestClear()
	case ActionConfirmClear:
		s.ConfirmClear()
	case ActionRepeatLast:
		s.RepeatLast()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownAction, int(action))
	}
	return nil
}
