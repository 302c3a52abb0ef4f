package control

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/zombor/smartkart/internal/cart"
)

// Keymap maps a key (one input line) to a session action
type Keymap map[string]cart.Action

// DefaultKeymap mirrors the cart handle buttons and dial
func DefaultKeymap() Keymap {
	return Keymap{
		"a": cart.ActionConfirmAdd,
		"c": cart.ActionCancelPending,
		"g": cart.ActionSpeakAllergens,
		"v": cart.ActionEnterCartReview,
		"q": cart.ActionExitCartReview,
		"n": cart.ActionNext,
		"p": cart.ActionPrevious,
		"i": cart.ActionSpeakIngredients,
		"r": cart.ActionRequestRemove,
		"R": cart.ActionConfirmRemove,
		"e": cart.ActionRequestClear,
		"E": cart.ActionConfirmClear,
		"u": cart.ActionRepeatLast,
	}
}

type keymapFile struct {
	Keys map[string]cart.Action `yaml:"keys"`
}

// ParseKeymap reads a YAML keymap of the form
//
//	keys:
//	  a: confirm_add
//	  x: request_clear
//
// Keys listed in the file replace the defaults for those keys.
func ParseKeymap(data []byte) (Keymap, error) {
	var file keymapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing keymap: %w", err)
	}

	km := DefaultKeymap()
	for key, action := range file.Keys {
		if key == "" {
			return nil, fmt.Errorf("parsing keymap: empty key for %s", action)
		}
		km[key] = action
	}
	return km, nil
}

// LoadKeymap reads a YAML keymap file, or returns the defaults when path is empty
func LoadKeymap(path string) (Keymap, error) {
	if path == "" {
		return DefaultKeymap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keymap: %w", err)
	}
	return ParseKeymap(data)
}

// Help lists the bindings, one "key: action" per entry, sorted by key
func (k Keymap) Help() []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", key, k[key]))
	}
	return lines
}
