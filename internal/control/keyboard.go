package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zombor/smartkart/internal/cart"
)

// Dispatcher runs actions; *cart.Session satisfies it
type Dispatcher interface {
	Do(action cart.Action) error
}

// Keyboard reads one key per line and dispatches the bound action. It stands
// in for the cart's buttons and dial when running on a workstation.
type Keyboard struct {
	keymap     Keymap
	dispatcher Dispatcher
}

// NewKeyboard creates a Keyboard control surface
func NewKeyboard(keymap Keymap, dispatcher Dispatcher) *Keyboard {
	return &Keyboard{keymap: keymap, dispatcher: dispatcher}
}

// Run dispatches lines from r until EOF or ctx is done
func (k *Keyboard) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errs; err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				return nil
			}
			k.handle(strings.TrimSpace(line))
		}
	}
}

func (k *Keyboard) handle(key string) {
	if key == "" {
		return
	}
	action, ok := k.keymap[key]
	if !ok {
		if key == "?" {
			for _, line := range k.keymap.Help() {
				fmt.Println(line)
			}
			return
		}
		slog.Warn("Unbound key", "key", key)
		return
	}
	slog.Debug("Key pressed", "key", key, "action", action)
	if err := k.dispatcher.Do(action); err != nil {
		slog.Error("Failed to run action", "action", action, "error", err)
	}
}
