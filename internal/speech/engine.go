package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Engine turns text into audible speech
type Engine interface {
	Say(ctx context.Context, text string) error
}

// CommandEngine speaks by running an external TTS program with the text as
// its last argument, e.g. "espeak-ng -s 150" or "say".
type CommandEngine struct {
	name string
	args []string
}

// NewCommandEngine parses a command line into an Engine
func NewCommandEngine(command string) (*CommandEngine, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("tts command is empty")
	}
	return &CommandEngine{name: fields[0], args: fields[1:]}, nil
}

// Say runs the command and waits for it to finish
func (c *CommandEngine) Say(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.args...), text)
	out, err := exec.CommandContext(ctx, c.name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w (output: %s)", c.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogEngine writes utterances to the log instead of a speaker
type LogEngine struct{}

func (LogEngine) Say(ctx context.Context, text string) error {
	slog.Info("Speaking", "text", text)
	return nil
}
