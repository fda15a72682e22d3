// Package prompt provides interactive terminal prompts using charmbracelet/huh.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrCanceled is returned when the user aborts a prompt.
var ErrCanceled = errors.New("canceled by user")

// Prompter abstracts user interaction for testability.
type Prompter interface {
	// Confirm prompts for yes/no confirmation.
	Confirm(title, description string) (bool, error)

	// Secret prompts for secret input with masked display.
	Secret(title string) (string, error)
}

// HuhPrompter implements Prompter with interactive huh forms.
type HuhPrompter struct{}

// New creates a HuhPrompter for interactive terminal prompts.
func New() *HuhPrompter {
	return &HuhPrompter{}
}

// Confirm prompts for yes/no confirmation. The default answer is No so that
// destructive operations require a deliberate choice.
func (p *HuhPrompter) Confirm(title, description string) (bool, error) {
	var confirmed bool

	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()

	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrCanceled
		}
		return false, fmt.Errorf("confirm prompt: %w", err)
	}

	return confirmed, nil
}

// Secret prompts for secret input with masked display.
func (p *HuhPrompter) Secret(title string) (string, error) {
	var value string

	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		Run()

	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrCanceled
		}
		return "", fmt.Errorf("secret prompt: %w", err)
	}

	return strings.TrimSpace(value), nil
}
