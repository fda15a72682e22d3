// Package spinner renders install progress as a single in-place terminal line.
// A spinning indicator is shown alongside the download percentage and the
// latest SteamCMD output line, without scrolling the terminal buffer.
package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ticker displays a spinner with live install progress. Progress updates are
// pushed through Publish and the most recent one is shown next to the spinner.
type Ticker struct {
	program  *tea.Program
	updates  chan update
	done     chan struct{}
	closeOne sync.Once
	output   io.Writer
}

// update carries one progress observation into the display loop.
type update struct {
	percent float64
	line    string
}

// New creates a Ticker that writes to output (typically os.Stderr).
// If output is nil, os.Stderr is used.
func New(output io.Writer) *Ticker {
	if output == nil {
		output = os.Stderr
	}

	return &Ticker{
		updates: make(chan update, 100), // buffered so Publish never blocks the installer
		done:    make(chan struct{}),
		output:  output,
	}
}

// Publish records a progress observation. Percent below zero means the line
// carried no parseable percentage and only the text is updated. Safe to call
// from the goroutine driving the install.
func (t *Ticker) Publish(percent float64, line string) {
	if strings.TrimSpace(line) == "" && percent < 0 {
		return
	}
	select {
	case t.updates <- update{percent: percent, line: line}:
	case <-t.done:
	}
}

// Start runs the display until Stop is called. It blocks, so run the install
// itself in a separate goroutine.
func (t *Ticker) Start() error {
	width := 80
	if fd := int(os.Stderr.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}

	t.program = tea.NewProgram(newModel(t.updates, t.done, width),
		tea.WithOutput(t.output),
		tea.WithoutSignalHandler(), // parent owns signal handling
	)

	_, err := t.program.Run()
	return err
}

// Stop ends the display and clears the progress line from the terminal.
func (t *Ticker) Stop() {
	t.closeOne.Do(func() {
		close(t.done)
	})
	if t.program != nil {
		t.program.Quit()
	}
}

type model struct {
	spinner  spinner.Model
	percent  float64
	line     string
	width    int
	updates  <-chan update
	done     <-chan struct{}
	quitting bool
}

type updateMsg update

var percentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))

func newModel(updates <-chan update, done <-chan struct{}, width int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner: s,
		percent: -1,
		width:   width,
		updates: updates,
		done:    done,
	}
}

// Init implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForUpdate(m.updates, m.done),
	)
}

// Update implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case updateMsg:
		if msg.percent >= 0 {
			m.percent = msg.percent
		}
		if strings.TrimSpace(msg.line) != "" {
			m.line = msg.line
		}
		return m, waitForUpdate(m.updates, m.done)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.QuitMsg:
		m.quitting = true
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) View() string {
	if m.quitting {
		return "" // clear the line on exit
	}

	prefix := m.spinner.View() + " "
	if m.percent >= 0 {
		prefix += percentStyle.Render(fmt.Sprintf("%5.1f%%", m.percent)) + " "
	}

	maxLine := m.width - lipgloss.Width(prefix)
	if maxLine < 10 {
		maxLine = 10
	}

	return prefix + truncate(m.line, maxLine)
}

// waitForUpdate returns a command that blocks for the next progress update.
func waitForUpdate(updates <-chan update, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-updates:
			return updateMsg(u)
		case <-done:
			return tea.Quit()
		}
	}
}

// truncate shortens s to fit maxWidth, appending "..." when cut.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return ""
	}
	if len(s) <= maxWidth {
		return s
	}
	return s[:maxWidth-3] + "..."
}
