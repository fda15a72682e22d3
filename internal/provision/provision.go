// Package provision installs and updates dedicated server files through
// SteamCMD. Installs are idempotent: SteamCMD validates existing files and
// only downloads what is missing or stale.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/quatrix/fleet/internal/exec"
)

// DefaultAppID is the Steam application ID of the CS2 dedicated server.
const DefaultAppID = 730

// ErrSteamCMDNotFound indicates the steamcmd binary is not on PATH.
var ErrSteamCMDNotFound = errors.New("steamcmd not found")

// InstallError indicates a SteamCMD run that exited non-zero.
type InstallError struct {
	Dir      string
	ExitCode int
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("steamcmd install into %q failed with exit code %d", e.Dir, e.ExitCode)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Progress reports a single line of SteamCMD output. Percent is -1 when the
// line carries no parseable progress figure.
type Progress struct {
	Line    string
	Percent float64
}

// ProgressFunc receives streaming progress during an install.
type ProgressFunc func(Progress)

// Provisioner drives SteamCMD to install server files.
type Provisioner struct {
	executor exec.Executor
	binary   string
	appID    int
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithBinary overrides the steamcmd binary name or path.
func WithBinary(path string) Option {
	return func(p *Provisioner) {
		p.binary = path
	}
}

// WithAppID overrides the Steam application ID to install.
func WithAppID(id int) Option {
	return func(p *Provisioner) {
		p.appID = id
	}
}

// New creates a Provisioner using the given executor.
func New(executor exec.Executor, opts ...Option) *Provisioner {
	p := &Provisioner{
		executor: executor,
		binary:   "steamcmd",
		appID:    DefaultAppID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether the steamcmd binary can be found.
func (p *Provisioner) Available() error {
	if _, err := p.executor.LookPath(p.binary); err != nil {
		return fmt.Errorf("%w: %q is not on PATH", ErrSteamCMDNotFound, p.binary)
	}
	return nil
}

// EnsureInstalled installs or validates server files under dir. Output is
// streamed line by line to progress when non-nil. The force_install_dir flag
// must precede login or SteamCMD silently installs to its default location.
func (p *Provisioner) EnsureInstalled(ctx context.Context, dir string, progress ProgressFunc) error {
	if err := p.Available(); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	args := []string{
		"+force_install_dir", dir,
		"+login", "anonymous",
		"+app_update", strconv.Itoa(p.appID), "validate",
		"+quit",
	}

	var stdout lineStream
	if progress != nil {
		stdout.fn = func(line string) {
			progress(Progress{Line: line, Percent: parsePercent(line)})
		}
	}

	result, err := p.executor.Run(ctx, exec.RunOptions{
		Name:   p.binary,
		Args:   args,
		Stdout: &stdout,
	})
	stdout.flush()
	if err != nil {
		code := -1
		if result != nil {
			code = result.ExitCode
		}
		return &InstallError{Dir: dir, ExitCode: code, Err: err}
	}

	return nil
}

// progressRe matches SteamCMD update-state lines, e.g.
// "Update state (0x61) downloading, progress: 42.27 (1161632226 / 2748167992)".
var progressRe = regexp.MustCompile(`progress:\s*([0-9]+(?:\.[0-9]+)?)`)

func parsePercent(line string) float64 {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return -1
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	return pct
}

// lineStream buffers writes and emits complete lines. SteamCMD uses carriage
// returns to redraw progress in place, so both \r and \n terminate a line.
type lineStream struct {
	fn  func(string)
	buf bytes.Buffer
}

func (l *lineStream) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		idx := bytes.IndexAny(l.buf.Bytes(), "\r\n")
		if idx < 0 {
			break
		}
		line := string(l.buf.Next(idx + 1))
		l.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (l *lineStream) flush() {
	if l.buf.Len() > 0 {
		l.emit(l.buf.String())
		l.buf.Reset()
	}
}

func (l *lineStream) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" || l.fn == nil {
		return
	}
	l.fn(line)
}
