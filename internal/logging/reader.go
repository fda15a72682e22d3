package logging

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// followPollInterval is how often Follow checks the log file for new data.
const followPollInterval = 500 * time.Millisecond

// ReadLastN returns the last n lines of an instance's console log. A missing
// log file is not an error; it returns no lines.
func (p *PathManager) ReadLastN(instanceID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	//nolint:gosec // G304: path is built by PathManager from a validated instance ID
	data, err := os.ReadFile(p.ConsoleLogPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read console log: %w", err)
	}

	lines := splitLines(data)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Follow streams an instance's console log to the given writer until the
// context is canceled. It starts from the current end of the file and polls
// for appended data, so it behaves like tail -f.
func (p *PathManager) Follow(ctx context.Context, instanceID string, w io.Writer) error {
	//nolint:gosec // G304: path is built by PathManager from a validated instance ID
	f, err := os.Open(p.ConsoleLogPath(instanceID))
	if err != nil {
		return fmt.Errorf("open console log: %w", err)
	}
	defer f.Close() //nolint:errcheck // Best effort cleanup

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek console log: %w", err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		if _, err := io.Copy(w, reader); err != nil {
			return fmt.Errorf("copy console log: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func splitLines(data []byte) []string {
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
