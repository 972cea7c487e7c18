// Package failurelog records race URLs that could not be scraped and reads
// them back for a retry pass.
package failurelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileName is the failure log written next to a run's output.
const FileName = "failed.log"

// Log appends one line per failed race. Safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a log at path. The file is created on first Append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the log location.
func (l *Log) Path() string {
	return l.path
}

// Append adds rawURL as a new line.
func (l *Log) Append(rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create failure log directory: %w", err)
	}
	fh, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	if _, err := fmt.Fprintln(fh, strings.TrimSpace(rawURL)); err != nil {
		_ = fh.Close()
		return fmt.Errorf("write failure log: %w", err)
	}
	return fh.Close()
}

// DateOf returns the date segment of a log line: the second-to-last
// "/"-delimited segment, when it has exactly three "-"-delimited parts.
func DateOf(line string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(line), "/")
	if len(parts) < 2 {
		return "", false
	}
	date := parts[len(parts)-2]
	if len(strings.Split(date, "-")) != 3 {
		return "", false
	}
	return date, true
}

// Dates returns the distinct dates found in r, sorted ascending. Lines that
// do not carry a date are skipped.
func Dates(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if date, ok := DateOf(scanner.Text()); ok {
			seen[date] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}
