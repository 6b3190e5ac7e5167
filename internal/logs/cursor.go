package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"showrunner/internal/logging"
)

const daemonLogName = "showrunner.log"

// DaemonLogPath returns the daemon log file location under the configured
// log directory.
func DaemonLogPath(logDir string) string {
	return filepath.Join(logDir, daemonLogName)
}

// Filter narrows tailed output to lines about one render job. It matches the
// job attribute in both daemon log formats: console ("job_id=x") and JSON
// ("\"job_id\":\"x\"").
type Filter struct {
	JobID string
}

func (f Filter) matches(line string) bool {
	id := strings.TrimSpace(f.JobID)
	if id == "" {
		return true
	}
	if strings.Contains(line, `"`+logging.FieldJobID+`":"`+id+`"`) {
		return true
	}
	// Console attributes are space separated, so the value must end at a
	// space or the end of line; job-1 must not match job-10.
	token := logging.FieldJobID + "=" + id
	for start := 0; ; {
		i := strings.Index(line[start:], token)
		if i < 0 {
			return false
		}
		end := start + i + len(token)
		if end == len(line) || line[end] == ' ' {
			return true
		}
		start = end
	}
}

// Cursor reads the daemon log file incrementally, remembering how far it has
// read so follow mode reports each line once. A missing file is not an error;
// the daemon may simply not have started yet.
type Cursor struct {
	path   string
	filter Filter
	offset int64
}

// NewCursor creates a cursor positioned at the start of the file.
func NewCursor(path string, filter Filter) *Cursor {
	return &Cursor{path: path, filter: filter}
}

// Offset reports the byte position the next read starts from.
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Last returns up to n of the most recent matching lines and positions the
// cursor at the end of the file, so a subsequent Next only yields new output.
func (c *Cursor) Last(n int) ([]string, error) {
	file, err := c.open()
	if err != nil || file == nil {
		return nil, err
	}
	defer file.Close()

	if n <= 0 {
		return nil, c.seekEnd(file)
	}

	// Ring buffer over matching lines keeps memory bounded regardless of
	// file size.
	ring := make([]string, n)
	count, next := 0, 0
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !c.filter.matches(line) {
			continue
		}
		ring[next] = line
		next = (next + 1) % n
		if count < n {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	if err := c.seekEnd(file); err != nil {
		return nil, err
	}

	lines := make([]string, count)
	if count == n {
		for i := 0; i < count; i++ {
			lines[i] = ring[(next+i)%n]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Next returns matching lines appended since the previous read, polling until
// wait elapses. Cancelling ctx aborts the poll with ctx.Err().
func (c *Cursor) Next(ctx context.Context, wait time.Duration) ([]string, error) {
	if wait < 0 {
		wait = 0
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		lines, err := c.readNew()
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 || !time.Now().Before(deadline) {
			return lines, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cursor) readNew() ([]string, error) {
	file, err := c.open()
	if err != nil || file == nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if c.offset > info.Size() {
		// The file shrank, so it was rotated or truncated; start over.
		c.offset = 0
	}
	if _, err := file.Seek(c.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	scanner := newScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); c.filter.matches(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	if err := c.seekEnd(file); err != nil {
		return nil, err
	}
	return lines, nil
}

// open returns (nil, nil) when the log file does not exist yet.
func (c *Cursor) open() (*os.File, error) {
	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.offset = 0
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", c.path)
	}
	return file, nil
}

func (c *Cursor) seekEnd(file *os.File) error {
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("determine log offset: %w", err)
	}
	c.offset = offset
	return nil
}

func newScanner(file *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
