package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
)

// ErrEndOfCapture is returned once every line has been served.
var ErrEndOfCapture = errors.New("end of capture")

// Lines serves pre-recorded feed lines, e.g. a text capture of a session.
type Lines struct {
	mu     sync.Mutex
	lines  []string
	next   int
	closed bool
}

func NewLines(lines []string) *Lines {
	return &Lines{lines: lines}
}

// ReadLines loads a capture with one raw line per line. Blank lines are
// dropped.
func ReadLines(r io.Reader) (*Lines, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewLines(lines), nil
}

func (c *Lines) PollNext(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.next >= len(c.lines) {
		c.closed = true
		return "", &feed.TransportError{
			Op:      "read",
			Err:     ErrEndOfCapture,
			Display: "The capture has ended",
		}
	}

	line := c.lines[c.next]
	c.next++
	return line, nil
}

func (c *Lines) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Lines) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Remaining returns how many lines have not been served yet.
func (c *Lines) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return len(c.lines) - c.next
}
