package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
	"github.com/MothTrain/CambridgeSignallingMap/internal/storage"
)

// ErrReplayExhausted is returned after the last logged message was served.
var ErrReplayExhausted = errors.New("replay exhausted")

// LogSource pages through the message log. storage.PostgresClient satisfies it.
type LogSource interface {
	ReadLogPage(ctx context.Context, limit, offset int) ([]storage.LogRow, error)
}

// Replay serves logged TD messages as raw feed lines. The next page is
// fetched in the background once fewer than lowWater lines are buffered.
type Replay struct {
	src      LogSource
	pageSize int
	lowWater int
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	buf       []string
	offset    int
	fetching  bool
	ready     chan struct{}
	exhausted bool
	fetchErr  error
	closed    bool
	served    int
}

func NewReplay(src LogSource, pageSize, lowWater int, logger *zap.Logger) (*Replay, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("replay page size must be positive, got %d", pageSize)
	}
	if lowWater < 0 || lowWater >= pageSize {
		return nil, fmt.Errorf("replay low water %d must be in [0, %d)", lowWater, pageSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Replay{
		src:      src,
		pageSize: pageSize,
		lowWater: lowWater,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	r.mu.Lock()
	r.startFetchLocked()
	r.mu.Unlock()

	return r, nil
}

func (r *Replay) PollNext(ctx context.Context) (string, error) {
	for {
		r.mu.Lock()

		if r.closed {
			r.mu.Unlock()
			return "", &feed.TransportError{Op: "replay", Err: errors.New("replay closed"), Display: "The replay has been stopped"}
		}

		if len(r.buf) > 0 {
			line := r.buf[0]
			r.buf = r.buf[1:]
			r.served++
			if len(r.buf) < r.lowWater {
				r.startFetchLocked()
			}
			r.mu.Unlock()
			return line, nil
		}

		if r.fetchErr != nil {
			err := r.fetchErr
			r.closed = true
			r.mu.Unlock()
			r.cancel()
			return "", &feed.TransportError{Op: "replay", Err: err, Display: "An error occurred while querying the log database"}
		}

		if r.exhausted {
			r.closed = true
			r.mu.Unlock()
			r.cancel()
			return "", &feed.TransportError{Op: "replay", Err: ErrReplayExhausted, Display: "The replay has reached the end of the log"}
		}

		r.startFetchLocked()
		wait := r.ready
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// startFetchLocked starts a page fetch unless one is running or there is
// nothing left to fetch. r.mu must be held.
func (r *Replay) startFetchLocked() {
	if r.fetching || r.exhausted || r.fetchErr != nil || r.closed {
		return
	}
	r.fetching = true
	r.ready = make(chan struct{})
	go r.fetch(r.offset, r.ready)
}

func (r *Replay) fetch(offset int, done chan struct{}) {
	rows, err := r.src.ReadLogPage(r.ctx, r.pageSize, offset)

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line, lerr := row.Line()
		if lerr != nil {
			r.logger.Warn("Skipping unreadable log row", zap.Error(lerr))
			continue
		}
		lines = append(lines, line)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(done)

	r.fetching = false
	if err != nil {
		r.fetchErr = err
		return
	}

	r.buf = append(r.buf, lines...)
	r.offset += len(rows)
	if len(rows) < r.pageSize {
		r.exhausted = true
	}

	r.logger.Debug("Fetched replay page",
		zap.Int("rows", len(rows)),
		zap.Int("offset", r.offset),
		zap.Int("buffered", len(r.buf)))
}

func (r *Replay) Disconnect() error {
	r.mu.Lock()
	r.closed = true
	r.buf = nil
	r.mu.Unlock()

	r.cancel()
	return nil
}

func (r *Replay) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Served returns how many lines have been handed out.
func (r *Replay) Served() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}
