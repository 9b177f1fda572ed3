package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
	"github.com/MothTrain/CambridgeSignallingMap/internal/storage"
)

func TestLines(t *testing.T) {
	c, err := ReadLines(strings.NewReader("S,-1,01,02\n\nC,-1,NONE,0123,1A00\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Remaining())

	ctx := context.Background()
	line, err := c.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S,-1,01,02", line)

	line, err = c.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C,-1,NONE,0123,1A00", line)
	assert.True(t, c.IsAlive())

	_, err = c.PollNext(ctx)
	assert.ErrorIs(t, err, feed.ErrTransport)
	assert.ErrorIs(t, err, ErrEndOfCapture)
	assert.False(t, c.IsAlive())

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
}

type fakeLogSource struct {
	mu    sync.Mutex
	rows  []storage.LogRow
	calls []int
	err   error
}

func (s *fakeLogSource) ReadLogPage(_ context.Context, limit, offset int) ([]storage.LogRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, offset)
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func resetRows(n int) []storage.LogRow {
	rows := make([]storage.LogRow, n)
	for i := range rows {
		rows[i] = storage.LogRow{LogID: int64(i), Time: time.UnixMilli(int64(i)), LogType: storage.LogTypeReset}
	}
	return rows
}

func TestReplayServesAllRowsInOrder(t *testing.T) {
	src := &fakeLogSource{rows: resetRows(25)}
	r, err := NewReplay(src, 10, 3, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		line, err := r.PollNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("R,%d", i), line)
	}
	assert.Equal(t, 25, r.Served())

	_, err = r.PollNext(ctx)
	assert.ErrorIs(t, err, feed.ErrTransport)
	assert.ErrorIs(t, err, ErrReplayExhausted)
	assert.False(t, r.IsAlive())

	src.mu.Lock()
	assert.Equal(t, []int{0, 10, 20}, src.calls)
	src.mu.Unlock()
}

func TestReplayQueryFailure(t *testing.T) {
	src := &fakeLogSource{err: errors.New("connection refused")}
	r, err := NewReplay(src, 10, 3, zap.NewNop())
	require.NoError(t, err)

	_, err = r.PollNext(context.Background())
	require.Error(t, err)

	var te *feed.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.DisplayMessage(), "database")
}

func TestReplayDisconnect(t *testing.T) {
	r, err := NewReplay(&fakeLogSource{rows: resetRows(5)}, 10, 3, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Disconnect())
	require.NoError(t, r.Disconnect())
	assert.False(t, r.IsAlive())

	_, err = r.PollNext(context.Background())
	assert.ErrorIs(t, err, feed.ErrTransport)
}

func TestNewReplayValidates(t *testing.T) {
	_, err := NewReplay(&fakeLogSource{}, 0, 0, zap.NewNop())
	assert.Error(t, err)
	_, err = NewReplay(&fakeLogSource{}, 10, 10, zap.NewNop())
	assert.Error(t, err)
}

func TestDataServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	handshake := make(chan byte, 1)
	release := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		b := make([]byte, 1)
		if _, err := conn.Read(b); err == nil {
			handshake <- b[0]
		}
		w := bufio.NewWriter(conn)
		w.WriteString("MSG:1\nS,-1,01,FF\r\n")
		w.Flush()
		<-release
	}()

	ctx := context.Background()
	c, err := DialDataServer(ctx, ln.Addr().String(), time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), <-handshake)

	line, err := c.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MSG:1", line)

	line, err = c.PollNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S,-1,01,FF", line)

	// Nothing more is sent: cancellation interrupts the read but keeps the connection.
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = c.PollNext(cctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.IsAlive())

	// Server hangs up.
	close(release)
	_, err = c.PollNext(ctx)
	assert.ErrorIs(t, err, feed.ErrTransport)
	assert.False(t, c.IsAlive())
	require.NoError(t, c.Disconnect())
}

func TestDataServerDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialDataServer(context.Background(), addr, 100*time.Millisecond, zap.NewNop())
	assert.ErrorIs(t, err, feed.ErrTransport)
}
