package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
)

// connectionTypeForwarding asks the data server to forward the live TD stream.
const connectionTypeForwarding byte = 0x01

// DataServer reads raw feed lines from the NROD data server over TCP.
type DataServer struct {
	address string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	alive  bool

	// partial holds bytes of a line interrupted by cancellation.
	partial string
}

// DialDataServer connects and announces the forwarding connection type.
func DialDataServer(ctx context.Context, address string, timeout time.Duration, logger *zap.Logger) (*DataServer, error) {
	dialer := net.Dialer{Timeout: timeout}

	// Verbindung herstellen
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &feed.TransportError{
			Op:      "dial",
			Err:     err,
			Display: "Could not connect to the data server",
		}
	}

	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write([]byte{connectionTypeForwarding}); err != nil {
		conn.Close()
		return nil, &feed.TransportError{
			Op:      "handshake",
			Err:     err,
			Display: "Could not connect to the data server",
		}
	}
	conn.SetWriteDeadline(time.Time{})

	logger.Info("Connected to data server", zap.String("address", address))

	return &DataServer{
		address: address,
		timeout: timeout,
		logger:  logger,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		alive:   true,
	}, nil
}

// PollNext blocks until the next line. Cancelling ctx interrupts the read
// without closing the connection.
func (c *DataServer) PollNext(ctx context.Context) (string, error) {
	c.mu.Lock()
	conn, reader, alive := c.conn, c.reader, c.alive
	c.mu.Unlock()

	if !alive {
		return "", &feed.TransportError{
			Op:      "read",
			Err:     errors.New("connection closed"),
			Display: "The data server connection is closed",
		}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			conn.SetReadDeadline(time.Time{})
		}
	}()

	line, err := reader.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			conn.SetReadDeadline(time.Time{})
			c.partial += line
			return "", ctx.Err()
		}

		c.logger.Warn("Data server read failed", zap.String("address", c.address), zap.Error(err))
		c.Disconnect()
		return "", &feed.TransportError{
			Op:      "read",
			Err:     err,
			Display: "Lost connection to the data server",
		}
	}

	line, c.partial = c.partial+line, ""
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *DataServer) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return nil
	}
	c.alive = false

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close data server connection: %w", err)
	}
	return nil
}

func (c *DataServer) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}
