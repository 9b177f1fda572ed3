package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends every event as JSON to NATS:
//
//	<prefix>.s.<type>.<id>   S-Class
//	<prefix>.c.<describer>   C-Class
type Publisher struct {
	conn   conn
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("cambridge-signalling-map"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	logger.Info("Publishing events to NATS", zap.String("url", url), zap.String("prefix", prefix))
	return p, nil
}

func newPublisher(c conn, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		conn:   c,
		prefix: strings.Trim(prefix, "."),
		logger: logger,
	}
}

func (p *Publisher) Publish(ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(p.prefix, ev)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", zap.Error(err))
		p.nc.Close()
	}
}

// Subject builds the subject an event is published on.
func Subject(prefix string, ev types.Event) string {
	if ev.IsDescriber() {
		return prefix + ".c." + token(ev.Describer)
	}
	return prefix + ".s." + token(ev.Type.String()) + "." + token(ev.ID)
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
