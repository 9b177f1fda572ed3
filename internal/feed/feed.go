package feed

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// Client is a raw line transport.
type Client interface {
	// PollNext blocks until the next line arrives. Once it returns a
	// TransportError the client is dead.
	PollNext(ctx context.Context) (string, error)
	// Disconnect releases the transport. Safe to call more than once.
	Disconnect() error
	IsAlive() bool
}

// Decoder is the part of decoder.Decoder the sequencer drives.
type Decoder interface {
	Apply(timestamp int64, address, newByte uint8) []types.Event
	Reset()
}

// LineObserver sees every raw line the feed parses.
type LineObserver interface {
	ObserveLine(kind LineKind)
	ObserveMalformed()
}

type Option func(*Feed)

func WithLineObserver(o LineObserver) Option {
	return func(f *Feed) {
		f.observer = o
	}
}

// Feed turns a raw line transport into an ordered stream of events. Events
// decoded from one line are returned one by one before the next line is read.
// Not safe for concurrent use.
type Feed struct {
	client   Client
	decoder  Decoder
	logger   *zap.Logger
	observer LineObserver
	session  uuid.UUID

	pending []types.Event
}

func New(client Client, decoder Decoder, logger *zap.Logger, opts ...Option) *Feed {
	f := &Feed{
		client:  client,
		decoder: decoder,
		logger:  logger,
		session: uuid.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("feed_session", f.session.String()))
	return f
}

// Session identifies this feed instance in logs.
func (f *Feed) Session() uuid.UUID {
	return f.session
}

// NextEvent blocks until an event is available. Transport failures are
// returned as TransportError; malformed lines as ErrMalformedLine. Neither
// loses buffered events.
func (f *Feed) NextEvent(ctx context.Context) (types.Event, error) {
	for {
		if len(f.pending) > 0 {
			ev := f.pending[0]
			f.pending = f.pending[1:]
			return ev, nil
		}

		raw, err := f.client.PollNext(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return types.Event{}, ctxErr
			}
			return types.Event{}, NewTransportError("poll", err, "")
		}

		line, err := ParseLine(raw)
		if err != nil {
			if f.observer != nil {
				f.observer.ObserveMalformed()
			}
			return types.Event{}, err
		}
		if f.observer != nil {
			f.observer.ObserveLine(line.Kind)
		}

		switch line.Kind {
		case LineDescriber:
			return types.DescriberEvent(line.Timestamp, line.FromBerth, line.ToBerth, line.Describer), nil

		case LineSignalling:
			events := f.decoder.Apply(line.Timestamp, line.Address, line.Value)
			if len(events) == 0 {
				continue
			}
			f.pending = append(f.pending, events[1:]...)
			return events[0], nil

		case LineReset:
			f.logger.Info("Feed requested decoder reset", zap.Int64("timestamp", line.Timestamp))
			f.decoder.Reset()

		case LineControl:
			f.logger.Debug("Data server control line", zap.String("control", line.Control))
		}
	}
}

// Pending returns how many decoded events are buffered.
func (f *Feed) Pending() int {
	return len(f.pending)
}

// Reset clears the decoder state. Buffered events are kept.
func (f *Feed) Reset() {
	f.decoder.Reset()
}

func (f *Feed) IsAlive() bool {
	return f.client.IsAlive()
}

func (f *Feed) Disconnect() error {
	return f.client.Disconnect()
}
