package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/MothTrain/CambridgeSignallingMap/internal/api/rest"
	"github.com/MothTrain/CambridgeSignallingMap/internal/api/stream"
	"github.com/MothTrain/CambridgeSignallingMap/internal/api/websocket"
	"github.com/MothTrain/CambridgeSignallingMap/internal/config"
	"github.com/MothTrain/CambridgeSignallingMap/internal/decoder"
	"github.com/MothTrain/CambridgeSignallingMap/internal/feed"
	"github.com/MothTrain/CambridgeSignallingMap/internal/feed/client"
	"github.com/MothTrain/CambridgeSignallingMap/internal/interfaces"
	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/metrics"
	"github.com/MothTrain/CambridgeSignallingMap/internal/publish"
	"github.com/MothTrain/CambridgeSignallingMap/internal/retry"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// Dialer opens a new feed transport. Every call starts a fresh session.
type Dialer func(ctx context.Context) (feed.Client, error)

// EventPublisher forwards decoded events to an external broker.
type EventPublisher interface {
	Publish(ev types.Event) error
	Close()
}

type Option func(*LifecycleManager)

// WithDialer replaces the transport chosen by feed.source.
func WithDialer(d Dialer) Option {
	return func(lm *LifecycleManager) {
		lm.dial = d
	}
}

// WithLogSource supplies the message log for feed.source=replay.
func WithLogSource(src client.LogSource) Option {
	return func(lm *LifecycleManager) {
		lm.logSource = src
	}
}

// WithPublisher replaces the NATS publisher built from the nats section.
func WithPublisher(p EventPublisher) Option {
	return func(lm *LifecycleManager) {
		lm.publisher = p
	}
}

type LifecycleManager struct {
	config    *config.Config
	logger    *zap.Logger
	table     *mapping.Table
	decoder   *decoder.SyncDecoder
	metrics   *metrics.Metrics
	hub       *websocket.Hub
	streamer  *stream.EventStreamer
	publisher EventPublisher
	logSource client.LogSource
	dial      Dialer

	restServer *rest.Server
	grpcServer *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	session      string
	connected    bool

	eventsDecoded atomic.Uint64
	lastEventAt   atomic.Int64

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	cancelPump context.CancelFunc
	cancelHub  context.CancelFunc
	pumpDone   chan struct{}
	hubDone    chan struct{}

	shutdownOnce sync.Once
}

// NewLifecycleManager loads the mapping table and builds the decoder. A
// broken mapping file is returned as a mapping.MapFormatError.
func NewLifecycleManager(cfg *config.Config, logger *zap.Logger, opts ...Option) (*LifecycleManager, error) {
	table, err := loadTable(cfg.Mapping)
	if err != nil {
		return nil, err
	}
	logger.Info("Mapping table loaded", zap.Int("entries", table.Len()))

	m := metrics.New()
	dec, err := decoder.New(table, decoder.WithObserver(m))
	if err != nil {
		return nil, err
	}
	syncDecoder := decoder.NewSync(dec)

	hub, err := websocket.NewHub(logger, websocket.WithBurstSize(table.Len()))
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket hub: %w", err)
	}
	hub.SetSnapshotProvider(syncDecoder)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		table:        table,
		decoder:      syncDecoder,
		metrics:      m,
		hub:          hub,
		streamer:     stream.NewEventStreamer(),
		currentState: StateInitializing,
		pumpDone:     make(chan struct{}),
		hubDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lm)
	}

	if lm.dial == nil {
		lm.dial, err = lm.defaultDialer()
		if err != nil {
			return nil, err
		}
	}

	return lm, nil
}

func loadTable(cfg config.MappingConfig) (*mapping.Table, error) {
	if cfg.Manifest != "" {
		manifest, err := mapping.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		return manifest.LoadTable()
	}
	return mapping.LoadFile(cfg.File)
}

func (lm *LifecycleManager) defaultDialer() (Dialer, error) {
	fc := lm.config.Feed

	switch fc.Source {
	case config.SourceDataServer:
		return func(ctx context.Context) (feed.Client, error) {
			c, err := client.DialDataServer(ctx, fc.Address(), fc.DialTimeout, lm.logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil

	case config.SourceCapture:
		return func(context.Context) (feed.Client, error) {
			f, err := os.Open(fc.CaptureFile)
			if err != nil {
				// a missing file does not appear by waiting
				return nil, retry.Permanent(err)
			}
			defer f.Close()

			c, err := client.ReadLines(f)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil

	case config.SourceReplay:
		if lm.logSource == nil {
			return nil, errors.New("feed source replay needs a message log database")
		}
		rc := lm.config.Replay
		return func(context.Context) (feed.Client, error) {
			c, err := client.NewReplay(lm.logSource, rc.PageSize, rc.LowWater, lm.logger)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			return c, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown feed source %q", fc.Source)
	}
}

// Start starts the servers and the feed pump. It returns once everything
// listens; the feed connects in the background.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting signalling decoder",
		zap.String("feed_source", lm.config.Feed.Source))

	hubCtx, cancelHub := context.WithCancel(context.Background())
	lm.cancelHub = cancelHub
	go func() {
		defer close(lm.hubDone)
		lm.hub.Run(hubCtx)
	}()

	if lm.publisher == nil && lm.config.NATS.Enabled {
		p, err := publish.Connect(lm.config.NATS.URL, lm.config.NATS.SubjectPrefix, lm.logger)
		if err != nil {
			// Not critical, the feed is still served over HTTP and gRPC
			lm.logger.Warn("NATS unavailable, events will not be published", zap.Error(err))
		} else {
			lm.publisher = p
		}
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	lm.cancelPump = cancelPump
	go lm.pump(pumpCtx)

	lm.logger.Info("System started",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	stream.RegisterEventStreamServer(lm.grpcServer, stream.NewEventService(lm.streamer, lm.decoder, lm.logger))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", stream.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.hub, lm.metrics.Handler())
	return lm.restServer.Start()
}

// pump connects the feed and drains it until ctx is cancelled, reconnecting
// after transport failures.
func (lm *LifecycleManager) pump(ctx context.Context) {
	defer close(lm.pumpDone)

	lm.transition(StateConnecting, "Connecting to the signalling feed")

	reconnecting := false
	for {
		f, err := lm.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lm.setError(fmt.Errorf("feed connect failed: %w", err))
			}
			return
		}

		lm.setConnected(f.Session().String(), true)
		if reconnecting {
			lm.metrics.Reconnected()
		}
		lm.transition(StateRunning, "Connected to the signalling feed")
		lm.hub.Broadcast(websocket.NewSnapshotMessage(lm.decoder.Snapshot()))

		err = lm.consume(ctx, f)
		if derr := f.Disconnect(); derr != nil {
			lm.logger.Debug("Feed disconnect failed", zap.Error(derr))
		}
		lm.setConnected("", false)

		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, client.ErrEndOfCapture) || errors.Is(err, client.ErrReplayExhausted) {
			lm.logger.Info("Feed source exhausted", zap.Uint64("events", lm.eventsDecoded.Load()))
			lm.transition(StateDrained, displayMessage(err))
			return
		}

		lm.metrics.TransportFailure()
		lm.logger.Warn("Feed connection lost", zap.Error(err))

		// Registers are stale once the stream is broken
		lm.decoder.Reset()
		reconnecting = true
		lm.transition(StateReconnecting, displayMessage(err))
	}
}

func (lm *LifecycleManager) connect(ctx context.Context) (*feed.Feed, error) {
	rc := lm.config.Feed.Reconnect
	cfg := retry.Config{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		AddJitter:    true,
	}

	c, err := retry.DoWithResult(ctx, cfg, func(attempt int) (feed.Client, error) {
		c, err := lm.dial(ctx)
		if err != nil {
			lm.logger.Warn("Feed connection attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	return feed.New(c, lm.decoder, lm.logger, feed.WithLineObserver(lm.metrics)), nil
}

// consume returns the error that ended the session.
func (lm *LifecycleManager) consume(ctx context.Context, f *feed.Feed) error {
	for {
		ev, err := f.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, feed.ErrMalformedLine) {
				lm.logger.Warn("Skipping malformed feed line", zap.Error(err))
				continue
			}
			return err
		}
		lm.dispatch(ev)
	}
}

func (lm *LifecycleManager) dispatch(ev types.Event) {
	lm.eventsDecoded.Add(1)
	lm.lastEventAt.Store(time.Now().UnixMilli())
	lm.metrics.ObserveEvent(ev)

	lm.hub.BroadcastEvent(ev)
	lm.streamer.Broadcast(ev)

	if lm.publisher != nil {
		if err := lm.publisher.Publish(ev); err != nil {
			lm.logger.Debug("Failed to publish event",
				zap.Stringer("event", ev),
				zap.Error(err))
		}
	}
}

func displayMessage(err error) string {
	var te *feed.TransportError
	if errors.As(err, &te) {
		return te.DisplayMessage()
	}
	return err.Error()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.transition(StateStopping, "Shutting down")

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.transition(StateStopped, "Stopped")
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// 1. Stop the feed so nothing new is decoded
	if lm.cancelPump != nil {
		lm.cancelPump()
		select {
		case <-lm.pumpDone:
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout exceeded waiting for feed")
		}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC: end the event streams first, GracefulStop waits for them
	lm.streamer.Close()
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	close(errChan)
	for e := range errChan {
		err = errors.Join(err, e)
	}

	// 4. Publisher and websocket clients last
	if lm.publisher != nil {
		lm.publisher.Close()
	}
	if lm.cancelHub != nil {
		lm.cancelHub()
		<-lm.hubDone
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

// transition moves to state if allowed from the current one and notifies
// status listeners and websocket clients.
func (lm *LifecycleManager) transition(state SystemState, message string) bool {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Debug("State change ignored", zap.Error(err))
		return false
	}
	lm.currentState = state
	switch state {
	case StateError:
		lm.lastError = message
	case StateRunning:
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.logger.Info("System state changed",
		zap.Stringer("from", previous),
		zap.Stringer("to", state),
		zap.String("message", message))

	lm.broadcastStatus(SystemStatus{
		State:     state,
		Previous:  previous,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
	return true
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.transition(StateError, err.Error())
}

func (lm *LifecycleManager) setConnected(session string, connected bool) {
	lm.stateMu.Lock()
	lm.session = session
	lm.connected = connected
	lm.stateMu.Unlock()

	lm.metrics.SetConnected(connected)
}

func (lm *LifecycleManager) broadcastStatus(status SystemStatus) {
	lm.hub.Broadcast(websocket.NewSystemStatusMessage(
		status.State.String(), status.Previous.String(), status.Message))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) ready() error {
	switch lm.State() {
	case StateInitializing, StateStopping, StateStopped:
		return interfaces.ErrNotReady
	}
	return nil
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{
		State:         lm.currentState.String(),
		FeedSource:    lm.config.Feed.Source,
		FeedSession:   lm.session,
		FeedConnected: lm.connected,
		LastError:     lm.lastError,
	}
	lm.stateMu.RUnlock()

	status.MappingEntries = lm.table.Len()
	status.UpdatedRegisters = lm.decoder.UpdatedRegisters()
	status.EventsDecoded = lm.eventsDecoded.Load()
	status.LastEventAt = lm.lastEventAt.Load()
	status.WebSocketClients = lm.hub.GetClientCount()
	status.StreamSubscribers = lm.streamer.SubscriberCount()
	return status
}

// Snapshot returns the current state of every resolvable mapped element.
func (lm *LifecycleManager) Snapshot() ([]types.Event, error) {
	if err := lm.ready(); err != nil {
		return nil, err
	}
	return lm.decoder.Snapshot(), nil
}

// ResetDecoder forgets all register values and tells websocket clients to
// clear their state.
func (lm *LifecycleManager) ResetDecoder() error {
	if err := lm.ready(); err != nil {
		return err
	}
	lm.decoder.Reset()
	lm.hub.Broadcast(websocket.NewSnapshotMessage(nil))
	lm.logger.Info("Decoder reset")
	return nil
}

// Registers returns the raw value of every register written in this session.
func (lm *LifecycleManager) Registers() ([]decoder.RegisterValue, error) {
	if err := lm.ready(); err != nil {
		return nil, err
	}
	return lm.decoder.Registers(), nil
}

func (lm *LifecycleManager) MappingEntries() []mapping.Entry {
	return lm.table.Entries()
}

// Metrics exposes the collectors, e.g. for tests.
func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
