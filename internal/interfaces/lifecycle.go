package interfaces

import (
	"context"
	"errors"

	"github.com/MothTrain/CambridgeSignallingMap/internal/decoder"
	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// ErrNotReady is returned while the decoder cannot serve requests, i.e.
// before the system started or after it stopped.
var ErrNotReady = errors.New("decoder not ready")

// SystemStatus represents the current system state
type SystemStatus struct {
	State             string `json:"state"`
	FeedSource        string `json:"feed_source"`
	FeedSession       string `json:"feed_session,omitempty"`
	FeedConnected     bool   `json:"feed_connected"`
	LastError         string `json:"last_error,omitempty"`
	MappingEntries    int    `json:"mapping_entries"`
	UpdatedRegisters  int    `json:"updated_registers"`
	EventsDecoded     uint64 `json:"events_decoded"`
	LastEventAt       int64  `json:"last_event_at,omitempty"`
	WebSocketClients  int    `json:"websocket_clients"`
	StreamSubscribers int    `json:"stream_subscribers"`
}

type LifecycleManager interface {
	GetCurrentStatus() SystemStatus
	Snapshot() ([]types.Event, error)
	ResetDecoder() error
	Registers() ([]decoder.RegisterValue, error)
	MappingEntries() []mapping.Entry
	Shutdown(ctx context.Context) error
}
