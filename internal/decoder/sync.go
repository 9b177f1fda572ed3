package decoder

import (
	"sync"

	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// SyncDecoder serialises access to a Decoder so the feed pump and API
// handlers can share one instance. The lock is held for a single call only.
type SyncDecoder struct {
	mu sync.Mutex
	d  *Decoder
}

func NewSync(d *Decoder) *SyncDecoder {
	return &SyncDecoder{d: d}
}

func (s *SyncDecoder) Apply(timestamp int64, address, newByte uint8) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Apply(timestamp, address, newByte)
}

func (s *SyncDecoder) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.Reset()
}

func (s *SyncDecoder) Snapshot() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Snapshot()
}

// UpdatedRegisters returns how many registers hold a known value.
func (s *SyncDecoder) UpdatedRegisters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.regs.UpdatedCount()
}

func (s *SyncDecoder) Registers() []RegisterValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Registers()
}

func (s *SyncDecoder) Table() *mapping.Table {
	return s.d.table
}
