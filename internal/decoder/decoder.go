package decoder

import (
	"errors"
	"fmt"

	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// ErrCorruptDecodeState is raised (as a panic) when the table hands the
// decoder an entry it has no rule for. Load validation makes this unreachable.
var ErrCorruptDecodeState = errors.New("corrupt decode state")

// ApplyStats summarises a single Apply call.
type ApplyStats struct {
	Address    uint8
	FirstWrite bool
	Changed    int // bits examined
	Emitted    int
	Unresolved int // bits skipped on an unwritten backreference
}

// Observer is notified after every Apply. It runs on the caller's goroutine
// and must not call back into the decoder.
type Observer interface {
	ObserveApply(stats ApplyStats)
}

type Option func(*Decoder)

func WithObserver(o Observer) Option {
	return func(d *Decoder) {
		d.observer = o
	}
}

// Decoder turns register writes into equipment events. It is not safe for
// concurrent use; see SyncDecoder.
type Decoder struct {
	table    *mapping.Table
	regs     RegisterState
	observer Observer
}

func New(table *mapping.Table, opts ...Option) (*Decoder, error) {
	if table == nil {
		return nil, fmt.Errorf("decoder requires a mapping table")
	}

	d := &Decoder{table: table}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Decoder) Table() *mapping.Table {
	return d.table
}

// Registers lists every written register in ascending address order.
func (d *Decoder) Registers() []RegisterValue {
	return d.regs.Written()
}

// Apply stores newByte at address and returns the events for every mapped bit
// that changed, in ascending bit order. The first write to an address treats
// all eight bits as changed.
func (d *Decoder) Apply(timestamp int64, address, newByte uint8) []types.Event {
	old, first := d.regs.Set(address, newByte)

	changed := old ^ newByte
	if first {
		changed = 0xFF
	}

	stats := ApplyStats{Address: address, FirstWrite: first}
	var events []types.Event

	for bit := uint8(0); bit < 8; bit++ {
		if changed&(1<<bit) == 0 {
			continue
		}
		stats.Changed++

		entry, ok := d.table.Lookup(address, bit)
		if !ok || !entry.Emits() {
			continue
		}

		ev, resolved := d.decode(entry)
		if !resolved {
			stats.Unresolved++
			continue
		}
		events = append(events, ev.WithTimestamp(timestamp))
	}

	stats.Emitted = len(events)
	if d.observer != nil {
		d.observer.ObserveApply(stats)
	}
	return events
}

// Reset forgets every register value. The next write to each address is
// treated as a first write again.
func (d *Decoder) Reset() {
	d.regs.Reset()
}

// Snapshot decodes every mapped entry from the stored values, in ascending
// (address, bit) order. Entries whose backreference is still unwritten are
// left out. Events carry no timestamp.
func (d *Decoder) Snapshot() []types.Event {
	var events []types.Event
	d.table.Each(func(e mapping.Entry) {
		if !e.Emits() {
			return
		}
		if ev, ok := d.decode(e); ok {
			events = append(events, ev)
		}
	})
	return events
}
