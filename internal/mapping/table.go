package mapping

import (
	"fmt"
	"sort"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// Coordinate addresses one bit of one telemetry register.
type Coordinate struct {
	Address uint8 `json:"address"`
	Bit     uint8 `json:"bit"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d.%d", c.Address, c.Bit)
}

func (c Coordinate) less(o Coordinate) bool {
	if c.Address != o.Address {
		return c.Address < o.Address
	}
	return c.Bit < o.Bit
}

// BackrefMode tells how a backreference was declared in the mapping file.
type BackrefMode int

const (
	// BackrefNone: the bit alone determines the outcome.
	BackrefNone BackrefMode = iota
	// BackrefImplicit: partner bit is the adjacent bit of the same register.
	BackrefImplicit
	// BackrefExplicit: partner given by address and bit columns.
	BackrefExplicit
)

func (m BackrefMode) String() string {
	switch m {
	case BackrefNone:
		return "none"
	case BackrefImplicit:
		return "implicit"
	case BackrefExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

func (m BackrefMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Backreference is resolved to a concrete coordinate when the table is loaded.
type Backreference struct {
	Mode   BackrefMode         `json:"mode"`
	Kind   types.EquipmentKind `json:"-"`
	Target Coordinate          `json:"target"`
}

// Present reports whether decoding needs the partner bit.
func (b Backreference) Present() bool {
	return b.Mode != BackrefNone
}

// Entry is one row of the mapping table.
type Entry struct {
	Coordinate
	Kind types.EquipmentKind `json:"-"`
	ID   string              `json:"id,omitempty"`
	Back Backreference       `json:"backreference"`

	// Line is the 1-based line in the source file, kept for diagnostics.
	Line int `json:"line"`
}

// Emits reports whether the entry can produce a domain event.
func (e Entry) Emits() bool {
	return e.Kind != types.KindInert && e.Kind != types.KindPlaceholder && e.Kind != types.KindUnmapped
}

// Table is the immutable (address, bit) -> Entry mapping.
type Table struct {
	entries map[Coordinate]Entry
	ordered []Entry
}

func newTable(entries map[Coordinate]Entry) *Table {
	ordered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Coordinate.less(ordered[j].Coordinate)
	})
	return &Table{entries: entries, ordered: ordered}
}

// Lookup returns the entry mapped at (address, bit), if any.
func (t *Table) Lookup(address, bit uint8) (Entry, bool) {
	e, ok := t.entries[Coordinate{Address: address, Bit: bit}]
	return e, ok
}

// Entries returns all entries in ascending (address, bit) order.
// The returned slice is a copy.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Each calls fn for every entry in ascending (address, bit) order.
func (t *Table) Each(fn func(Entry)) {
	for _, e := range t.ordered {
		fn(e)
	}
}

func (t *Table) Len() int {
	return len(t.ordered)
}
