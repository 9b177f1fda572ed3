package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// Column positions of a mapping row.
const (
	colAddress = iota
	colBit
	colKind
	colID
	colBackKind
	colBackAddress
	colBackBit
)

const unmappedToken = "UNMAPPED"

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping %s: %w", path, err)
	}
	defer f.Close()

	table, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Load parses a comma separated mapping resource. The first line is a header
// and is discarded. Any invalid row fails the whole load.
func Load(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Header
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return newTable(map[Coordinate]Entry{}), nil
		}
		return nil, &MapFormatError{Line: 1, Reason: err.Error()}
	}

	entries := make(map[Coordinate]Entry)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &MapFormatError{Line: perr.Line, Reason: perr.Err.Error()}
			}
			return nil, fmt.Errorf("failed to read mapping: %w", err)
		}

		line, _ := reader.FieldPos(0)
		row = trimRow(row)

		entry, err := parseRow(line, row)
		if err != nil {
			return nil, err
		}

		if prev, dup := entries[entry.Coordinate]; dup {
			return nil, formatErr(line, row, "duplicate mapping for %s (first declared on line %d)",
				entry.Coordinate, prev.Line)
		}
		entries[entry.Coordinate] = entry
	}

	return newTable(entries), nil
}

// trimRow strips blanks around every field and drops trailing empty fields,
// so a spreadsheet export padded with commas keeps its shape.
func trimRow(row []string) []string {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	return row
}

func parseRow(line int, row []string) (Entry, error) {
	switch len(row) {
	case 2, 3, 4, 5, 7:
	default:
		return Entry{}, formatErr(line, row, "row has %d columns, expected 2, 3, 4, 5 or 7", len(row))
	}

	coord, err := parseCoordinate(line, row, row[colAddress], row[colBit])
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Coordinate: coord, Line: line}

	if len(row) == 2 {
		entry.Kind = types.KindInert
		return entry, nil
	}

	kind, err := types.ParseKind(row[colKind])
	if err != nil || kind == types.KindUnmapped {
		return Entry{}, formatErr(line, row, "unrecognized equipment kind %q", row[colKind])
	}

	if len(row) == 3 {
		entry.Kind = types.KindPlaceholder
		return entry, nil
	}

	entry.Kind = kind
	entry.ID = row[colID]
	if kind == types.KindPlaceholder {
		return Entry{}, formatErr(line, row, "placeholder rows take no equipment id")
	}
	if entry.ID == "" {
		return Entry{}, formatErr(line, row, "missing equipment id")
	}

	switch len(row) {
	case 4:
		if kind.IsPoint() {
			back, err := implicitBackref(line, row, coord, kind)
			if err != nil {
				return Entry{}, err
			}
			entry.Back = back
		}
	case 5:
		if row[colBackKind] != unmappedToken {
			if _, err := types.ParseKind(row[colBackKind]); err != nil {
				return Entry{}, formatErr(line, row, "unrecognized backreference kind %q", row[colBackKind])
			}
			return Entry{}, formatErr(line, row, "5-column rows must declare %s, got %q", unmappedToken, row[colBackKind])
		}
		if !kind.IsPoint() {
			return Entry{}, formatErr(line, row, "%s backreference is only valid for points, not %s", unmappedToken, kind.Token())
		}
	case 7:
		back, err := explicitBackref(line, row, coord, kind)
		if err != nil {
			return Entry{}, err
		}
		entry.Back = back
	}

	return entry, nil
}

func parseCoordinate(line int, row []string, address, bit string) (Coordinate, error) {
	a, err := strconv.Atoi(address)
	if err != nil {
		return Coordinate{}, formatErr(line, row, "address %q is not a number", address)
	}
	b, err := strconv.Atoi(bit)
	if err != nil {
		return Coordinate{}, formatErr(line, row, "bit %q is not a number", bit)
	}
	if a < 0 || a > 255 {
		return Coordinate{}, formatErr(line, row, "address %d out of range 0..255", a)
	}
	if b < 0 || b > 7 {
		return Coordinate{}, formatErr(line, row, "bit %d out of range 0..7", b)
	}
	return Coordinate{Address: uint8(a), Bit: uint8(b)}, nil
}

// NK finds its RK in the next bit up, RK finds its NK in the bit below.
func implicitBackref(line int, row []string, coord Coordinate, kind types.EquipmentKind) (Backreference, error) {
	offset := 1
	partner := types.KindPointReverse
	if kind == types.KindPointReverse {
		offset = -1
		partner = types.KindPointNormal
	}

	bit := int(coord.Bit) + offset
	if bit < 0 || bit > 7 {
		return Backreference{}, formatErr(line, row, "implicit backreference of %s at %s falls outside the register",
			kind.Token(), coord)
	}

	return Backreference{
		Mode:   BackrefImplicit,
		Kind:   partner,
		Target: Coordinate{Address: coord.Address, Bit: uint8(bit)},
	}, nil
}

// explicitBackref parses the back columns of a 7-column row. The partner is
// only kept when the decoder has a combination rule for the pairing; any
// other pairing decodes from the entry's own bit.
func explicitBackref(line int, row []string, coord Coordinate, kind types.EquipmentKind) (Backreference, error) {
	backKind, err := types.ParseKind(row[colBackKind])
	if err != nil {
		return Backreference{}, formatErr(line, row, "unrecognized backreference kind %q", row[colBackKind])
	}

	target, err := parseCoordinate(line, row, row[colBackAddress], row[colBackBit])
	if err != nil {
		return Backreference{}, err
	}

	if !combines(kind, backKind) {
		return Backreference{}, nil
	}
	if target == coord {
		return Backreference{}, formatErr(line, row, "row backreferences itself")
	}

	return Backreference{Mode: BackrefExplicit, Kind: backKind, Target: target}, nil
}

// combines reports whether kind is decoded together with a partner of kind
// back. Point keys and the DG/shunt-off keys take any partner, an off key
// only combines with a main route.
func combines(kind, back types.EquipmentKind) bool {
	switch kind {
	case types.KindPointNormal, types.KindPointReverse,
		types.KindSignalDG, types.KindSignalShuntOff:
		return true
	case types.KindSignalOff:
		return back == types.KindRouteMain
	}
	return false
}
