package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

type LineKind int

const (
	LineSignalling LineKind = iota // S,<ts>,<addr>,<byte>
	LineDescriber                  // C,<ts>,<from>,<to>,<descr>
	LineReset                      // R,<ts>
	LineControl                    // MSG:1 / MSG:2
)

func (k LineKind) String() string {
	switch k {
	case LineSignalling:
		return "S"
	case LineDescriber:
		return "C"
	case LineReset:
		return "R"
	case LineControl:
		return "MSG"
	default:
		return "unknown"
	}
}

// Data server markers around a full signalling refresh.
const (
	ControlRefreshBegin = "MSG:1"
	ControlRefreshEnd   = "MSG:2"
)

// Line is one parsed raw feed line.
type Line struct {
	Kind      LineKind
	Timestamp int64

	Address uint8
	Value   uint8

	FromBerth string
	ToBerth   string
	Describer string

	Control string
}

// ParseLine parses a newline-terminated raw feed line.
func ParseLine(raw string) (Line, error) {
	s := strings.TrimSpace(raw)
	if s == ControlRefreshBegin || s == ControlRefreshEnd {
		return Line{Kind: LineControl, Control: s, Timestamp: types.NoTimestamp}, nil
	}

	fields := strings.Split(s, ",")
	switch fields[0] {
	case "S":
		if len(fields) != 4 {
			return Line{}, malformed(raw, "S-Class line has %d fields", len(fields))
		}
		ts, err := parseTimestamp(fields[1])
		if err != nil {
			return Line{}, malformed(raw, "%v", err)
		}
		addr, err := parseHexByte(fields[2])
		if err != nil {
			return Line{}, malformed(raw, "address: %v", err)
		}
		value, err := parseHexByte(fields[3])
		if err != nil {
			return Line{}, malformed(raw, "data: %v", err)
		}
		return Line{Kind: LineSignalling, Timestamp: ts, Address: addr, Value: value}, nil

	case "C":
		if len(fields) != 5 {
			return Line{}, malformed(raw, "C-Class line has %d fields", len(fields))
		}
		ts, err := parseTimestamp(fields[1])
		if err != nil {
			return Line{}, malformed(raw, "%v", err)
		}
		if fields[4] == "" {
			return Line{}, malformed(raw, "empty describer")
		}
		return Line{
			Kind:      LineDescriber,
			Timestamp: ts,
			FromBerth: berth(fields[2]),
			ToBerth:   berth(fields[3]),
			Describer: fields[4],
		}, nil

	case "R":
		ts := types.NoTimestamp
		if len(fields) > 2 {
			return Line{}, malformed(raw, "reset line has %d fields", len(fields))
		}
		if len(fields) == 2 {
			var err error
			if ts, err = parseTimestamp(fields[1]); err != nil {
				return Line{}, malformed(raw, "%v", err)
			}
		}
		return Line{Kind: LineReset, Timestamp: ts}, nil
	}

	return Line{}, malformed(raw, "invalid message class %q", fields[0])
}

// String renders l back into its raw form.
func (l Line) String() string {
	switch l.Kind {
	case LineSignalling:
		return fmt.Sprintf("S,%d,%02X,%02X", l.Timestamp, l.Address, l.Value)
	case LineDescriber:
		return fmt.Sprintf("C,%d,%s,%s,%s", l.Timestamp, berth(l.FromBerth), berth(l.ToBerth), l.Describer)
	case LineReset:
		return fmt.Sprintf("R,%d", l.Timestamp)
	case LineControl:
		return l.Control
	}
	return ""
}

func parseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q is not a number", s)
	}
	if ts < types.NoTimestamp {
		return 0, fmt.Errorf("timestamp %d is negative", ts)
	}
	return ts, nil
}

func parseHexByte(s string) (uint8, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("%q is not a two digit hex byte", s)
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a two digit hex byte", s)
	}
	return uint8(v), nil
}

func berth(s string) string {
	if s == "" {
		return types.NoBerth
	}
	return s
}
