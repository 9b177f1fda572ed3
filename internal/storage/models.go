package storage

import (
	"fmt"
	"time"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// Log types stored in logs.log_type
const (
	LogTypeSClass = "S"
	LogTypeCClass = "C"
	LogTypeReset  = "R"
)

// LogRow is one logged TD message. Only the fields of its LogType are set.
type LogRow struct {
	LogID   int64     `json:"log_id"`
	Time    time.Time `json:"time"`
	LogType string    `json:"log_type"`

	// C-Class
	FromBerth *string `json:"from_berth,omitempty"`
	ToBerth   *string `json:"to_berth,omitempty"`
	Describer *string `json:"describer,omitempty"`

	// S-Class
	Address *int16 `json:"address,omitempty"`
	Data    *int16 `json:"data,omitempty"`
}

// Line renders the row in raw feed line form, timestamped in milliseconds.
func (r LogRow) Line() (string, error) {
	ts := r.Time.UnixMilli()

	switch r.LogType {
	case LogTypeSClass:
		if r.Address == nil || r.Data == nil {
			return "", fmt.Errorf("log %d: S-Class row without address or data", r.LogID)
		}
		if *r.Address < 0 || *r.Address > 255 || *r.Data < 0 || *r.Data > 255 {
			return "", fmt.Errorf("log %d: S-Class value out of range", r.LogID)
		}
		return fmt.Sprintf("S,%d,%02X,%02X", ts, *r.Address, *r.Data), nil

	case LogTypeCClass:
		if r.Describer == nil {
			return "", fmt.Errorf("log %d: C-Class row without describer", r.LogID)
		}
		return fmt.Sprintf("C,%d,%s,%s,%s", ts, berthOrNone(r.FromBerth), berthOrNone(r.ToBerth), *r.Describer), nil

	case LogTypeReset:
		return fmt.Sprintf("R,%d", ts), nil
	}

	return "", fmt.Errorf("log %d: unknown log type %q", r.LogID, r.LogType)
}

func berthOrNone(b *string) string {
	if b == nil || *b == "" {
		return types.NoBerth
	}
	return *b
}
