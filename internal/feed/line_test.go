package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		raw  string
		want Line
	}{
		{"S,1700000000123,1F,A0\n", Line{Kind: LineSignalling, Timestamp: 1700000000123, Address: 0x1F, Value: 0xA0}},
		{"S,-1,00,ff", Line{Kind: LineSignalling, Timestamp: -1, Address: 0, Value: 0xFF}},
		{"C,12,0123,0456,1K67\r\n", Line{Kind: LineDescriber, Timestamp: 12, FromBerth: "0123", ToBerth: "0456", Describer: "1K67"}},
		{"C,-1,NONE,0195,2A11", Line{Kind: LineDescriber, Timestamp: -1, FromBerth: types.NoBerth, ToBerth: "0195", Describer: "2A11"}},
		{"C,-1,,0195,2A11", Line{Kind: LineDescriber, Timestamp: -1, FromBerth: types.NoBerth, ToBerth: "0195", Describer: "2A11"}},
		{"R,99", Line{Kind: LineReset, Timestamp: 99}},
		{"R", Line{Kind: LineReset, Timestamp: -1}},
		{"MSG:1", Line{Kind: LineControl, Control: ControlRefreshBegin, Timestamp: -1}},
		{"MSG:2\n", Line{Kind: LineControl, Control: ControlRefreshEnd, Timestamp: -1}},
	}

	for _, tt := range tests {
		got, err := ParseLine(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseLineMalformed(t *testing.T) {
	bad := []string{
		"",
		"Q,1,2,3",
		"S,1,01",
		"S,1,01,02,03",
		"S,x,01,02",
		"S,-2,01,02",
		"S,1,G1,02",
		"S,1,100,02",
		"S,1,01,",
		"C,1,0123,0456",
		"C,1,0123,0456,",
		"R,1,2",
		"R,abc",
		"MSG:3",
	}
	for _, raw := range bad {
		_, err := ParseLine(raw)
		assert.ErrorIs(t, err, ErrMalformedLine, "%q", raw)
	}
}

func TestLineStringRoundTrip(t *testing.T) {
	for _, raw := range []string{"S,5,0A,FF", "C,-1,NONE,0195,2A11", "R,7", "MSG:1"} {
		l, err := ParseLine(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, l.String())
	}
}
