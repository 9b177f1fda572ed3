package mapping

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

const header = "address,bit,type,id,backType,backAddress,backBit\n"

func load(t *testing.T, rows string) (*Table, error) {
	t.Helper()
	return Load(strings.NewReader(header + rows))
}

func TestLoadRowShapes(t *testing.T) {
	table, err := load(t, strings.Join([]string{
		"0,0",
		"0,1,P",
		"0,2,T,TC1",
		"5,2,NK,P1",
		"5,3,RK,P1",
		"6,0,NK,P2,UNMAPPED",
		"7,0,DGK,S1,SOFFK,7,1",
		"7,1,SOFFK,S1,DGK,7,0",
		"8,4,OFFK,S2,RM,9,6",
		"",
	}, "\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, table.Len())

	e, ok := table.Lookup(0, 0)
	require.True(t, ok)
	assert.Equal(t, types.KindInert, e.Kind)
	assert.False(t, e.Emits())

	e, ok = table.Lookup(0, 1)
	require.True(t, ok)
	assert.Equal(t, types.KindPlaceholder, e.Kind)
	assert.Empty(t, e.ID)

	e, _ = table.Lookup(0, 2)
	assert.Equal(t, types.KindTrackCircuit, e.Kind)
	assert.Equal(t, "TC1", e.ID)
	assert.False(t, e.Back.Present())

	e, _ = table.Lookup(5, 2)
	assert.Equal(t, BackrefImplicit, e.Back.Mode)
	assert.Equal(t, Coordinate{Address: 5, Bit: 3}, e.Back.Target)
	assert.Equal(t, types.KindPointReverse, e.Back.Kind)

	e, _ = table.Lookup(5, 3)
	assert.Equal(t, Coordinate{Address: 5, Bit: 2}, e.Back.Target)

	e, _ = table.Lookup(6, 0)
	assert.Equal(t, types.KindPointNormal, e.Kind)
	assert.Equal(t, BackrefNone, e.Back.Mode)

	e, _ = table.Lookup(8, 4)
	assert.Equal(t, BackrefExplicit, e.Back.Mode)
	assert.Equal(t, types.KindRouteMain, e.Back.Kind)
	assert.Equal(t, Coordinate{Address: 9, Bit: 6}, e.Back.Target)

	_, ok = table.Lookup(200, 7)
	assert.False(t, ok)
}

func TestLoadPaddedRows(t *testing.T) {
	table, err := load(t, strings.Join([]string{
		"0,4,,,,,",
		"0,0,T,TAA,,,",
		"1,4,NK,P103,UNMAPPED,,",
		"0,6,P,",
		"2,0,DGK,S9,SOFFK,2,1,",
		"",
	}, "\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())

	e, ok := table.Lookup(0, 4)
	require.True(t, ok)
	assert.Equal(t, types.KindInert, e.Kind)

	e, _ = table.Lookup(0, 0)
	assert.Equal(t, types.KindTrackCircuit, e.Kind)
	assert.Equal(t, "TAA", e.ID)
	assert.False(t, e.Back.Present())

	e, _ = table.Lookup(1, 4)
	assert.Equal(t, types.KindPointNormal, e.Kind)
	assert.Equal(t, BackrefNone, e.Back.Mode)

	e, _ = table.Lookup(0, 6)
	assert.Equal(t, types.KindPlaceholder, e.Kind)

	e, _ = table.Lookup(2, 0)
	assert.Equal(t, BackrefExplicit, e.Back.Mode)
	assert.Equal(t, Coordinate{Address: 2, Bit: 1}, e.Back.Target)
}

func TestLoadExplicitPairings(t *testing.T) {
	tests := []struct {
		name     string
		row      string
		combined bool
	}{
		{"track circuit with track circuit", "4,0,T,TC1,T,5,0", false},
		{"off key with shunt off key", "4,0,OFFK,S1,SOFFK,5,1", false},
		{"red key with DG key", "4,0,RGK,S1,DGK,5,1", false},
		{"main route with main route", "4,0,RM,R1,RM,5,1", false},
		{"route button with track circuit", "4,0,B,B1,T,5,1", false},
		{"off key with main route", "4,0,OFFK,S1,RM,5,1", true},
		{"DG key with main route", "4,0,DGK,S1,RM,5,1", true},
		{"shunt off key with DG key", "4,0,SOFFK,S1,DGK,5,1", true},
		{"normal key with track circuit", "4,0,NK,P1,T,5,1", true},
		{"reverse key with normal key", "4,0,RK,P1,NK,5,1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := load(t, tt.row+"\n")
			require.NoError(t, err)

			e, ok := table.Lookup(4, 0)
			require.True(t, ok)
			if tt.combined {
				assert.Equal(t, BackrefExplicit, e.Back.Mode)
				assert.Equal(t, uint8(5), e.Back.Target.Address)
			} else {
				assert.False(t, e.Back.Present())
			}
		})
	}
}

func TestLoadEntriesOrdered(t *testing.T) {
	table, err := load(t, "9,1,T,A\n2,7,T,B\n2,0,T,C\n")
	require.NoError(t, err)

	var got []Coordinate
	for _, e := range table.Entries() {
		got = append(got, e.Coordinate)
	}
	assert.Equal(t, []Coordinate{{2, 0}, {2, 7}, {9, 1}}, got)

	// Entries hands out a copy
	entries := table.Entries()
	entries[0].ID = "changed"
	e, _ := table.Lookup(2, 0)
	assert.Equal(t, "C", e.ID)
}

func TestLoadEmpty(t *testing.T) {
	table, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())

	table, err = load(t, "")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestLoadFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		rows string
		line int
	}{
		{"non numeric address", "x,0,T,TC1\n", 2},
		{"non numeric bit", "0,y,T,TC1\n", 2},
		{"address too large", "256,0,T,TC1\n", 2},
		{"negative address", "-1,0,T,TC1\n", 2},
		{"bit too large", "0,8,T,TC1\n", 2},
		{"unknown kind", "0,0,XX,TC1\n", 2},
		{"unknown placeholder kind", "0,0,XX\n", 2},
		{"one column", "0\n", 2},
		{"six columns", "0,0,NK,P1,RK,0\n", 2},
		{"eight columns", "0,0,NK,P1,RK,0,1,9\n", 2},
		{"unknown back kind", "0,0,NK,P1,ZZ,0,1\n", 2},
		{"five columns without UNMAPPED", "0,0,NK,P1,RK\n", 2},
		{"five columns unknown token", "0,0,NK,P1,ZZ\n", 2},
		{"UNMAPPED on non point", "0,0,T,TC1,UNMAPPED\n", 2},
		{"implicit NK off the top", "0,7,NK,P1\n", 2},
		{"implicit RK off the bottom", "0,0,RK,P1\n", 2},
		{"back address out of range", "0,0,NK,P1,RK,300,1\n", 2},
		{"back bit out of range", "0,0,NK,P1,RK,1,9\n", 2},
		{"unknown back kind on track circuit", "0,0,T,TC1,ZZ,1,1\n", 2},
		{"bad back address without rule", "0,0,T,TC1,T,x,1\n", 2},
		{"self reference", "0,0,DGK,S1,SOFFK,0,0\n", 2},
		{"missing id", "0,0,T,,RM,1,1\n", 2},
		{"padded row of blanks", ",,,,,,\n", 2},
		{"duplicate coordinate", "0,0,T,TC1\n0,0,T,TC2\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := load(t, tt.rows)
			require.Error(t, err)
			assert.Nil(t, table)
			assert.True(t, errors.Is(err, ErrMapFormat), "got %v", err)

			var mfe *MapFormatError
			require.ErrorAs(t, err, &mfe)
			assert.Equal(t, tt.line, mfe.Line)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "area.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"1,1,B,R1\n"), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)
	e, ok := table.Lookup(1, 1)
	require.True(t, ok)
	assert.Equal(t, types.KindRouteIndicatorButton, e.Kind)

	_, err = LoadFile(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMapFormat))
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "area.csv"),
		[]byte(header+"10,0,T,TC1\n220,0,T,TC2\n"), 0o644))

	manifestPath := filepath.Join(dir, "area.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(
		"area: cambridge\ndescription: test area\nmapping: area.csv\n"), 0o644))

	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "cambridge", m.Area)
	assert.Equal(t, filepath.Join(dir, "area.csv"), m.MappingPath())

	table, err := m.LoadTable()
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	require.NoError(t, os.WriteFile(manifestPath, []byte(
		"area: cambridge\nmapping: area.csv\nmax_address: 200\n"), 0o644))
	m, err = LoadManifest(manifestPath)
	require.NoError(t, err)

	_, err = m.LoadTable()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMapFormat)
}

func TestManifestRequiresFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("description: nothing\n"), 0o644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestShippedCambridgeManifest(t *testing.T) {
	m, err := LoadManifest(filepath.Join("..", "..", "configs", "cambridge.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "CA", m.Area)

	table, err := m.LoadTable()
	require.NoError(t, err)

	e, ok := table.Lookup(2, 0)
	require.True(t, ok)
	assert.Equal(t, types.KindSignalDG, e.Kind)
	assert.Equal(t, Coordinate{Address: 2, Bit: 1}, e.Back.Target)

	e, ok = table.Lookup(1, 4)
	require.True(t, ok)
	assert.False(t, e.Back.Present())
}
