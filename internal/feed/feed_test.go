package feed

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/decoder"
	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

type fakeClient struct {
	lines        []string
	polls        int
	disconnected int
	block        bool
}

func (c *fakeClient) PollNext(ctx context.Context) (string, error) {
	if c.polls < len(c.lines) {
		line := c.lines[c.polls]
		c.polls++
		return line, nil
	}
	if c.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "", &TransportError{Op: "read", Err: io.EOF}
}

func (c *fakeClient) Disconnect() error {
	c.disconnected++
	return nil
}

func (c *fakeClient) IsAlive() bool {
	return c.polls < len(c.lines)
}

type applyCall struct {
	ts            int64
	address, data uint8
}

type fakeDecoder struct {
	calls   []applyCall
	results map[uint8][]types.Event
	resets  int
}

func (d *fakeDecoder) Apply(ts int64, address, data uint8) []types.Event {
	d.calls = append(d.calls, applyCall{ts, address, data})
	return d.results[address]
}

func (d *fakeDecoder) Reset() {
	d.resets++
}

func tc(id string, state types.State) types.Event {
	return types.SignallingEvent(types.NoTimestamp, types.TypeTrackCircuit, state, id)
}

func TestNextEventDescriber(t *testing.T) {
	client := &fakeClient{lines: []string{"C,1700000000,0123,NONE,1K67\n"}}
	dec := &fakeDecoder{}
	f := New(client, dec, zap.NewNop())

	ev, err := f.NextEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.DescriberEvent(1700000000, "0123", types.NoBerth, "1K67"), ev)
	assert.Empty(t, dec.calls)
}

func TestNextEventSkipsEmptyDecodes(t *testing.T) {
	client := &fakeClient{lines: []string{
		"S,-1,01,00",
		"MSG:1",
		"S,-1,02,FF",
		"MSG:2",
		"S,5,03,0A",
	}}
	dec := &fakeDecoder{results: map[uint8][]types.Event{
		3: {tc("TC3", types.StateOccupied)},
	}}
	f := New(client, dec, zap.NewNop())

	ev, err := f.NextEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tc("TC3", types.StateOccupied), ev)
	assert.Equal(t, []applyCall{{-1, 1, 0x00}, {-1, 2, 0xFF}, {5, 3, 0x0A}}, dec.calls)
}

func TestNextEventBuffersSurplus(t *testing.T) {
	client := &fakeClient{lines: []string{"S,-1,01,03", "S,-1,02,01"}}
	dec := &fakeDecoder{results: map[uint8][]types.Event{
		1: {tc("A", types.StateOccupied), tc("B", types.StateOccupied), tc("C", types.StateOccupied)},
		2: {tc("D", types.StateUnoccupied)},
	}}
	f := New(client, dec, zap.NewNop())

	var got []string
	for i := 0; i < 4; i++ {
		ev, err := f.NextEvent(context.Background())
		require.NoError(t, err)
		got = append(got, ev.ID)
		if i == 0 {
			assert.Equal(t, 2, f.Pending())
			assert.Equal(t, 1, client.polls)
		}
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, got)
	assert.Equal(t, 0, f.Pending())
}

func TestNextEventOrderingWithDecoder(t *testing.T) {
	table, err := mapping.Load(strings.NewReader("h\n3,1,T,TCA\n3,5,T,TCB\n"))
	require.NoError(t, err)
	dec, err := decoder.New(table)
	require.NoError(t, err)

	client := &fakeClient{lines: []string{"S,-1,03,00", "S,9,03,22"}}
	f := New(client, dec, zap.NewNop())

	ctx := context.Background()
	var got []types.Event
	for i := 0; i < 4; i++ {
		ev, err := f.NextEvent(ctx)
		require.NoError(t, err)
		got = append(got, ev)
	}

	assert.Equal(t, []types.Event{
		tc("TCA", types.StateUnoccupied),
		tc("TCB", types.StateUnoccupied),
		types.SignallingEvent(9, types.TypeTrackCircuit, types.StateOccupied, "TCA"),
		types.SignallingEvent(9, types.TypeTrackCircuit, types.StateOccupied, "TCB"),
	}, got)
}

func TestNextEventTransportFailure(t *testing.T) {
	client := &fakeClient{}
	f := New(client, &fakeDecoder{}, zap.NewNop())

	_, err := f.NextEvent(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.EOF)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.NotEmpty(t, te.DisplayMessage())
	assert.False(t, f.IsAlive())
}

func TestNextEventWrapsForeignErrors(t *testing.T) {
	f := New(errClient{err: errors.New("boom")}, &fakeDecoder{}, zap.NewNop())

	_, err := f.NextEvent(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

type errClient struct{ err error }

func (c errClient) PollNext(context.Context) (string, error) { return "", c.err }
func (c errClient) Disconnect() error                        { return nil }
func (c errClient) IsAlive() bool                            { return false }

func TestNextEventContextCancelled(t *testing.T) {
	client := &fakeClient{block: true}
	f := New(client, &fakeDecoder{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.NextEvent(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestNextEventMalformedLine(t *testing.T) {
	client := &fakeClient{lines: []string{"X,1,2", "S,-1,01,01"}}
	dec := &fakeDecoder{results: map[uint8][]types.Event{1: {tc("A", types.StateOccupied)}}}
	f := New(client, dec, zap.NewNop())

	_, err := f.NextEvent(context.Background())
	assert.ErrorIs(t, err, ErrMalformedLine)

	// The feed carries on with the next line.
	ev, err := f.NextEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", ev.ID)
}

func TestResetLineResetsDecoder(t *testing.T) {
	client := &fakeClient{lines: []string{"R,100", "C,101,NONE,0195,2A11"}}
	dec := &fakeDecoder{}
	f := New(client, dec, zap.NewNop())

	ev, err := f.NextEvent(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.IsDescriber())
	assert.Equal(t, 1, dec.resets)
}

func TestFeedDelegates(t *testing.T) {
	client := &fakeClient{lines: []string{"S,-1,01,01"}}
	dec := &fakeDecoder{}
	f := New(client, dec, zap.NewNop())

	assert.True(t, f.IsAlive())
	f.Reset()
	assert.Equal(t, 1, dec.resets)

	require.NoError(t, f.Disconnect())
	require.NoError(t, f.Disconnect())
	assert.Equal(t, 2, client.disconnected)
	assert.NotEqual(t, f.Session(), New(client, dec, zap.NewNop()).Session())
}

type countingObserver struct {
	lines     map[LineKind]int
	malformed int
}

func (o *countingObserver) ObserveLine(k LineKind) { o.lines[k]++ }
func (o *countingObserver) ObserveMalformed()      { o.malformed++ }

func TestLineObserver(t *testing.T) {
	client := &fakeClient{lines: []string{"MSG:1", "S,-1,01,01", "bad", "C,1,NONE,NONE,1A00"}}
	obs := &countingObserver{lines: map[LineKind]int{}}
	f := New(client, &fakeDecoder{}, zap.NewNop(), WithLineObserver(obs))

	_, err := f.NextEvent(context.Background())
	assert.ErrorIs(t, err, ErrMalformedLine)
	_, err = f.NextEvent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, obs.lines[LineControl])
	assert.Equal(t, 1, obs.lines[LineSignalling])
	assert.Equal(t, 1, obs.lines[LineDescriber])
	assert.Equal(t, 1, obs.malformed)
}
