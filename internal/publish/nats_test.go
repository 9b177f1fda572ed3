package publish

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "td.s.point.P1",
		Subject("td", types.SignallingEvent(-1, types.TypePoint, types.StateNormal, "P1")))
	assert.Equal(t, "td.s.signal_aspect.CA_123",
		Subject("td", types.SignallingEvent(-1, types.TypeSignalAspect, types.StateOn, "CA.123")))
	assert.Equal(t, "td.c.1K67",
		Subject("td", types.DescriberEvent(-1, "0123", types.NoBerth, "1K67")))
	assert.Equal(t, "td.s.track_circuit._",
		Subject("td", types.SignallingEvent(-1, types.TypeTrackCircuit, types.StateOccupied, "")))
}

func TestPublish(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "signalling.", zap.NewNop())

	ev := types.SignallingEvent(5, types.TypeMainRoute, types.StateSet, "R7")
	require.NoError(t, p.Publish(ev))

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "signalling.s.main_route.R7", c.msgs[0].subject)

	var back types.Event
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &back))
	assert.Equal(t, ev, back)
}

func TestPublishError(t *testing.T) {
	p := newPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "td", zap.NewNop())
	assert.Error(t, p.Publish(types.DescriberEvent(-1, "NONE", "0001", "2B00")))
	p.Close()
}
