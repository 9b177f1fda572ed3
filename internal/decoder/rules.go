package decoder

import (
	"fmt"

	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// decode resolves one entry against the stored registers. ok is false when the
// entry needs a partner bit whose register has never been written.
func (d *Decoder) decode(e mapping.Entry) (ev types.Event, ok bool) {
	own := bitOf(d.regs.Value(e.Address), e.Bit)

	var back, hasBack bool
	if e.Back.Present() {
		back, ok = d.regs.Bit(e.Back.Target.Address, e.Back.Target.Bit)
		if !ok {
			return types.Event{}, false
		}
		hasBack = true
	}

	var (
		typ   types.EventType
		state types.State
	)

	switch e.Kind {
	case types.KindPointNormal:
		typ = types.TypePoint
		if hasBack {
			state = pointState(own, back)
		} else {
			state = pick(own, types.StateNormal, types.StateReverse)
		}
	case types.KindPointReverse:
		typ = types.TypePoint
		if hasBack {
			state = pointState(back, own)
		} else {
			state = pick(own, types.StateReverse, types.StateNormal)
		}

	case types.KindSignalDG:
		typ = types.TypeSignalAspect
		if hasBack {
			state = compoundShuntState(own, back)
		} else {
			state = pick(own, types.StateMainOff, types.StateOn)
		}
	case types.KindSignalShuntOff:
		typ = types.TypeSignalAspect
		if hasBack {
			state = compoundShuntState(back, own)
		} else {
			state = pick(own, types.StateShuntOff, types.StateOn)
		}
	case types.KindSignalOff:
		typ = types.TypeSignalAspect
		if hasBack {
			state = compoundRouteState(own, back)
		} else {
			state = pick(own, types.StateMainOff, types.StateOn)
		}
	case types.KindSignalRed:
		typ = types.TypeSignalAspect
		state = pick(own, types.StateOn, types.StateMainOff)

	case types.KindTrackCircuit:
		typ = types.TypeTrackCircuit
		state = pick(own, types.StateOccupied, types.StateUnoccupied)
	case types.KindRouteIndicatorButton:
		typ = types.TypeRouteIndicator
		state = pick(own, types.StateRouteSet, types.StateRouteNotSet)
	case types.KindRouteMain:
		typ = types.TypeMainRoute
		state = pick(own, types.StateSet, types.StateNotSet)
	case types.KindRouteShunt:
		typ = types.TypeShuntRoute
		state = pick(own, types.StateSet, types.StateNotSet)
	case types.KindRouteCallOn:
		typ = types.TypeCallOnRoute
		state = pick(own, types.StateSet, types.StateNotSet)

	default:
		panic(fmt.Errorf("%w: no rule for %s at %s (line %d)", ErrCorruptDecodeState, e.Kind, e.Coordinate, e.Line))
	}

	return types.SignallingEvent(types.NoTimestamp, typ, state, e.ID), true
}

func pick(bit bool, ifSet, ifClear types.State) types.State {
	if bit {
		return ifSet
	}
	return ifClear
}

func pointState(normal, reverse bool) types.State {
	switch {
	case normal && reverse:
		return types.StateBoth
	case normal:
		return types.StateNormal
	case reverse:
		return types.StateReverse
	default:
		return types.StateNeither
	}
}

// DG key combined with the shunt-off key of the same signal.
func compoundShuntState(dg, shuntOff bool) types.State {
	switch {
	case dg && shuntOff:
		return types.StateBothOff
	case dg:
		return types.StateMainOff
	case shuntOff:
		return types.StateShuntOff
	default:
		return types.StateOn
	}
}

// Off key combined with the main route out of the signal.
func compoundRouteState(off, mainRoute bool) types.State {
	switch {
	case !off:
		return types.StateOn
	case mainRoute:
		return types.StateMainOff
	default:
		return types.StateShuntOff
	}
}
