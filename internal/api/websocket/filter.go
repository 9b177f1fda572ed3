package websocket

import (
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// SubscribeRequest narrows the events a client receives. Empty lists match
// everything.
//
//	{"type":"subscribe","classes":["S"],"types":["point"],"ids":["P1","P2"]}
type SubscribeRequest struct {
	Type    string   `json:"type"`
	Classes []string `json:"classes,omitempty"`
	Types   []string `json:"types,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

// Filter is an immutable compiled SubscribeRequest.
type Filter struct {
	classes map[types.EventClass]struct{}
	types   map[string]struct{}
	ids     map[string]struct{}
}

func NewFilter(req SubscribeRequest) *Filter {
	f := &Filter{}
	if len(req.Classes) > 0 {
		f.classes = make(map[types.EventClass]struct{}, len(req.Classes))
		for _, c := range req.Classes {
			if c != "" {
				f.classes[types.EventClass(c[0])] = struct{}{}
			}
		}
	}
	f.types = toSet(req.Types)
	f.ids = toSet(req.IDs)
	return f
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Matches reports whether ev passes the filter. A nil filter matches all.
// Type and id restrictions only apply to S-Class events; the describer code
// is matched against ids for C-Class events.
func (f *Filter) Matches(ev types.Event) bool {
	if f == nil {
		return true
	}
	if f.classes != nil {
		if _, ok := f.classes[ev.Class]; !ok {
			return false
		}
	}

	if ev.IsDescriber() {
		if f.ids == nil {
			return true
		}
		_, ok := f.ids[ev.Describer]
		return ok
	}

	if f.types != nil {
		if _, ok := f.types[ev.Type.String()]; !ok {
			return false
		}
	}
	if f.ids != nil {
		if _, ok := f.ids[ev.ID]; !ok {
			return false
		}
	}
	return true
}
