package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// subscriberBuffer bounds how far a slow gRPC consumer may fall behind
// before events are dropped for it.
const subscriberBuffer = 256

// EventStreamer fans decoded events out to stream subscribers.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan types.Event
	dropped     map[uuid.UUID]uint64
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[uuid.UUID]chan types.Event),
		dropped:     make(map[uuid.UUID]uint64),
	}
}

func (s *EventStreamer) Subscribe() (uuid.UUID, <-chan types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	ch := make(chan types.Event, subscriberBuffer)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes the subscriber's channel and returns how many events
// were dropped for it.
func (s *EventStreamer) Unsubscribe(id uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subscribers[id]
	if !ok {
		return 0
	}
	delete(s.subscribers, id)
	close(ch)

	dropped := s.dropped[id]
	delete(s.dropped, id)
	return dropped
}

func (s *EventStreamer) Broadcast(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Skip if channel is full
			s.dropped[id]++
		}
	}
}

// Close unsubscribes everyone, ending their streams.
func (s *EventStreamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
		delete(s.dropped, id)
	}
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
