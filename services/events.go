package services

import (
	"sync"
	"time"
)

// Match event names published on state transitions.
const (
	EventMatchStarted   = "match_started"
	EventChoiceMade     = "choice_made"
	EventMatchCompleted = "match_completed"
	EventMatchTimeout   = "match_timeout"
)

// MatchEvent is a flat notification emitted on a match state transition.
type MatchEvent struct {
	MatchID string         `json:"match_id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// EventBroker fans match events out to connected subscribers, one room per
// match id. Publish is fire-and-forget: a slow or absent subscriber never
// blocks or fails the request that triggered the event.
type EventBroker struct {
	mu    sync.RWMutex
	rooms map[string]map[chan MatchEvent]struct{}
}

func NewEventBroker() *EventBroker {
	return &EventBroker{
		rooms: make(map[string]map[chan MatchEvent]struct{}),
	}
}

// Publish delivers an event to every subscriber of the match's room,
// dropping it for subscribers whose buffer is full.
func (b *EventBroker) Publish(matchID, name string, payload map[string]any) {
	event := MatchEvent{
		MatchID: matchID,
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.rooms[matchID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe joins a match room. The returned cancel func must be called when
// the client disconnects.
func (b *EventBroker) Subscribe(matchID string) (<-chan MatchEvent, func()) {
	ch := make(chan MatchEvent, 16)

	b.mu.Lock()
	if b.rooms[matchID] == nil {
		b.rooms[matchID] = make(map[chan MatchEvent]struct{})
	}
	b.rooms[matchID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.rooms[matchID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.rooms, matchID)
			}
		}
	}
	return ch, cancel
}
