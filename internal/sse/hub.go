// Package sse fans inbox events out to the open event streams of the users
// who own them. A user may hold several streams, one per open tab.
package sse

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Hub fans server-sent events out to the open streams of each user.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan []byte]struct{}
}

// streamBuffer is how many frames a stream may fall behind before events to
// it are dropped.
const streamBuffer = 8

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan []byte]struct{})}
}

// Subscribe opens a stream for userID. The returned func unregisters the
// stream and closes its channel; it must be called exactly once.
func (h *Hub) Subscribe(userID int64) (chan []byte, func()) {
	ch := make(chan []byte, streamBuffer)
	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[chan []byte]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if subscribers, ok := h.subs[userID]; ok {
			delete(subscribers, ch)
			if len(subscribers) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
}

// Broadcast delivers payload to every stream of the given users. A user
// listed twice still receives the frame once per stream. Streams with a
// full buffer miss the event.
func (h *Hub) Broadcast(userIDs []int64, payload []byte) {
	if len(userIDs) == 0 {
		return
	}
	unique := map[int64]struct{}{}
	for _, id := range userIDs {
		unique[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range unique {
		for ch := range h.subs[id] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers returns the number of open streams for a user. The stream
// handler logs it on connect.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Event encodes one named server-sent event frame with data as its JSON
// payload, e.g. "event: message\ndata: {...}\n\n".
func Event(name string, data any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, encoded)), nil
}
