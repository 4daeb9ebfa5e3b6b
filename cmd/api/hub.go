package main

import (
	"fmt"
	"sync"
)

// StreamSender is the minimal interface the hub needs from a stream.
type StreamSender interface {
	Send(*Event) error
}

// ConnectionHub tracks the live Subscribe streams of each user, keyed by
// user id hex, so sent messages can be pushed to every open endpoint.
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]StreamSender
	nextID  int64
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{streams: make(map[string]map[int64]StreamSender)}
}

// Register adds a stream for user and returns the id to unregister it with.
func (h *ConnectionHub) Register(user string, s StreamSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[user]; !ok {
		h.streams[user] = make(map[int64]StreamSender)
	}

	h.nextID++
	id := h.nextID
	h.streams[user][id] = &lockedSender{s: s}
	return id
}

// lockedSender serializes sends; a gRPC stream allows one SendMsg at a time.
type lockedSender struct {
	mu sync.Mutex
	s  StreamSender
}

func (l *lockedSender) Send(e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Send(e)
}

// Unregister removes a previously registered stream.
func (h *ConnectionHub) Unregister(user string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[user]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, user)
		}
	}
}

// Connected reports how many streams user has open.
func (h *ConnectionHub) Connected(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[user])
}

// SendToUser delivers e to every stream of user. Delivery is best-effort:
// every stream is tried, failed streams are dropped and the first error is
// returned. An offline user is an error.
func (h *ConnectionHub) SendToUser(user string, e *Event) error {
	h.mu.RLock()
	conns := make(map[int64]StreamSender, len(h.streams[user]))
	for id, st := range h.streams[user] {
		conns[id] = st
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s not connected", user)
	}

	var firstErr error
	var failedIDs []int64
	for id, st := range conns {
		if err := st.Send(e); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}

	for _, id := range failedIDs {
		h.Unregister(user, id)
	}
	return firstErr
}
