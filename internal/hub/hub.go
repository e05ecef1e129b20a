// Package hub maps conversations to the live connections joined to them and
// fans events out to those connections.
//
// Membership is in-process only. A user whose connection is not joined to a
// room when a broadcast happens does not receive it.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"rendezvous/internal/model"
)

var (
	// ErrPeerClosed is returned by Peer.Send once the connection is shutting down
	ErrPeerClosed = errors.New("hub: connection closed")
	// ErrQueueFull is returned by Peer.Send when the event did not fit in the
	// connection's queue
	ErrQueueFull = errors.New("hub: send queue full")
)

// Peer is a live connection that can receive events
type Peer interface {
	ID() string
	UserID() string
	// Send queues an event without blocking. A nil error means the event was
	// queued.
	Send(event model.Event) error
}

type room struct {
	mu      sync.RWMutex
	members map[string]Peer
	closed  bool
}

// Hub is safe for concurrent use. Each room carries its own lock so traffic in
// one conversation never waits on another.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	peers     map[string]Peer
	users     map[string]map[string]Peer
	peerRooms map[string]map[string]struct{}

	onDrop func(event string)
	logger *slog.Logger
}

// Option configures a Hub
type Option func(*Hub)

// WithDropHook calls fn with the event name whenever a slow connection's
// queue is full and the event is dropped for it.
func WithDropHook(fn func(event string)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// New creates an empty hub
func New(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		rooms:     make(map[string]*room),
		peers:     make(map[string]Peer),
		users:     make(map[string]map[string]Peer),
		peerRooms: make(map[string]map[string]struct{}),
		logger:    logger.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection and returns how many connections its user now has
func (h *Hub) Register(p Peer) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peers[p.ID()] = p
	conns, ok := h.users[p.UserID()]
	if !ok {
		conns = make(map[string]Peer)
		h.users[p.UserID()] = conns
	}
	conns[p.ID()] = p
	return len(conns)
}

// Unregister removes a connection from every room it joined and returns how
// many connections its user still has.
func (h *Hub) Unregister(p Peer) int {
	h.mu.Lock()
	joined := h.peerRooms[p.ID()]
	delete(h.peerRooms, p.ID())
	delete(h.peers, p.ID())

	remaining := 0
	if conns, ok := h.users[p.UserID()]; ok {
		delete(conns, p.ID())
		remaining = len(conns)
		if remaining == 0 {
			delete(h.users, p.UserID())
		}
	}
	h.mu.Unlock()

	for conversationID := range joined {
		h.removeFromRoom(conversationID, p.ID())
	}
	return remaining
}

// Join subscribes p to conversationID. Joining twice is a no-op.
func (h *Hub) Join(conversationID string, p Peer) {
	for {
		r := h.getOrCreateRoom(conversationID)

		r.mu.Lock()
		if r.closed {
			// 空になって削除されたルームを掴んだ場合は取り直す
			r.mu.Unlock()
			continue
		}
		r.members[p.ID()] = p
		r.mu.Unlock()
		break
	}

	h.mu.Lock()
	rooms, ok := h.peerRooms[p.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		h.peerRooms[p.ID()] = rooms
	}
	rooms[conversationID] = struct{}{}
	h.mu.Unlock()
}

// Leave unsubscribes p from conversationID. Leaving a room that was never
// joined is not an error.
func (h *Hub) Leave(conversationID string, p Peer) {
	h.mu.Lock()
	if rooms, ok := h.peerRooms[p.ID()]; ok {
		delete(rooms, conversationID)
	}
	h.mu.Unlock()

	h.removeFromRoom(conversationID, p.ID())
}

// IsJoined reports whether the connection is currently subscribed to the room
func (h *Hub) IsJoined(conversationID, peerID string) bool {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, joined := r.members[peerID]
	return joined
}

// Broadcast delivers event to every connection joined to conversationID,
// skipping connections that belong to exceptUserID (pass "" to skip none).
// It returns the number of connections the event was queued for.
func (h *Hub) Broadcast(conversationID string, event model.Event, exceptUserID string) int {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	// スナップショットを取ってからロックを外して送信する
	r.mu.RLock()
	snapshot := make([]Peer, 0, len(r.members))
	for _, p := range r.members {
		if exceptUserID != "" && p.UserID() == exceptUserID {
			continue
		}
		snapshot = append(snapshot, p)
	}
	r.mu.RUnlock()

	return h.deliver(snapshot, event)
}

// SendToUser delivers event to every connection of userID
func (h *Hub) SendToUser(userID string, event model.Event) int {
	h.mu.RLock()
	snapshot := make([]Peer, 0, len(h.users[userID]))
	for _, p := range h.users[userID] {
		snapshot = append(snapshot, p)
	}
	h.mu.RUnlock()

	return h.deliver(snapshot, event)
}

// BroadcastAll delivers event to every connection whose user is not skipped
func (h *Hub) BroadcastAll(event model.Event, skip func(userID string) bool) int {
	h.mu.RLock()
	snapshot := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		if skip != nil && skip(p.UserID()) {
			continue
		}
		snapshot = append(snapshot, p)
	}
	h.mu.RUnlock()

	return h.deliver(snapshot, event)
}

// RoomSize returns how many connections are joined to conversationID
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Stats returns current hub statistics
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]int{
		"connections": len(h.peers),
		"users":       len(h.users),
		"rooms":       len(h.rooms),
	}
}

func (h *Hub) getOrCreateRoom(conversationID string) *room {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[conversationID]; ok {
		return r
	}
	r = &room{members: make(map[string]Peer)}
	h.rooms[conversationID] = r
	return r
}

func (h *Hub) removeFromRoom(conversationID, peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, peerID)
	if len(r.members) == 0 {
		r.closed = true
		delete(h.rooms, conversationID)
	}
}

func (h *Hub) deliver(peers []Peer, event model.Event) int {
	delivered := 0
	for _, p := range peers {
		err := p.Send(event)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrPeerClosed):
			// 切断処理中の接続。Unregister 待ち
			h.logger.Debug("skipped closing connection",
				"event", event.Event,
				"connection_id", p.ID(),
			)
		default:
			h.logger.Warn("dropped event for slow connection",
				"event", event.Event,
				"connection_id", p.ID(),
				"user_id", p.UserID(),
				"error", err,
			)
			if h.onDrop != nil {
				h.onDrop(event.Event)
			}
		}
	}
	return delivered
}
