package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous/internal/model"
)

type fakePeer struct {
	id     string
	userID string
	full   bool
	closed bool

	mu     sync.Mutex
	events []model.Event
}

func newPeer(id, userID string) *fakePeer {
	return &fakePeer{id: id, userID: userID}
}

func (p *fakePeer) ID() string     { return p.id }
func (p *fakePeer) UserID() string { return p.userID }

func (p *fakePeer) Send(event model.Event) error {
	if p.full {
		return ErrQueueFull
	}
	if p.closed {
		return ErrPeerClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePeer) received() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

func TestBroadcastReachesJoinedPeersOnly(t *testing.T) {
	h := New(nil)
	a := newPeer("c1", "alice")
	b := newPeer("c2", "bob")
	outsider := newPeer("c3", "eve")
	for _, p := range []*fakePeer{a, b, outsider} {
		h.Register(p)
	}

	h.Join("room-1", a)
	h.Join("room-1", b)

	n := h.Broadcast("room-1", model.Event{Event: model.EventMessageCreated}, "")
	assert.Equal(t, 2, n)
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, outsider.received())
}

func TestDoubleJoinDeliversOnce(t *testing.T) {
	h := New(nil)
	a := newPeer("c1", "alice")
	h.Register(a)

	h.Join("room-1", a)
	h.Join("room-1", a)

	h.Broadcast("room-1", model.Event{Event: model.EventMessageCreated}, "")
	assert.Len(t, a.received(), 1)
	assert.Equal(t, 1, h.RoomSize("room-1"))
}

func TestBroadcastExceptUser(t *testing.T) {
	h := New(nil)
	aPhone := newPeer("c1", "alice")
	aLaptop := newPeer("c2", "alice")
	b := newPeer("c3", "bob")
	for _, p := range []*fakePeer{aPhone, aLaptop, b} {
		h.Register(p)
		h.Join("room-1", p)
	}

	h.Broadcast("room-1", model.Event{Event: model.EventTypingStatus}, "alice")

	assert.Empty(t, aPhone.received())
	assert.Empty(t, aLaptop.received())
	assert.Len(t, b.received(), 1)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := New(nil)
	a := newPeer("c1", "alice")
	h.Register(a)

	h.Leave("room-1", a)
	h.Join("room-1", a)
	h.Leave("room-1", a)
	h.Leave("room-1", a)

	assert.False(t, h.IsJoined("room-1", "c1"))
	assert.Equal(t, 0, h.Broadcast("room-1", model.Event{Event: "x"}, ""))
	assert.Equal(t, 0, h.Stats()["rooms"])
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	h := New(nil)
	phone := newPeer("c1", "alice")
	laptop := newPeer("c2", "alice")
	assert.Equal(t, 1, h.Register(phone))
	assert.Equal(t, 2, h.Register(laptop))

	h.Join("room-1", phone)
	h.Join("room-2", phone)
	h.Join("room-2", laptop)

	assert.Equal(t, 1, h.Unregister(phone))
	assert.False(t, h.IsJoined("room-1", "c1"))
	assert.False(t, h.IsJoined("room-2", "c1"))
	assert.True(t, h.IsJoined("room-2", "c2"))

	assert.Equal(t, 0, h.Unregister(laptop))
	assert.Equal(t, map[string]int{"connections": 0, "users": 0, "rooms": 0}, h.Stats())
}

func TestSendToUser(t *testing.T) {
	h := New(nil)
	phone := newPeer("c1", "alice")
	laptop := newPeer("c2", "alice")
	b := newPeer("c3", "bob")
	for _, p := range []*fakePeer{phone, laptop, b} {
		h.Register(p)
	}

	assert.Equal(t, 2, h.SendToUser("alice", model.Event{Event: model.EventMessageRead}))
	assert.Len(t, phone.received(), 1)
	assert.Len(t, laptop.received(), 1)
	assert.Empty(t, b.received())
	assert.Equal(t, 0, h.SendToUser("nobody", model.Event{Event: model.EventMessageRead}))
}

func TestBroadcastAllSkips(t *testing.T) {
	h := New(nil)
	a := newPeer("c1", "alice")
	b := newPeer("c2", "bob")
	c := newPeer("c3", "carol")
	for _, p := range []*fakePeer{a, b, c} {
		h.Register(p)
	}

	n := h.BroadcastAll(model.Event{Event: model.EventUserOnline}, func(userID string) bool {
		return userID == "alice" || userID == "carol"
	})
	assert.Equal(t, 1, n)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, a.received())
	assert.Empty(t, c.received())
}

func TestSlowPeerDoesNotBlockOthers(t *testing.T) {
	var dropped []string
	h := New(nil, WithDropHook(func(event string) { dropped = append(dropped, event) }))
	slow := newPeer("c1", "alice")
	slow.full = true
	b := newPeer("c2", "bob")
	h.Register(slow)
	h.Register(b)
	h.Join("room-1", slow)
	h.Join("room-1", b)

	assert.Equal(t, 1, h.Broadcast("room-1", model.Event{Event: "x"}, ""))
	assert.Len(t, b.received(), 1)
	assert.Equal(t, []string{"x"}, dropped)
}

func TestClosingPeerIsNotCountedAsDrop(t *testing.T) {
	var dropped []string
	h := New(nil, WithDropHook(func(event string) { dropped = append(dropped, event) }))
	closing := newPeer("c1", "alice")
	closing.closed = true
	b := newPeer("c2", "bob")
	h.Register(closing)
	h.Register(b)
	h.Join("room-1", closing)
	h.Join("room-1", b)

	assert.Equal(t, 1, h.Broadcast("room-1", model.Event{Event: "x"}, ""))
	assert.Len(t, b.received(), 1)
	assert.Empty(t, dropped)
}

// TestConcurrentJoinLeaveBroadcast 同一ルームへの並行 join/leave/broadcast
func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := New(nil)
	stable := newPeer("stable", "bob")
	h.Register(stable)
	h.Join("room-1", stable)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		p := newPeer(fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i))
		h.Register(p)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Join("room-1", p)
				h.Leave("room-1", p)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Broadcast("room-1", model.Event{Event: "x"}, "")
			}
		}()
	}
	wg.Wait()

	require.True(t, h.IsJoined("room-1", "stable"))
	assert.Equal(t, 1, h.RoomSize("room-1"))
	assert.Len(t, stable.received(), 50*20)
}
