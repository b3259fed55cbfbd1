package ws

import (
	"log/slog"
	"sync"

	"studybuddy/internal/models"
	"studybuddy/internal/presence"
)

const connectionBuffer = 64

// Hub multiplexes server events onto per-connection channels. Every
// connection of a user is a member of that user's logical channel, so a
// ToUser reaches all of their open tabs and devices.
type Hub struct {
	mu sync.RWMutex

	// Map of userID -> open connection channels for that user
	conns map[string]map[chan models.ServerEvent]struct{}

	presence *presence.Registry
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		conns:    make(map[string]map[chan models.ServerEvent]struct{}),
		presence: registry,
	}
}

// Join registers a new connection for the user and returns its delivery
// channel. The updated online set is broadcast to every connected
// client, strictly after the registry mutation.
func (h *Hub) Join(userID string) chan models.ServerEvent {
	ch := make(chan models.ServerEvent, connectionBuffer)

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[chan models.ServerEvent]struct{})
	}
	h.conns[userID][ch] = struct{}{}
	h.presence.MarkOnline(userID)
	snapshot := h.presence.Snapshot()
	h.mu.Unlock()

	h.Broadcast(models.OnlineSetEvent(snapshot))
	return ch
}

// Leave removes a connection. Only when it was the user's last open
// connection does the user go offline and the remaining clients get a
// fresh online-set broadcast.
func (h *Hub) Leave(userID string, ch chan models.ServerEvent) {
	h.mu.Lock()
	if userConns, ok := h.conns[userID]; ok {
		if _, member := userConns[ch]; member {
			delete(userConns, ch)
			close(ch)
		}
		if len(userConns) == 0 {
			delete(h.conns, userID)
		}
	}
	last := h.presence.MarkOffline(userID)
	var snapshot []string
	if last {
		snapshot = h.presence.Snapshot()
	}
	h.mu.Unlock()

	if last {
		h.Broadcast(models.OnlineSetEvent(snapshot))
	}
}

// ToUser delivers an event to every open connection of the user.
func (h *Hub) ToUser(userID string, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.conns[userID] {
		deliver(ch, ev)
	}
}

// Broadcast delivers an event to every connection of every user.
func (h *Hub) Broadcast(ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userConns := range h.conns {
		for ch := range userConns {
			deliver(ch, ev)
		}
	}
}

// deliver never blocks: a connection that cannot drain its buffer loses
// events rather than stalling the whole fan-out.
func deliver(ch chan models.ServerEvent, ev models.ServerEvent) {
	select {
	case ch <- ev:
	default:
		slog.Warn("dropping event for slow connection", "event", ev.Event)
	}
}
