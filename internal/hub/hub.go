// Package hub implements the relay's connection registry and broadcast
// fan-out. The Hub tracks live clients grouped into rooms and delivers
// messages to a point-in-time snapshot of a room's membership, so concurrent
// joins and leaves never corrupt an in-flight broadcast.
package hub

import (
	"log/slog"
	"sync"
)

// DeliveryReport summarizes one broadcast: how many members accepted the
// message and how many were skipped because their connection was gone or
// their outbound buffer was full.
type DeliveryReport struct {
	Delivered int
	Failed    int
}

// Hub maintains room membership and fans out broadcasts. All methods are
// safe for concurrent use; the membership map is only touched under mu.
type Hub struct {
	// rooms maps room names to their current member sets.
	rooms map[string]map[*Client]struct{}

	mu      sync.RWMutex
	metrics *Metrics
}

// NewHub creates an empty Hub. metrics may be nil, in which case no
// instrumentation is recorded.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: metrics,
	}
}

// Join adds client to room. Joining a room the client is already in is a
// no-op, so a duplicate join cannot double-count a connection.
func (h *Hub) Join(room string, client *Client) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, present := members[client]; present {
		h.mu.Unlock()
		return
	}
	members[client] = struct{}{}
	count := len(members)
	h.mu.Unlock()

	h.metrics.connectionOpened()
	slog.Info("client joined room", "room", room, "origin", client.origin, "members", count)
}

// Leave removes client from room. Leaving a room the client is not in is a
// no-op, so a disconnect racing a failed join — or a second disconnect —
// cannot fail or double-remove.
func (h *Hub) Leave(room string, client *Client) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := members[client]; !present {
		h.mu.Unlock()
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	count := len(members)
	h.mu.Unlock()

	h.metrics.connectionClosed()
	slog.Info("client left room", "room", room, "origin", client.origin, "members", count)
}

// Members returns a snapshot of room's current membership. The slice is a
// copy; concurrent joins and leaves never invalidate iteration over it.
func (h *Hub) Members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	snapshot := make([]*Client, 0, len(members))
	for client := range members {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// ConnectionCount returns the number of clients currently in any room.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, members := range h.rooms {
		total += len(members)
	}
	return total
}

// Broadcast delivers payload to every member of room present in a snapshot
// taken at call time. Each delivery is independent: a member whose buffer is
// full or whose connection has been cancelled is counted as failed and
// skipped, and delivery to the rest proceeds. Nothing is retried.
func (h *Hub) Broadcast(room string, payload []byte) DeliveryReport {
	var report DeliveryReport
	for _, client := range h.Members(room) {
		if client.enqueue(payload) {
			report.Delivered++
		} else {
			report.Failed++
			slog.Warn("broadcast delivery failed", "room", room, "origin", client.origin)
		}
	}
	h.metrics.broadcastSent(report)
	return report
}

// Shutdown cancels every client in every room and clears the registry.
// Used at process exit after the HTTP listener has stopped.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var clients []*Client
	for room, members := range h.rooms {
		for client := range members {
			clients = append(clients, client)
		}
		delete(h.rooms, room)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.cancel()
		h.metrics.connectionClosed()
	}
	slog.Info("hub stopped", "disconnected", len(clients))
}
