package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Adamhviid/chatterbox-relay/internal/store"
)

// State is a session's position in its lifecycle.
type State int

const (
	// Connecting means the session exists but has not joined its room.
	Connecting State = iota
	// Joined means the session is registered and history has been sent.
	Joined
	// Active means at least one inbound message has been processed.
	Active
	// Disconnected is terminal.
	Disconnected
)

// HistoryLog is the slice of the history store a session uses.
type HistoryLog interface {
	SaveMessage(identity, body string, sentAt time.Time) error
	RecentMessages(limit int) ([]store.Message, error)
}

// IdentityAssigner resolves a connection origin to a stable identity.
type IdentityAssigner interface {
	Assign(origin string) (string, error)
}

// historyFrame is the server-to-client frame sent once on connect.
type historyFrame struct {
	Type     string        `json:"type"`
	Messages []wireMessage `json:"messages"`
}

// wireMessage is one chat message as clients see it, both in the history
// frame and in broadcasts.
type wireMessage struct {
	Body   string `json:"message"`
	UserID string `json:"userId"`
	SentAt string `json:"sentAt"`
}

// inboundFrame is the only client-to-server shape the relay accepts.
type inboundFrame struct {
	Body string `json:"message"`
}

// Session orchestrates one connection's lifecycle: identity assignment,
// room membership, history replay, and the receive/persist/broadcast loop.
type Session struct {
	hub      *Hub
	history  HistoryLog
	assigner IdentityAssigner
	client   *Client

	room         string
	historyLimit int

	// identity is assigned once during Connect and never changes. Broadcasts
	// always carry it; a userId supplied by the client is ignored.
	identity string

	mu    sync.Mutex
	state State
}

// NewSession builds a session for client in the given room. The session
// starts in Connecting; call Connect before Run.
func NewSession(h *Hub, history HistoryLog, assigner IdentityAssigner, client *Client, room string, historyLimit int) *Session {
	return &Session{
		hub:          h,
		history:      history,
		assigner:     assigner,
		client:       client,
		room:         room,
		historyLimit: historyLimit,
	}
}

// Identity returns the server-assigned identity, empty before Connect.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect assigns the session's identity, joins the room, and replays
// recent history to the client. A history read failure is logged and the
// replay skipped; the session still joins. An identity failure aborts the
// session, since every later broadcast would be unattributable.
func (s *Session) Connect() error {
	identity, err := s.assigner.Assign(s.client.origin)
	if err != nil {
		slog.Error("identity assignment failed", "origin", s.client.origin, "error", err)
		return err
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()

	s.hub.Join(s.room, s.client)

	s.mu.Lock()
	s.state = Joined
	s.mu.Unlock()

	s.sendHistory()
	return nil
}

// sendHistory loads the most recent messages and queues them to the client
// as a single load_messages frame, oldest first.
func (s *Session) sendHistory() {
	recent, err := s.history.RecentMessages(s.historyLimit)
	if err != nil {
		slog.Error("history load failed", "identity", s.identity, "room", s.room, "error", err)
		return
	}

	frame := historyFrame{Type: "load_messages", Messages: make([]wireMessage, 0, len(recent))}
	for _, msg := range recent {
		frame.Messages = append(frame.Messages, wireMessage{
			Body:   msg.Body,
			UserID: msg.UserID,
			SentAt: msg.SentAt.UTC().Format(time.RFC3339Nano),
		})
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("history frame encode failed", "identity", s.identity, "error", err)
		return
	}
	if !s.client.enqueue(payload) {
		slog.Warn("history frame dropped", "identity", s.identity, "room", s.room)
	}
}

// Receive processes one inbound payload. Malformed input — empty payload,
// invalid JSON, or a missing message field — is logged and dropped without
// touching the session. Valid messages are persisted first, then broadcast
// under the server-assigned identity.
func (s *Session) Receive(raw []byte) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Active
	identity := s.identity
	s.mu.Unlock()

	var frame inboundFrame
	if len(raw) == 0 || json.Unmarshal(raw, &frame) != nil || frame.Body == "" {
		s.hub.metrics.messageDropped()
		slog.Debug("malformed payload dropped", "identity", identity, "room", s.room)
		return
	}

	sentAt := time.Now().UTC()
	if err := s.history.SaveMessage(identity, frame.Body, sentAt); err != nil {
		// Persist-then-broadcast: the save failed, but chat delivery is
		// best effort, so the broadcast still goes out.
		slog.Error("message persist failed", "identity", identity, "room", s.room, "error", err)
	}

	payload, err := json.Marshal(wireMessage{
		Body:   frame.Body,
		UserID: identity,
		SentAt: sentAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Error("broadcast encode failed", "identity", identity, "error", err)
		return
	}

	report := s.hub.Broadcast(s.room, payload)
	slog.Debug("message broadcast",
		"identity", identity,
		"room", s.room,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
}

// Disconnect leaves the room and cancels the client. It is idempotent and
// safe to call even if Connect never ran or failed partway: leaving a room
// the client never joined is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.mu.Unlock()

	s.hub.Leave(s.room, s.client)
	s.client.cancel()
}

// Run reads frames from the connection until it fails or the client is
// cancelled, then disconnects. Frames arriving faster than the client's
// rate limit are dropped before parsing.
func (s *Session) Run() {
	defer s.Disconnect()

	for {
		_, raw, err := s.client.conn.Read(s.client.ctx)
		if err != nil {
			slog.Debug("read loop ended", "identity", s.Identity(), "origin", s.client.origin, "error", err)
			return
		}
		if !s.client.limiter.Allow() {
			s.hub.metrics.messageThrottled()
			slog.Warn("inbound message throttled", "identity", s.Identity(), "origin", s.client.origin)
			continue
		}
		s.Receive(raw)
	}
}
