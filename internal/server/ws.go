package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"battle-session/internal/domain"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer in front of the mux.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscriber serializes writes to one websocket connection.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

type clientFrame struct {
	Type string `json:"type"`
}

// handleSubscribe upgrades to a websocket, streams session and presence
// events, and treats inbound frames as presence signals: "heartbeat" beats,
// "disconnect" (or closing the socket) proactively marks the participant
// offline.
func (s *BattleServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participant_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	sub := &subscriber{conn: conn}

	stopWatch := s.sessions.Watch(sessionID, func(event domain.Event) {
		if err := sub.send(event); err != nil {
			s.logger.Debug().Err(err).
				Str("session_id", sessionID).
				Str("participant_id", participantID).
				Msg("dropping event, websocket write failed")
		}
	})
	defer stopWatch()

	// The connection itself is the liveness signal while it lasts.
	s.presence.Beat(r.Context(), sessionID, participantID)
	defer s.presence.MarkDisconnected(context.Background(), sessionID, participantID)

	// Send the current state up front so late subscribers do not wait for
	// the next mutation.
	if sess, err := s.sessions.Get(r.Context(), sessionID); err == nil {
		eventType := domain.EventSessionUpdated
		if sess.Status.Terminal() {
			eventType = domain.EventSessionEnded
		}
		_ = sub.send(domain.Event{Type: eventType, SessionID: sessionID, Session: sess})
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "heartbeat":
			s.presence.Beat(r.Context(), sessionID, participantID)
		case "disconnect":
			s.presence.MarkDisconnected(r.Context(), sessionID, participantID)
			return
		}
	}
}
