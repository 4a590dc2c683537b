package service

import (
	"context"
	"errors"
	"time"

	"battle-session/internal/constants"
	"battle-session/internal/domain"
	"battle-session/internal/repository"

	"github.com/rs/zerolog"
)

// PresenceTracker keeps per-participant liveness in a session-scoped
// presence document, separate from combat state so heartbeats never contend
// with action resolution.
type PresenceTracker struct {
	sessions *repository.SessionRepository
	logger   zerolog.Logger

	interval       time.Duration
	staleThreshold time.Duration
}

func NewPresenceTracker(sessions *repository.SessionRepository, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		sessions:       sessions,
		logger:         logger,
		interval:       constants.HeartbeatInterval,
		staleThreshold: constants.PresenceStaleThreshold,
	}
}

// Beat records one heartbeat. Fire-and-forget: there is no record to update
// before the participant joins the presence document and that is fine.
func (t *PresenceTracker) Beat(ctx context.Context, sessionID, participantID string) {
	err := t.sessions.UpdatePresence(ctx, sessionID, func(m map[string]domain.PresenceRecord) {
		rec := m[participantID]
		now := time.Now()
		rec.ParticipantID = participantID
		rec.Connected = true
		rec.LastHeartbeat = now
		if rec.JoinedAt.IsZero() {
			rec.JoinedAt = now
		}
		m[participantID] = rec
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		t.logger.Debug().Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("heartbeat write dropped")
	}
}

// StartHeartbeat beats immediately, then on a fixed interval until the
// returned stop function is called.
func (t *PresenceTracker) StartHeartbeat(sessionID, participantID string) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		t.Beat(context.Background(), sessionID, participantID)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.Beat(context.Background(), sessionID, participantID)
			}
		}
	}()
	return func() { close(done) }
}

// MarkDisconnected proactively flags a participant instead of waiting for
// staleness, e.g. on tab unload or websocket close. Advisory write.
func (t *PresenceTracker) MarkDisconnected(ctx context.Context, sessionID, participantID string) {
	err := t.sessions.UpdatePresence(ctx, sessionID, func(m map[string]domain.PresenceRecord) {
		rec, ok := m[participantID]
		if !ok {
			return
		}
		rec.Connected = false
		m[participantID] = rec
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		t.logger.Debug().Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("disconnect write dropped")
	}
}

// IsOnline applies the staleness window. A record without a heartbeat yet is
// treated as online: the participant just joined and the first tick has not
// landed.
func (t *PresenceTracker) IsOnline(rec domain.PresenceRecord, now time.Time) bool {
	if !rec.Connected {
		return false
	}
	if rec.LastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(rec.LastHeartbeat) < t.staleThreshold
}

// Online returns the ids of currently live participants.
func (t *PresenceTracker) Online(ctx context.Context, sessionID string) ([]string, error) {
	m, err := t.sessions.GetPresence(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now()
	var online []string
	for id, rec := range m {
		if t.IsOnline(rec, now) {
			online = append(online, id)
		}
	}
	return online, nil
}

// Subscribe delivers the full presence map after every change.
func (t *PresenceTracker) Subscribe(sessionID string, fn func(map[string]domain.PresenceRecord)) (stop func()) {
	return t.sessions.WatchPresence(sessionID, fn)
}
