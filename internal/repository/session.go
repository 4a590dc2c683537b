package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"battle-session/internal/domain"
	"battle-session/internal/store"

	"github.com/rs/zerolog"
)

// SessionRepository adapts the raw document store to typed session and
// presence documents. All session mutation in the whole server funnels
// through Update here.
type SessionRepository struct {
	store  store.Store
	logger zerolog.Logger
}

func NewSessionRepository(st store.Store, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{store: st, logger: logger}
}

func sessionPath(id string) string {
	return "sessions/" + id
}

func presencePath(id string) string {
	return "sessions/" + id + "/presence"
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := r.store.Get(ctx, sessionPath(id))
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Update runs fn over the current session document (nil when absent) inside
// the store's transactional read-modify-write. fn returning (nil, nil)
// skips the write, which keeps idempotent re-joins from churning watchers.
func (r *SessionRepository) Update(ctx context.Context, id string, fn func(current *domain.Session) (*domain.Session, error)) (*domain.Session, error) {
	raw, err := r.store.Update(ctx, sessionPath(id), func(current []byte) (any, error) {
		var sess *domain.Session
		if current != nil {
			sess = &domain.Session{}
			if err := json.Unmarshal(current, sess); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", id, err)
			}
		}
		next, err := fn(sess)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		next.UpdatedAt = time.Now()
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, domain.ErrNotFound
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode committed session %s: %w", id, err)
	}
	return &sess, nil
}

// Watch delivers the full session after every committed change.
func (r *SessionRepository) Watch(id string, fn func(*domain.Session)) (stop func()) {
	return r.store.Subscribe(sessionPath(id), func(raw []byte) {
		var sess domain.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("dropping unreadable session notification")
			return
		}
		fn(&sess)
	})
}

// AppendLog pushes a battle-log line outside the authoritative update path.
// Advisory: failures are logged and swallowed by callers.
func (r *SessionRepository) AppendLog(ctx context.Context, id, line string) error {
	return r.store.Append(ctx, sessionPath(id), "battle_log", line)
}

func (r *SessionRepository) GetPresence(ctx context.Context, id string) (map[string]domain.PresenceRecord, error) {
	raw, err := r.store.Get(ctx, presencePath(id))
	if err != nil {
		return nil, err
	}
	var m map[string]domain.PresenceRecord
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode presence %s: %w", id, err)
	}
	return m, nil
}

// UpdatePresence mutates the per-session presence map, creating the
// document on first write.
func (r *SessionRepository) UpdatePresence(ctx context.Context, id string, fn func(m map[string]domain.PresenceRecord)) error {
	_, err := r.store.Update(ctx, presencePath(id), func(current []byte) (any, error) {
		m := make(map[string]domain.PresenceRecord)
		if current != nil {
			if err := json.Unmarshal(current, &m); err != nil {
				return nil, fmt.Errorf("decode presence %s: %w", id, err)
			}
		}
		fn(m)
		return m, nil
	})
	return err
}

func (r *SessionRepository) WatchPresence(id string, fn func(map[string]domain.PresenceRecord)) (stop func()) {
	return r.store.Subscribe(presencePath(id), func(raw []byte) {
		var m map[string]domain.PresenceRecord
		if err := json.Unmarshal(raw, &m); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("dropping unreadable presence notification")
			return
		}
		fn(m)
	})
}
