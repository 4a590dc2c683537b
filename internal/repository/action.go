package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"battle-session/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ActionRepository is the append-only audit trail of intents. The
// (session_id, nonce) unique constraint is the deduplication gate.
type ActionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewActionRepository(db *sql.DB, logger zerolog.Logger) *ActionRepository {
	return &ActionRepository{db: db, logger: logger}
}

func (r *ActionRepository) Insert(ctx context.Context, act *domain.Action) error {
	payload, err := json.Marshal(act.Payload)
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO actions (id, session_id, type, actor_id, target_id, skill_id, payload, nonce, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		act.ID, act.SessionID, string(act.Type), act.ActorID, act.TargetID, act.SkillID,
		string(payload), act.Nonce, act.CreatedAt)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return domain.ErrDuplicateNonce
		}
		return fmt.Errorf("insert action %s: %w", act.ID, err)
	}
	return nil
}

// MarkResolved stamps the result exactly once. A second call is a no-op:
// resolved actions are immutable.
func (r *ActionRepository) MarkResolved(ctx context.Context, id string, result domain.ActionResult, resolvedBy string) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE actions SET resolved = 1, resolved_by = ?, result = ?, resolved_at = ? WHERE id = ? AND resolved = 0`,
		resolvedBy, string(body), time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark action %s resolved: %w", id, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		r.logger.Debug().Str("action_id", id).Msg("action already resolved, leaving record untouched")
	}
	return nil
}

func (r *ActionRepository) GetByNonce(ctx context.Context, sessionID, nonce string) (*domain.Action, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, type, actor_id, target_id, skill_id, payload, nonce, resolved, resolved_by, result, created_at, resolved_at
		 FROM actions WHERE session_id = ? AND nonce = ?`, sessionID, nonce)
	return scanAction(row)
}

func (r *ActionRepository) Get(ctx context.Context, id string) (*domain.Action, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, type, actor_id, target_id, skill_id, payload, nonce, resolved, resolved_by, result, created_at, resolved_at
		 FROM actions WHERE id = ?`, id)
	return scanAction(row)
}

func (r *ActionRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Action, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, type, actor_id, target_id, skill_id, payload, nonce, resolved, resolved_by, result, created_at, resolved_at
		 FROM actions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *act)
	}
	return actions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*domain.Action, error) {
	var act domain.Action
	var actType, payload, result string
	var resolved int
	var resolvedAt sql.NullTime

	err := row.Scan(&act.ID, &act.SessionID, &actType, &act.ActorID, &act.TargetID, &act.SkillID,
		&payload, &act.Nonce, &resolved, &act.ResolvedBy, &result, &act.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan action: %w", err)
	}

	act.Type = domain.ActionType(actType)
	act.Resolved = resolved != 0
	if resolvedAt.Valid {
		act.ResolvedAt = &resolvedAt.Time
	}
	if err := json.Unmarshal([]byte(payload), &act.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for action %s: %w", act.ID, err)
	}
	if act.Resolved {
		var res domain.ActionResult
		if err := json.Unmarshal([]byte(result), &res); err != nil {
			return nil, fmt.Errorf("decode result for action %s: %w", act.ID, err)
		}
		act.Result = &res
	}
	return &act, nil
}
