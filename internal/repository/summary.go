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

// SummaryRepository persists the frozen end-of-session report. Write-once:
// a summary that already exists is never overwritten or recomputed.
type SummaryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSummaryRepository(db *sql.DB, logger zerolog.Logger) *SummaryRepository {
	return &SummaryRepository{db: db, logger: logger}
}

func (r *SummaryRepository) Save(ctx context.Context, sum *domain.SessionSummary) error {
	body, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO summaries (session_id, body, created_at) VALUES (?, ?, ?)`,
		sum.SessionID, string(body), time.Now())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			r.logger.Debug().Str("session_id", sum.SessionID).Msg("summary already persisted, keeping original")
			return nil
		}
		return fmt.Errorf("save summary for %s: %w", sum.SessionID, err)
	}
	return nil
}

func (r *SummaryRepository) Get(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM summaries WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary for %s: %w", sessionID, err)
	}

	var sum domain.SessionSummary
	if err := json.Unmarshal([]byte(body), &sum); err != nil {
		return nil, fmt.Errorf("decode summary for %s: %w", sessionID, err)
	}
	return &sum, nil
}
