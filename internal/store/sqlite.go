package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"battle-session/internal/constants"
	"battle-session/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// SQLite keeps every document as one row in the documents table, with an
// optimistic version column. Change notification is in-process: this server
// is the only writer, so watchers registered here see every commit.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger

	mu       sync.Mutex
	watchers map[string]map[int]func([]byte)
	nextID   int
}

func NewSQLite(db *sql.DB, logger zerolog.Logger) *SQLite {
	return &SQLite{
		db:       db,
		logger:   logger,
		watchers: make(map[string]map[int]func([]byte)),
	}
}

func (s *SQLite) Get(ctx context.Context, path string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	return []byte(body), nil
}

func (s *SQLite) Update(ctx context.Context, path string, fn UpdateFn) ([]byte, error) {
	var committed []byte
	var wrote bool

	backoff := retry.WithMaxRetries(constants.TxMaxAttempts-1, retry.NewFibonacci(constants.TxRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, w, err := s.tryUpdate(ctx, path, fn)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug().Str("path", path).Msg("document update conflict, retrying")
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		committed, wrote = b, w
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrConflict
		}
		return nil, err
	}

	if wrote {
		s.notify(path, committed)
	}
	return committed, nil
}

func (s *SQLite) tryUpdate(ctx context.Context, path string, fn UpdateFn) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin update of %s: %w", path, err)
	}
	defer tx.Rollback()

	var body string
	var version int64
	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT body, version FROM documents WHERE path = ?`, path).Scan(&body, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("read document %s: %w", path, err)
	default:
		current = []byte(body)
	}

	next, err := fn(current)
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current, false, nil
	}

	buf, err := json.Marshal(next)
	if err != nil {
		return nil, false, fmt.Errorf("marshal document %s: %w", path, err)
	}

	now := time.Now()
	if exists {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, version = version + 1, updated_at = ? WHERE path = ? AND version = ?`,
			string(buf), now, path, version)
		if err != nil {
			return nil, false, conflictOr(err, "update document "+path)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		if rows == 0 {
			return nil, false, domain.ErrConflict
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, body, version, updated_at) VALUES (?, ?, 1, ?)`,
			path, string(buf), now)
		if err != nil {
			return nil, false, conflictOr(err, "insert document "+path)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, conflictOr(err, "commit document "+path)
	}
	return buf, true, nil
}

// conflictOr maps lock contention and duplicate-insert races onto
// ErrConflict so the retry loop can take another pass.
func conflictOr(err error, op string) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrConstraint:
			return domain.ErrConflict
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLite) Subscribe(path string, fn func(doc []byte)) (stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.watchers[path] == nil {
		s.watchers[path] = make(map[int]func([]byte))
	}
	s.watchers[path][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[path], id)
	}
}

func (s *SQLite) notify(path string, doc []byte) {
	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.watchers[path]))
	for _, fn := range s.watchers[path] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(doc)
	}
}

// Append pushes value onto a JSON list field. Advisory writes only; a
// missing document surfaces ErrNotFound and callers decide whether to care.
func (s *SQLite) Append(ctx context.Context, path, field string, value any) error {
	_, err := s.Update(ctx, path, func(current []byte) (any, error) {
		if current == nil {
			return nil, domain.ErrNotFound
		}
		var doc map[string]any
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", path, err)
		}
		list, _ := doc[field].([]any)
		doc[field] = append(list, value)
		return doc, nil
	})
	return err
}
