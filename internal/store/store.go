// Package store provides the per-document transactional read-modify-write
// and push-based change notification the session core builds on. Callers
// never see a query language: one document by path, or a subscription to it.
package store

import "context"

// UpdateFn receives the current document bytes (nil when the document does
// not exist yet) and returns the next document value, which is marshalled
// and committed. Returning a nil next value skips the write entirely.
type UpdateFn func(current []byte) (next any, err error)

type Store interface {
	// Get returns the raw document at path, or domain.ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Update runs fn inside a read-modify-write transaction, retrying a
	// bounded number of times on conflict. It returns the committed bytes
	// (or the current ones when fn skipped the write).
	Update(ctx context.Context, path string, fn UpdateFn) ([]byte, error)

	// Subscribe registers fn to receive the full document after every
	// committed change until the returned stop function is called.
	Subscribe(path string, fn func(doc []byte)) (stop func())

	// Append pushes a value onto a list field of the document. Advisory:
	// meant for logs and other best-effort signals.
	Append(ctx context.Context, path, field string, value any) error
}
