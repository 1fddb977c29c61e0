package store

import (
	"context"
	"fmt"
	"time"
)

// upsert describes how one entity kind is written by saveMany.
type upsert[E any] struct {
	op    string
	key   func(E) string
	query string
	args  func(rec E, now int64) []any
}

// saveMany writes records in a single transaction using u.query, which must be
// an INSERT ... ON CONFLICT(remote_id) DO UPDATE statement. Records sharing a
// remote id collapse to the last one. It returns the number of distinct ids
// written; on error nothing is written.
func saveMany[E any](ctx context.Context, db *DB, u upsert[E], records []E, now time.Time) (int, error) {
	batch, err := collapse(records, u.key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", u.op, err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, classify(u.op+": begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, u.query)
	if err != nil {
		return 0, classify(u.op+": prepare", err)
	}
	defer func() { _ = stmt.Close() }()

	ts := now.UnixMilli()
	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx, u.args(rec, ts)...); err != nil {
			return 0, classify(fmt.Sprintf("%s %q", u.op, u.key(rec)), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(u.op+": commit", err)
	}
	return len(batch), nil
}

// collapse keeps the first-seen order of remote ids and the last-seen value
// for each.
func collapse[E any](records []E, key func(E) string) ([]E, error) {
	index := make(map[string]int, len(records))
	out := make([]E, 0, len(records))
	for i, rec := range records {
		id := key(rec)
		if id == "" {
			return nil, fmt.Errorf("%w: record %d has an empty remote id", ErrInvalidRecord, i)
		}
		if j, ok := index[id]; ok {
			out[j] = rec
			continue
		}
		index[id] = len(out)
		out = append(out, rec)
	}
	return out, nil
}
