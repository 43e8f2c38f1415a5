// Package postgres provides a PostgreSQL-backed [record.Recorder].
//
// All entries share a single [pgxpool.Pool] connection pool. [NewStore] runs
// [Migrate] on startup so the required tables and indexes exist before the
// first write.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.RecordUtterance(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/attune/pkg/record"
)

// Compile-time interface check.
var _ record.Recorder = (*Store)(nil)

// Store is the PostgreSQL-backed session recorder.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("record store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordUtterance implements [record.Recorder].
func (s *Store) RecordUtterance(ctx context.Context, entry record.UtteranceEntry) error {
	const q = `
		INSERT INTO utterances
		    (session_id, utterance_id, opened_at, closed_at, committed_text, stable_text, raw_text, speaker_id, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		int64(entry.UtteranceID),
		entry.OpenedAt,
		entry.ClosedAt,
		entry.CommittedText,
		entry.StableText,
		entry.RawText,
		entry.SpeakerID,
		entry.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("record store: write utterance: %w", err)
	}
	return nil
}

// RecordIntent implements [record.Recorder].
func (s *Store) RecordIntent(ctx context.Context, entry record.IntentEntry) error {
	const q = `
		INSERT INTO intents
		    (session_id, utterance_id, intent_type, subtype, confidence, source_text, topic, count, reference, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		int64(entry.UtteranceID),
		entry.Type,
		entry.Subtype,
		entry.Confidence,
		entry.SourceText,
		entry.Topic,
		entry.Count,
		entry.Reference,
		entry.EmittedAt,
	)
	if err != nil {
		return fmt.Errorf("record store: write intent: %w", err)
	}
	return nil
}

// RecordAction implements [record.Recorder].
func (s *Store) RecordAction(ctx context.Context, entry record.ActionEntry) error {
	const q = `
		INSERT INTO actions
		    (session_id, utterance_id, action_name, source_text, was_debounced, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		int64(entry.UtteranceID),
		entry.ActionName,
		entry.SourceText,
		entry.WasDebounced,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record store: write action: %w", err)
	}
	return nil
}
