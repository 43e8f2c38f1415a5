package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    utterance_id   BIGINT       NOT NULL,
    opened_at      TIMESTAMPTZ  NOT NULL,
    closed_at      TIMESTAMPTZ  NOT NULL,
    committed_text TEXT         NOT NULL DEFAULT '',
    stable_text    TEXT         NOT NULL DEFAULT '',
    raw_text       TEXT         NOT NULL DEFAULT '',
    speaker_id     TEXT         NOT NULL DEFAULT '',
    close_reason   TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_id
    ON utterances (session_id);

CREATE INDEX IF NOT EXISTS idx_utterances_session_opened
    ON utterances (session_id, opened_at);
`

const ddlIntents = `
CREATE TABLE IF NOT EXISTS intents (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    utterance_id BIGINT       NOT NULL,
    intent_type  TEXT         NOT NULL,
    subtype      TEXT         NOT NULL DEFAULT '',
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    source_text  TEXT         NOT NULL DEFAULT '',
    topic        TEXT         NOT NULL DEFAULT '',
    count        INTEGER      NOT NULL DEFAULT 0,
    reference    TEXT         NOT NULL DEFAULT '',
    emitted_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intents_session_id
    ON intents (session_id);

CREATE INDEX IF NOT EXISTS idx_intents_type
    ON intents (intent_type, subtype);
`

const ddlActions = `
CREATE TABLE IF NOT EXISTS actions (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    utterance_id  BIGINT       NOT NULL,
    action_name   TEXT         NOT NULL,
    source_text   TEXT         NOT NULL DEFAULT '',
    was_debounced BOOLEAN      NOT NULL DEFAULT FALSE,
    timestamp     TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_session_id
    ON actions (session_id);
`

// Migrate ensures all recorder tables and indexes exist. It is idempotent
// and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlUtterances, ddlIntents, ddlActions} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("record store: apply schema: %w", err)
		}
	}
	return nil
}
