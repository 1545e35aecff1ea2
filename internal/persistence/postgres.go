// Package persistence mirrors completed outcomes and channel reputations
// into Postgres for ad-hoc analytics. The mirror is optional; the JSON
// stores stay authoritative.
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/signalrun/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS completed_signals (
	channel_id       TEXT        NOT NULL,
	address          TEXT        NOT NULL,
	signal_ordinal   INT         NOT NULL,
	chain            TEXT        NOT NULL,
	symbol           TEXT,
	first_message_id BIGINT      NOT NULL,
	entry_price      DOUBLE PRECISION NOT NULL,
	entry_time       TIMESTAMPTZ NOT NULL,
	entry_source     TEXT        NOT NULL,
	ath_price        DOUBLE PRECISION NOT NULL,
	ath_time         TIMESTAMPTZ,
	ath_multiplier   DOUBLE PRECISION NOT NULL,
	final_multiplier DOUBLE PRECISION NOT NULL,
	dead             BOOLEAN     NOT NULL DEFAULT FALSE,
	dead_reason      TEXT,
	completion_cause TEXT        NOT NULL,
	is_winner        BOOLEAN     NOT NULL,
	completed_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (channel_id, address, signal_ordinal)
);

CREATE TABLE IF NOT EXISTS channel_reputation (
	channel_id         TEXT PRIMARY KEY,
	total_signals      INT  NOT NULL,
	winners            INT  NOT NULL,
	losers             INT  NOT NULL,
	neutrals           INT  NOT NULL,
	dead_tokens        INT  NOT NULL,
	avg_ath_multiplier DOUBLE PRECISION NOT NULL,
	avg_final_mult     DOUBLE PRECISION NOT NULL,
	mean_hours_to_ath  DOUBLE PRECISION NOT NULL,
	win_rate           DOUBLE PRECISION NOT NULL,
	score              DOUBLE PRECISION NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);`

// DB is the analytics mirror connection.
type DB struct {
	db *sqlx.DB

	closeOnce sync.Once
	closeErr  error
}

// Open connects, applies pool settings and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// UpsertOutcome mirrors one completed outcome.
func (d *DB) UpsertOutcome(ctx context.Context, o models.SignalOutcome) error {
	const q = `
INSERT INTO completed_signals (
	channel_id, address, signal_ordinal, chain, symbol, first_message_id,
	entry_price, entry_time, entry_source,
	ath_price, ath_time, ath_multiplier, final_multiplier,
	dead, dead_reason, completion_cause, is_winner, completed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
ON CONFLICT (channel_id, address, signal_ordinal) DO UPDATE SET
	ath_price = EXCLUDED.ath_price,
	ath_time = EXCLUDED.ath_time,
	ath_multiplier = EXCLUDED.ath_multiplier,
	final_multiplier = EXCLUDED.final_multiplier,
	completion_cause = EXCLUDED.completion_cause,
	is_winner = EXCLUDED.is_winner,
	completed_at = EXCLUDED.completed_at`

	_, err := d.db.ExecContext(ctx, q,
		o.ChannelID, o.Address, o.SignalOrdinal, string(o.Chain), o.Symbol, o.FirstMessageID,
		o.EntryPrice, o.EntryTime, string(o.EntrySource),
		o.ATHPrice, o.ATHTime, o.ATHMultiplier, o.CurrentMult,
		o.Dead, o.DeadReason, o.CompletionCause, o.IsWinner, o.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert outcome %s/%s: %w", o.ChannelID, o.Address, err)
	}
	return nil
}

// UpsertReputation mirrors one channel's recomputed reputation.
func (d *DB) UpsertReputation(ctx context.Context, r models.ChannelReputation) error {
	const q = `
INSERT INTO channel_reputation (
	channel_id, total_signals, winners, losers, neutrals, dead_tokens,
	avg_ath_multiplier, avg_final_mult, mean_hours_to_ath, win_rate, score, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (channel_id) DO UPDATE SET
	total_signals = EXCLUDED.total_signals,
	winners = EXCLUDED.winners,
	losers = EXCLUDED.losers,
	neutrals = EXCLUDED.neutrals,
	dead_tokens = EXCLUDED.dead_tokens,
	avg_ath_multiplier = EXCLUDED.avg_ath_multiplier,
	avg_final_mult = EXCLUDED.avg_final_mult,
	mean_hours_to_ath = EXCLUDED.mean_hours_to_ath,
	win_rate = EXCLUDED.win_rate,
	score = EXCLUDED.score,
	updated_at = EXCLUDED.updated_at`

	_, err := d.db.ExecContext(ctx, q,
		r.ChannelID, r.TotalSignals, r.Winners, r.Losers, r.Neutrals, r.DeadTokens,
		r.AvgATHMultiplier, r.AvgFinalMult, r.MeanTimeToATH, r.WinRate, r.Score, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reputation %s: %w", r.ChannelID, err)
	}
	return nil
}

// Close releases the pool. Idempotent.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}
