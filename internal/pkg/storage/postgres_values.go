package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// ValueHistory persists positive-yield value rows in PostgreSQL. One row per
// positive streak of one outcome; refreshes of the same streak update the
// prices in place.
type ValueHistory struct {
	db *sql.DB
}

func NewValueHistory(cfg *config.PostgresConfig) (*ValueHistory, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	history := &ValueHistory{db: db}
	if err := history.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return history, nil
}

func (h *ValueHistory) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS value_history (
		id SERIAL PRIMARY KEY,
		bookmaker VARCHAR(100) NOT NULL,
		pinnacle_id VARCHAR(200) NOT NULL,
		other_id VARCHAR(200) NOT NULL,
		home_team VARCHAR(500) NOT NULL,
		away_team VARCHAR(500) NOT NULL,
		outcome VARCHAR(100) NOT NULL,
		line DECIMAL(10, 4) NOT NULL,
		pinnacle_odds DECIMAL(10, 4) NOT NULL,
		other_odds DECIMAL(10, 4) NOT NULL,
		yield DECIMAL(10, 4) NOT NULL,
		sport VARCHAR(100) NOT NULL,
		league VARCHAR(500) NOT NULL,
		country VARCHAR(200) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		match_start_time TIMESTAMP NOT NULL,
		positive_start_time TIMESTAMP NOT NULL,
		last_update_time TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE(bookmaker, other_id, outcome, line, positive_start_time)
	);

	CREATE INDEX IF NOT EXISTS idx_value_history_bookmaker ON value_history(bookmaker);
	CREATE INDEX IF NOT EXISTS idx_value_history_yield ON value_history(yield DESC);
	CREATE INDEX IF NOT EXISTS idx_value_history_positive_start ON value_history(positive_start_time DESC);
	`

	_, err := h.db.ExecContext(ctx, query)
	return err
}

// StoreValues upserts the positive-yield subset of the given rows. Rows
// without a running positive streak are skipped.
func (h *ValueHistory) StoreValues(ctx context.Context, values []*models.Value) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO value_history (
			bookmaker, pinnacle_id, other_id, home_team, away_team,
			outcome, line, pinnacle_odds, other_odds, yield,
			sport, league, country, event_type,
			match_start_time, positive_start_time, last_update_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (bookmaker, other_id, outcome, line, positive_start_time)
		DO UPDATE SET
			pinnacle_odds = EXCLUDED.pinnacle_odds,
			other_odds = EXCLUDED.other_odds,
			yield = EXCLUDED.yield,
			last_update_time = EXCLUDED.last_update_time`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if v.FirstPositive == nil || v.Yield <= 0 {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			v.Bookmaker, v.RefID, v.OtherID, v.HomeTeam, v.AwayTeam,
			v.Outcome, v.Line, v.RefOdds, v.OtherOdds, v.Yield,
			v.Sport, v.League, v.Country, v.Phase,
			time.Unix(v.MatchStartTime, 0).UTC(),
			time.Unix(*v.FirstPositive, 0).UTC(),
			time.Unix(v.LastUpdate, 0).UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store value %s %s: %w", v.Bookmaker, v.OtherID, err)
		}
	}

	return tx.Commit()
}

func (h *ValueHistory) Close() error {
	return h.db.Close()
}
