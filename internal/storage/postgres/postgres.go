// Package postgres implements the storage repositories on PostgreSQL through
// database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/config"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"github.com/bytedance/sonic"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connect opens a PostgreSQL pool; it returns nil, nil when no DSN is set.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if _, err := utils.Retry(pingCtx, utils.DefaultRetryConfig(), func() (struct{}, error) {
		return struct{}{}, db.PingContext(pingCtx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// encodeJSON renders a value for a JSONB column or parameter.
func encodeJSON(v any) (string, error) {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return s, nil
}

// decodeJSON parses a JSONB column. Empty input leaves out untouched.
func decodeJSON(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// stringList encodes a filter list, always as a JSON array.
func stringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	return encodeJSON(values)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
