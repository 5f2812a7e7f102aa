package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
)

const setColumns = `id, name, connection_ids, symbols, indication_type, parameters, is_active,
	evaluation_positions_count, profit_factor_min, last_evaluation_at,
	auto_disabled_at, auto_disabled_reason, created_at, updated_at`

// SetStore implements storage.SetRepository.
type SetStore struct {
	db *sql.DB
}

// NewSetStore creates a new SetStore.
func NewSetStore(db *sql.DB) *SetStore {
	return &SetStore{db: db}
}

// ListActive returns active Sets ordered by ID.
func (s *SetStore) ListActive(ctx context.Context) ([]types.Set, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+setColumns+` FROM sets WHERE is_active = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active sets: %w", err)
	}
	defer rows.Close()

	var result []types.Set
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sets: %w", err)
	}
	return result, nil
}

// Get retrieves a Set by ID.
func (s *SetStore) Get(ctx context.Context, id string) (*types.Set, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+setColumns+` FROM sets WHERE id = $1`, id)
	set, err := scanSet(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get set %s: %w", id, err)
	}
	return set, nil
}

// MarkEvaluated stamps the last evaluation time.
func (s *SetStore) MarkEvaluated(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sets SET last_evaluation_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark set %s evaluated: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Disable flips an active Set to inactive. The is_active guard makes the
// transition one-way.
func (s *SetStore) Disable(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sets
		SET is_active = false, auto_disabled_at = $2, auto_disabled_reason = $3,
		    last_evaluation_at = $2, updated_at = $2
		WHERE id = $1 AND is_active = true`, id, at, reason)
	if err != nil {
		return fmt.Errorf("disable set %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("disable set %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return storage.ErrAlreadyDisabled
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSet(row rowScanner) (*types.Set, error) {
	var (
		set                          types.Set
		connections, symbols, params []byte
		lastEval, disabledAt         sql.NullTime
	)
	err := row.Scan(
		&set.ID, &set.Name, &connections, &symbols, &set.IndicationType, &params, &set.IsActive,
		&set.EvaluationPositionsCount, &set.ProfitFactorMin, &lastEval,
		&disabledAt, &set.AutoDisabledReason, &set.CreatedAt, &set.UpdatedAt,
	)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan set: %w", err)
	}

	if err := decodeJSON(connections, &set.ConnectionIDs); err != nil {
		return nil, err
	}
	if err := decodeJSON(symbols, &set.Symbols); err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &set.Parameters); err != nil {
		return nil, err
	}
	set.LastEvaluationAt = timePtr(lastEval)
	set.AutoDisabledAt = timePtr(disabledAt)
	return &set, nil
}

var _ storage.SetRepository = (*SetStore)(nil)
