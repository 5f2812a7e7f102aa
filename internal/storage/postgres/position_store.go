package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
)

const positionColumns = `id, set_id, connection_id, symbol, side, status, indication_type,
	entry_price, max_price, min_price, quantity, pnl, profit_factor, created_at, closed_at`

// PositionStore implements storage.PositionRepository.
type PositionStore struct {
	db *sql.DB
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(db *sql.DB) *PositionStore {
	return &PositionStore{db: db}
}

// ListClosed returns closed positions opened at or after q.Since, newest first.
func (s *PositionStore) ListClosed(ctx context.Context, q storage.PositionQuery) ([]types.Position, error) {
	symbols, err := stringList(q.Symbols)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = 'closed'
		  AND created_at >= $1
		  AND ($2::jsonb = '[]'::jsonb OR symbol IN (SELECT jsonb_array_elements_text($2::jsonb)))
		  AND ($3 = '' OR indication_type = $3)
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, q.Since, symbols, q.IndicationType)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListForSet returns every position belonging to the Set, newest first.
func (s *PositionStore) ListForSet(ctx context.Context, set types.Set) ([]types.Position, error) {
	connections, err := stringList(set.ConnectionIDs)
	if err != nil {
		return nil, err
	}
	symbols, err := stringList(set.Symbols)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE (set_id = $1
		   OR (set_id = ''
		       AND connection_id IN (SELECT jsonb_array_elements_text($2::jsonb))
		       AND ($3 = '' OR indication_type = $3)))
		  AND ($4::jsonb = '[]'::jsonb OR symbol IN (SELECT jsonb_array_elements_text($4::jsonb)))
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, set.ID, connections, set.IndicationType, symbols)
	if err != nil {
		return nil, fmt.Errorf("query positions for set %s: %w", set.ID, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPositions reads numeric columns leniently; unparseable values become 0.
func scanPositions(rows *sql.Rows) ([]types.Position, error) {
	var result []types.Position
	for rows.Next() {
		var (
			p                                       types.Position
			side, status                            string
			entry, maxPrice, minPrice, qty, pnl, pf any
			closedAt                                sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.SetID, &p.ConnectionID, &p.Symbol, &side, &status, &p.IndicationType,
			&entry, &maxPrice, &minPrice, &qty, &pnl, &pf, &p.OpenedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}

		p.Symbol = utils.NormalizeSymbol(p.Symbol)
		p.Side = types.Side(strings.ToLower(side))
		p.Status = types.PositionStatus(strings.ToLower(status))
		p.EntryPrice = utils.ParseFloat(entry)
		p.MaxPrice = utils.ParseFloat(maxPrice)
		p.MinPrice = utils.ParseFloat(minPrice)
		p.Quantity = utils.ParseFloat(qty)
		p.PnL = utils.ParseFloat(pnl)
		p.ProfitFactor = utils.ParseFloat(pf)
		if closedAt.Valid {
			p.ClosedAt = closedAt.Time
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

var _ storage.PositionRepository = (*PositionStore)(nil)
