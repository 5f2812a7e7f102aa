package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"go.uber.org/zap"
)

// ResultStore implements storage.ResultStore.
type ResultStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewResultStore creates a new ResultStore.
func NewResultStore(db *sql.DB, logger *zap.Logger) *ResultStore {
	return &ResultStore{db: db, logger: logger, now: time.Now}
}

// CreateConfig inserts a new config with its request encoded as JSONB.
func (s *ResultStore) CreateConfig(ctx context.Context, cfg *types.OptimizationConfig) error {
	if cfg == nil || cfg.ID == "" {
		return storage.ErrInvalidInput
	}

	request, err := encodeJSON(cfg.Request)
	if err != nil {
		return err
	}

	query := `INSERT INTO optimization_configs (id, request, status, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, cfg.ID, request, string(cfg.Status), cfg.CreatedAt); err != nil {
		return fmt.Errorf("insert config %s: %w", cfg.ID, err)
	}
	return nil
}

// GetConfig retrieves a config by ID.
func (s *ResultStore) GetConfig(ctx context.Context, id string) (*types.OptimizationConfig, error) {
	query := `SELECT id, request, status, created_at FROM optimization_configs WHERE id = $1`

	var (
		cfg     types.OptimizationConfig
		request []byte
		status  string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&cfg.ID, &request, &status, &cfg.CreatedAt)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get config %s: %w", id, err)
	}
	if err := decodeJSON(request, &cfg.Request); err != nil {
		return nil, err
	}
	cfg.Status = types.ConfigStatus(status)
	return &cfg, nil
}

// UpdateConfigStatus stamps the outcome of a run.
func (s *ResultStore) UpdateConfigStatus(ctx context.Context, id string, status types.ConfigStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE optimization_configs SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update config %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const insertScore = `INSERT INTO candidate_scores (
		id, config_id, candidate_index, takeprofit, stoploss,
		trailing_enabled, use_block, use_dca, additional_strategies_only,
		profit_factor, win_rate, total_pnl, total_positions,
		winning_trades, losing_trades, drawdown_time_hours, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

// SaveScores inserts one row per score outside a transaction so a failing
// row never rolls back the others.
func (s *ResultStore) SaveScores(ctx context.Context, configID string, scores []types.CandidateScore) (int, error) {
	if configID == "" {
		return 0, storage.ErrInvalidInput
	}

	var errs []error
	saved := 0
	now := s.now()

	for _, sc := range scores {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id := sc.ID
		if id == "" {
			id = utils.GenerateID("")
		}
		createdAt := sc.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		c := sc.Candidate

		_, err := s.db.ExecContext(ctx, insertScore,
			id, configID, c.Index, c.TakeProfit, c.StopLoss,
			c.TrailingEnabled, c.UseBlock, c.UseDCA, c.AdditionalStrategiesOnly,
			sc.ProfitFactor, sc.WinRate, sc.TotalPnL, sc.TotalPositions,
			sc.WinningTrades, sc.LosingTrades, sc.DrawdownTimeHours, createdAt,
		)
		if err != nil {
			s.logger.Warn("failed to persist candidate score",
				zap.String("config_id", configID),
				zap.Int("candidate", c.Index),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("candidate %d: %w", c.Index, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// LoadTop returns up to n stored scores ranked from stored fields only.
func (s *ResultStore) LoadTop(ctx context.Context, configID string, n int) ([]types.CandidateScore, error) {
	query := `SELECT id, config_id, candidate_index, takeprofit, stoploss,
			trailing_enabled, use_block, use_dca, additional_strategies_only,
			profit_factor, win_rate, total_pnl, total_positions,
			winning_trades, losing_trades, drawdown_time_hours, created_at
		FROM candidate_scores
		WHERE config_id = $1
		ORDER BY profit_factor DESC, win_rate DESC, takeprofit ASC, stoploss ASC, candidate_index ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, configID, n)
	if err != nil {
		return nil, fmt.Errorf("load top scores for %s: %w", configID, err)
	}
	defer rows.Close()

	var result []types.CandidateScore
	for rows.Next() {
		var sc types.CandidateScore
		c := &sc.Candidate
		if err := rows.Scan(
			&sc.ID, &sc.ConfigID, &c.Index, &c.TakeProfit, &c.StopLoss,
			&c.TrailingEnabled, &c.UseBlock, &c.UseDCA, &c.AdditionalStrategiesOnly,
			&sc.ProfitFactor, &sc.WinRate, &sc.TotalPnL, &sc.TotalPositions,
			&sc.WinningTrades, &sc.LosingTrades, &sc.DrawdownTimeHours, &sc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		result = append(result, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return result, nil
}

var _ storage.ResultStore = (*ResultStore)(nil)
