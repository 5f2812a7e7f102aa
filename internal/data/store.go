// Package data loads JSON fixtures into the in-memory repositories so the
// service can run without a database.
package data

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage/memory"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Fixture file names inside the data directory.
const (
	PositionsFile = "positions.json"
	SetsFile      = "sets.json"
)

// Fixtures holds the repositories seeded from a data directory.
type Fixtures struct {
	Positions *memory.PositionStore
	Sets      *memory.SetStore
	Metadata  map[string]*SymbolMetadata
}

// SymbolMetadata describes the positions loaded for one symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Count     int       `json:"count"`
}

// Symbols returns the loaded symbols in ascending order.
func (f *Fixtures) Symbols() []string {
	symbols := make([]string, 0, len(f.Metadata))
	for s := range f.Metadata {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Load reads positions.json and sets.json from dir. Missing files yield empty
// stores; malformed files are an error.
func Load(logger *zap.Logger, dir string) (*Fixtures, error) {
	fx := &Fixtures{
		Positions: memory.NewPositionStore(),
		Sets:      memory.NewSetStore(),
		Metadata:  make(map[string]*SymbolMetadata),
	}
	if dir == "" {
		return fx, nil
	}

	var positions []types.Position
	found, err := readJSON(filepath.Join(dir, PositionsFile), &positions)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Warn("No positions fixture found", zap.String("dir", dir))
	}

	skipped := 0
	for i := range positions {
		p := normalizePosition(positions[i])
		if p.ID == "" || p.Symbol == "" {
			skipped++
			continue
		}
		fx.Positions.Add(p)
		fx.track(p)
	}

	var sets []types.Set
	if _, err := readJSON(filepath.Join(dir, SetsFile), &sets); err != nil {
		return nil, err
	}
	for _, set := range sets {
		fx.Sets.Put(normalizeSet(set))
	}

	logger.Info("Loaded fixtures",
		zap.String("dir", dir),
		zap.Int("positions", len(positions)-skipped),
		zap.Int("skipped", skipped),
		zap.Int("sets", len(sets)),
		zap.Int("symbols", len(fx.Metadata)),
	)
	return fx, nil
}

func (f *Fixtures) track(p types.Position) {
	meta, ok := f.Metadata[p.Symbol]
	if !ok {
		f.Metadata[p.Symbol] = &SymbolMetadata{
			Symbol:    p.Symbol,
			StartDate: p.OpenedAt,
			EndDate:   p.OpenedAt,
			Count:     1,
		}
		return
	}
	meta.Count++
	if p.OpenedAt.Before(meta.StartDate) {
		meta.StartDate = p.OpenedAt
	}
	if p.OpenedAt.After(meta.EndDate) {
		meta.EndDate = p.OpenedAt
	}
}

func readJSON(path string, out any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

func normalizePosition(p types.Position) types.Position {
	p.Symbol = utils.NormalizeSymbol(p.Symbol)
	p.Side = types.Side(strings.ToLower(string(p.Side)))
	p.Status = types.PositionStatus(strings.ToLower(string(p.Status)))
	if p.Status == "" && !p.ClosedAt.IsZero() {
		p.Status = types.PositionClosed
	}
	return p
}

func normalizeSet(set types.Set) types.Set {
	for i, s := range set.Symbols {
		set.Symbols[i] = utils.NormalizeSymbol(s)
	}
	return set
}
