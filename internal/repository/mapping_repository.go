package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
)

// MappingRepository provides data access methods for the symbol_mapping table.
type MappingRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewMappingRepository creates a new MappingRepository with the provided database connection.
func NewMappingRepository(db *database.DB) *MappingRepository {
	return &MappingRepository{db: db, now: time.Now}
}

// WithClock returns a copy of the repository that reads the current time from now.
func (r *MappingRepository) WithClock(now func() time.Time) *MappingRepository {
	clone := *r
	clone.now = now
	return &clone
}

type mappingRow struct {
	SourceCode      string `db:"source_code"`
	CanonicalSymbol string `db:"canonical_symbol"`
	CompanyName     string `db:"company_name"`
	LastUpdated     string `db:"last_updated"`
}

func (row mappingRow) toModel() (model.SymbolMapping, error) {
	updated, err := parseStored(row.LastUpdated)
	if err != nil {
		return model.SymbolMapping{}, err
	}
	return model.SymbolMapping{
		SourceCode:      row.SourceCode,
		CanonicalSymbol: row.CanonicalSymbol,
		CompanyName:     row.CompanyName,
		LastUpdated:     updated,
	}, nil
}

// Upsert inserts or updates mappings and returns how many rows were created
// or changed. Rows identical to the stored state are left untouched so
// repeated imports do not bump last_updated.
func (r *MappingRepository) Upsert(ctx context.Context, mappings ...model.SymbolMapping) (int, error) {
	now := formatCachedAt(r.now())
	changed := 0

	err := r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range mappings {
			var existing mappingRow
			err := tx.GetContext(ctx, &existing, `
				SELECT source_code, canonical_symbol, company_name, last_updated
				FROM symbol_mapping WHERE source_code = ?`, m.SourceCode)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("failed to read mapping %s: %w", m.SourceCode, err)
			case existing.CanonicalSymbol == m.CanonicalSymbol && existing.CompanyName == m.CompanyName:
				continue
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO symbol_mapping (source_code, canonical_symbol, company_name, last_updated)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (source_code) DO UPDATE SET
					canonical_symbol = excluded.canonical_symbol,
					company_name = excluded.company_name,
					last_updated = excluded.last_updated`,
				m.SourceCode, m.CanonicalSymbol, m.CompanyName, now)
			if err != nil {
				return fmt.Errorf("failed to upsert mapping %s: %w", m.SourceCode, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Resolve maps source codes to canonical symbols. Codes without a mapping are
// absent from the result.
func (r *MappingRepository) Resolve(ctx context.Context, codes []string) (map[string]string, error) {
	resolved := make(map[string]string, len(codes))
	if len(codes) == 0 {
		return resolved, nil
	}

	query, args, err := sqlx.In(`
		SELECT source_code, canonical_symbol, company_name, last_updated
		FROM symbol_mapping WHERE source_code IN (?)`, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to build mapping query: %w", err)
	}

	var rows []mappingRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query symbol_mapping: %w", err)
	}
	for _, row := range rows {
		resolved[row.SourceCode] = row.CanonicalSymbol
	}
	return resolved, nil
}

// List returns all mappings, optionally restricted to canonical symbols
// starting with prefix.
func (r *MappingRepository) List(ctx context.Context, prefix string) ([]model.SymbolMapping, error) {
	var rows []mappingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT source_code, canonical_symbol, company_name, last_updated
		FROM symbol_mapping
		WHERE canonical_symbol LIKE ? || '%'
		ORDER BY canonical_symbol, source_code`,
		strings.ToUpper(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list symbol_mapping: %w", err)
	}

	out := make([]model.SymbolMapping, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
