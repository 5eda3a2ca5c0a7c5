package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
)

// =============================================================================
// PRESCRIBING - matrixstore.Source
// =============================================================================

// SavePrescriptions appends prescribing lines in one transaction.
func (s *Store) SavePrescriptions(ctx context.Context, rows []matrixstore.PrescribingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prescriptions (practice, bnf_code, month, items, quantity, actual_cost_pence)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		m, err := core.ParseMonth(r.Month)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.Practice, r.BNFCode, m.String(), r.Items, r.Quantity, r.ActualCostPence); err != nil {
			return fmt.Errorf("insert prescription %s/%s/%s: %w", r.Practice, r.BNFCode, r.Month, err)
		}
	}
	return tx.Commit()
}

// AggregatedPrescribing streams prescribing summed by (practice,
// presentation, month), ordered by month, presentation and practice.
func (s *Store) AggregatedPrescribing(ctx context.Context, fn func(matrixstore.PrescribingRow) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT practice, bnf_code, month,
		       SUM(items), SUM(quantity), SUM(actual_cost_pence)
		FROM prescriptions
		GROUP BY month, bnf_code, practice
		ORDER BY month, bnf_code, practice
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r matrixstore.PrescribingRow
		if err := rows.Scan(&r.Practice, &r.BNFCode, &r.Month, &r.Items, &r.Quantity, &r.ActualCostPence); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastPrescribingMonth returns the newest month with any prescribing.
func (s *Store) LastPrescribingMonth(ctx context.Context) (core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(month) FROM prescriptions").Scan(&last); err != nil {
		return core.Month{}, err
	}
	if !last.Valid {
		return core.Month{}, nil
	}
	return parseMonth(last.String)
}

// entityFilter is the WHERE clause selecting the practices under ref, over
// prescriptions p joined to practices pr and ccgs c.
func entityFilter(ref orgs.OrgRef) (string, []any, error) {
	switch ref.Type {
	case orgs.TypeAllEngland:
		return "1 = 1", nil, nil
	case orgs.TypePractice:
		return "p.practice = ?", []any{ref.Code}, nil
	case orgs.TypePCN:
		return "pr.pcn = ?", []any{ref.Code}, nil
	case orgs.TypeCCG:
		return "pr.ccg = ?", []any{ref.Code}, nil
	case orgs.TypeSTP:
		return "c.stp = ?", []any{ref.Code}, nil
	case orgs.TypeRegionalTeam:
		return "c.regional_team = ?", []any{ref.Code}, nil
	}
	return "", nil, core.Invalid("org_type", "unknown organisation type %q", ref.Type)
}

// PrescribedQuantities sums quantity by (month, presentation) for the
// practices under entity within r.
func (s *Store) PrescribedQuantities(ctx context.Context, entity orgs.OrgRef, r core.MonthRange) ([]concessions.Quantity, error) {
	where, args, err := entityFilter(entity)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT p.month, p.bnf_code, SUM(p.quantity)
		FROM prescriptions p
		LEFT JOIN practices pr ON pr.code = p.practice
		LEFT JOIN ccgs c ON c.code = pr.ccg
		WHERE p.month >= ? AND p.month <= ? AND ` + where + `
		GROUP BY p.month, p.bnf_code
		ORDER BY p.month, p.bnf_code
	`
	args = append([]any{r.Start.String(), r.End.String()}, args...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concessions.Quantity
	for rows.Next() {
		var (
			month string
			q     concessions.Quantity
		)
		if err := rows.Scan(&month, &q.BNFCode, &q.Quantity); err != nil {
			return nil, err
		}
		if q.Month, err = parseMonth(month); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
