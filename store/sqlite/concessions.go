package sqlite

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
)

// =============================================================================
// REFERENCE DATA - dm+d, Drug Tariff, presentations
// =============================================================================

// SavePresentation inserts or replaces a presentation.
func (s *Store) SavePresentation(ctx context.Context, p concessions.Presentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presentations (bnf_code, name, quantity_means_pack)
		VALUES (?, ?, ?)
		ON CONFLICT(bnf_code) DO UPDATE SET
			name = excluded.name,
			quantity_means_pack = excluded.quantity_means_pack
	`, p.BNFCode, p.Name, p.QuantityMeansPack)
	return err
}

// GetPresentation retrieves a presentation by BNF code.
func (s *Store) GetPresentation(ctx context.Context, bnfCode string) (*concessions.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p concessions.Presentation
	err := s.db.QueryRowContext(ctx,
		"SELECT bnf_code, name, quantity_means_pack FROM presentations WHERE bnf_code = ?",
		bnfCode,
	).Scan(&p.BNFCode, &p.Name, &p.QuantityMeansPack)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveVMPP inserts or replaces a pack.
func (s *Store) SaveVMPP(ctx context.Context, v concessions.VMPP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vmpps (id, name, bnf_code, product_name, qtyval)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bnf_code = excluded.bnf_code,
			product_name = excluded.product_name,
			qtyval = excluded.qtyval
	`, v.ID, v.Name, v.BNFCode, v.ProductName, v.QtyVal.String())
	return err
}

const vmppColumns = "id, name, bnf_code, product_name, qtyval"

func scanVMPP(row interface{ Scan(...any) error }) (concessions.VMPP, error) {
	var (
		v      concessions.VMPP
		qtyval string
	)
	if err := row.Scan(&v.ID, &v.Name, &v.BNFCode, &v.ProductName, &qtyval); err != nil {
		return v, err
	}
	q, err := decimal.NewFromString(qtyval)
	if err != nil {
		return v, err
	}
	v.QtyVal = q
	return v, nil
}

// GetVMPP retrieves a pack by ID.
func (s *Store) GetVMPP(ctx context.Context, id int64) (*concessions.VMPP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := scanVMPP(s.db.QueryRowContext(ctx, "SELECT "+vmppColumns+" FROM vmpps WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVMPPs returns every pack ordered by ID.
func (s *Store) ListVMPPs(ctx context.Context) ([]concessions.VMPP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+vmppColumns+" FROM vmpps ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concessions.VMPP
	for rows.Next() {
		v, err := scanVMPP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveTariffPrice inserts or replaces the tariff price of a pack for a month.
func (s *Store) SaveTariffPrice(ctx context.Context, t concessions.TariffPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tariff_prices (date, vmpp_id, price_pence, tariff_category)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vmpp_id, date) DO UPDATE SET
			price_pence = excluded.price_pence,
			tariff_category = excluded.tariff_category
	`, t.Date.String(), t.VMPPID, t.PricePence, t.Category)
	return err
}

// GetTariffPrice retrieves the tariff price of a pack for a month.
func (s *Store) GetTariffPrice(ctx context.Context, vmppID int64, month core.Month) (*concessions.TariffPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := concessions.TariffPrice{Date: month, VMPPID: vmppID}
	err := s.db.QueryRowContext(ctx,
		"SELECT price_pence, tariff_category FROM tariff_prices WHERE vmpp_id = ? AND date = ?",
		vmppID, month.String(),
	).Scan(&t.PricePence, &t.Category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTariff lists tariff prices for the packs of the given products,
// oldest first. No codes lists everything.
func (s *Store) ListTariff(ctx context.Context, bnfCodes []string) ([]concessions.TariffListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.date, t.price_pence, v.name, v.id, v.bnf_code,
		       c.price_pence, t.tariff_category, v.qtyval
		FROM tariff_prices t
		JOIN vmpps v ON v.id = t.vmpp_id
		LEFT JOIN concessions c ON c.vmpp_id = t.vmpp_id AND c.date = t.date
	`
	args := make([]any, 0, len(bnfCodes))
	if len(bnfCodes) > 0 {
		query += " WHERE v.bnf_code IN (" + placeholders(len(bnfCodes)) + ")"
		for _, c := range bnfCodes {
			args = append(args, c)
		}
	}
	query += " ORDER BY t.date, v.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concessions.TariffListing
	for rows.Next() {
		var (
			l          concessions.TariffListing
			date       string
			concession sql.NullInt64
			qtyval     string
		)
		if err := rows.Scan(&date, &l.PricePence, &l.VMPP, &l.VMPPID, &l.Product,
			&concession, &l.TariffCategory, &qtyval); err != nil {
			return nil, err
		}
		if l.Date, err = parseMonth(date); err != nil {
			return nil, err
		}
		if concession.Valid {
			l.ConcessionPence = &concession.Int64
		}
		if q, err := decimal.NewFromString(qtyval); err == nil {
			l.PackSize = q.String()
		} else {
			l.PackSize = qtyval
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// CONCESSIONS - concessions.Store, concessions.MatchStore
// =============================================================================

// SaveConcession inserts or replaces a concession.
func (s *Store) SaveConcession(ctx context.Context, c concessions.Concession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO concessions (id, date, drug, pack_size, price_pence, vmpp_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			drug = excluded.drug,
			pack_size = excluded.pack_size,
			price_pence = excluded.price_pence,
			vmpp_id = excluded.vmpp_id
	`, c.ID, c.Date.String(), c.Drug, c.PackSize, c.PricePence, nullInt64(c.VMPPID))
	return err
}

// LatestConcessionMonth returns the newest concession month, zero if none.
func (s *Store) LatestConcessionMonth(ctx context.Context) (core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(date) FROM concessions").Scan(&latest); err != nil {
		return core.Month{}, err
	}
	if !latest.Valid {
		return core.Month{}, nil
	}
	return parseMonth(latest.String)
}

const concessionColumns = "id, date, drug, pack_size, price_pence, vmpp_id"

func (s *Store) queryConcessions(ctx context.Context, query string, args ...any) ([]concessions.Concession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concessions.Concession
	for rows.Next() {
		var (
			c    concessions.Concession
			date string
			vmpp sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &date, &c.Drug, &c.PackSize, &c.PricePence, &vmpp); err != nil {
			return nil, err
		}
		if c.Date, err = parseMonth(date); err != nil {
			return nil, err
		}
		if vmpp.Valid {
			id := vmpp.Int64
			c.VMPPID = &id
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConcessionsBetween returns the concessions dated within r, by ID.
func (s *Store) ConcessionsBetween(ctx context.Context, r core.MonthRange) ([]concessions.Concession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryConcessions(ctx,
		"SELECT "+concessionColumns+" FROM concessions WHERE date >= ? AND date <= ? ORDER BY id",
		r.Start.String(), r.End.String(),
	)
}

// ListConcessions returns every concession by ID.
func (s *Store) ListConcessions(ctx context.Context) ([]concessions.Concession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryConcessions(ctx, "SELECT "+concessionColumns+" FROM concessions ORDER BY id")
}

// SetConcessionVMPP records the pack a concession applies to.
func (s *Store) SetConcessionVMPP(ctx context.Context, concessionID, vmppID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE concessions SET vmpp_id = ? WHERE id = ?", vmppID, concessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("concession", strconv.FormatInt(concessionID, 10))
	}
	return nil
}
