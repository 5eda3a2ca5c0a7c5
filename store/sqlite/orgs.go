package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/prescribing-engine/bnf"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/orgs"
)

// =============================================================================
// ORGANISATIONS - orgs.Directory
// =============================================================================

// SaveOrg inserts or replaces an organisation in the table for its type.
// CCG rows keep any org_type already stored; new rows default to CCG.
func (s *Store) SaveOrg(ctx context.Context, o orgs.Org) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		query string
		args  []any
	)
	switch o.Type {
	case orgs.TypePractice:
		query = `
			INSERT INTO practices (code, name, ccg, pcn, setting)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				name = excluded.name,
				ccg = excluded.ccg,
				pcn = excluded.pcn,
				setting = excluded.setting
		`
		args = []any{o.Code, o.Name, nullString(o.CCG), nullString(o.PCN), o.Setting}
	case orgs.TypeCCG:
		query = `
			INSERT INTO ccgs (code, name, stp, regional_team)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				name = excluded.name,
				stp = excluded.stp,
				regional_team = excluded.regional_team
		`
		args = []any{o.Code, o.Name, nullString(o.STP), nullString(o.RegionalTeam)}
	case orgs.TypePCN, orgs.TypeSTP, orgs.TypeRegionalTeam:
		query = fmt.Sprintf(`
			INSERT INTO %s (code, name) VALUES (?, ?)
			ON CONFLICT(code) DO UPDATE SET name = excluded.name
		`, orgTable(o.Type))
		args = []any{o.Code, o.Name}
	default:
		return core.Invalid("org_type", "cannot store organisations of type %q", o.Type)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// SetCCGOrgType records the organisation type of a row in the ccgs table.
// Only rows of type CCG take part in CCG listings.
func (s *Store) SetCCGOrgType(ctx context.Context, code, orgType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE ccgs SET org_type = ? WHERE code = ?", orgType, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound(string(orgs.TypeCCG), code)
	}
	return nil
}

func orgTable(t orgs.OrgType) string {
	switch t {
	case orgs.TypePractice:
		return "practices"
	case orgs.TypePCN:
		return "pcns"
	case orgs.TypeCCG:
		return "ccgs"
	case orgs.TypeSTP:
		return "stps"
	case orgs.TypeRegionalTeam:
		return "regional_teams"
	}
	return ""
}

const (
	practiceColumns = "code, name, COALESCE(ccg, ''), COALESCE(pcn, ''), setting"
	ccgColumns      = "code, name, COALESCE(stp, ''), COALESCE(regional_team, '')"
)

func scanOrg(t orgs.OrgType, row interface{ Scan(...any) error }) (orgs.Org, error) {
	o := orgs.Org{Type: t}
	var err error
	switch t {
	case orgs.TypePractice:
		err = row.Scan(&o.Code, &o.Name, &o.CCG, &o.PCN, &o.Setting)
	case orgs.TypeCCG:
		err = row.Scan(&o.Code, &o.Name, &o.STP, &o.RegionalTeam)
	default:
		err = row.Scan(&o.Code, &o.Name)
	}
	return o, err
}

func selectOrgs(t orgs.OrgType) string {
	switch t {
	case orgs.TypePractice:
		return "SELECT " + practiceColumns + " FROM practices"
	case orgs.TypeCCG:
		return "SELECT " + ccgColumns + " FROM ccgs"
	}
	return "SELECT code, name FROM " + orgTable(t)
}

// ListOrgs returns every organisation of type t, ordered by code.
func (s *Store) ListOrgs(ctx context.Context, t orgs.OrgType) ([]orgs.Org, error) {
	if orgTable(t) == "" {
		return nil, core.Invalid("org_type", "cannot list organisations of type %q", t)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectOrgs(t)
	if t == orgs.TypeCCG {
		query += " WHERE org_type = 'CCG'"
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orgs.Org{}
	for rows.Next() {
		o, err := scanOrg(t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrg retrieves an organisation, or a not-found error.
func (s *Store) GetOrg(ctx context.Context, ref orgs.OrgRef) (*orgs.Org, error) {
	if ref.IsAllEngland() {
		return &orgs.Org{Type: orgs.TypeAllEngland, Name: "NHS England"}, nil
	}
	if orgTable(ref.Type) == "" {
		return nil, core.Invalid("org_type", "unknown organisation type %q", ref.Type)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, err := scanOrg(ref.Type, s.db.QueryRowContext(ctx, selectOrgs(ref.Type)+" WHERE code = ?", ref.Code))
	if err == sql.ErrNoRows {
		return nil, core.NotFound(string(ref.Type), ref.Code)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Memberships returns every practice with its PCN and CCG, and the STP and
// regional team of that CCG.
func (s *Store) Memberships(ctx context.Context) ([]orgs.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.code, COALESCE(p.pcn, ''), COALESCE(p.ccg, ''),
		       COALESCE(c.stp, ''), COALESCE(c.regional_team, '')
		FROM practices p
		LEFT JOIN ccgs c ON c.code = p.ccg
		ORDER BY p.code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orgs.Membership
	for rows.Next() {
		var m orgs.Membership
		if err := rows.Scan(&m.Practice, &m.PCN, &m.CCG, &m.STP, &m.RegionalTeam); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// SECTIONS - bnf.SectionLookup
// =============================================================================

// SaveSection stores a BNF section. Number defaults to the printed form
// of the id.
func (s *Store) SaveSection(ctx context.Context, sec bnf.SectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sec.Number == "" {
		sec.Number = bnf.NumberStr(sec.BNFID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (bnf_id, name, number_str, chapter, section, paragraph, is_current)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bnf_id) DO UPDATE SET
			name = excluded.name,
			number_str = excluded.number_str,
			chapter = excluded.chapter,
			section = excluded.section,
			paragraph = excluded.paragraph,
			is_current = excluded.is_current
	`, sec.BNFID, sec.Name, sec.Number, sec.Chapter, sec.Section, sec.Paragraph, sec.IsCurrent)
	if isUniqueConstraintError(err) {
		return core.Invalid("number_str", "section number %s is already taken", sec.Number)
	}
	return err
}

// SectionByNumber finds a section by its printed number.
func (s *Store) SectionByNumber(ctx context.Context, number string) (*bnf.SectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sec bnf.SectionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT bnf_id, name, number_str, chapter, section, paragraph, is_current
		FROM sections WHERE number_str = ?
	`, number).Scan(&sec.BNFID, &sec.Name, &sec.Number, &sec.Chapter, &sec.Section, &sec.Paragraph, &sec.IsCurrent)
	if err == sql.ErrNoRows {
		return nil, core.NotFound("section", number)
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}
