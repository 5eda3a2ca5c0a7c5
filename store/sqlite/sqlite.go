/*
Package sqlite provides a SQLite-backed implementation of the reference stores.

PURPOSE:
  Holds the organisation directory, the BNF section table, raw prescribing,
  and the dm+d / Drug Tariff / concession records. The prescribing snapshot
  is never read from here on the request path: it is built once from the
  extract written by AggregatedPrescribing.

INTERFACES IMPLEMENTED:
  orgs.Directory:           Organisations and practice memberships
  bnf.SectionLookup:        Section number -> BNF id
  matrixstore.Source:       Aggregated prescribing for the extract
  concessions.Store:        Reconciliation inputs
  concessions.MatchStore:   Concession -> VMPP backfill
  concessions.TariffLister: Tariff listing

KEY TABLES:
  regional_teams, stps, ccgs, pcns, practices: Organisation hierarchy
  sections:       BNF chapters, sections and paragraphs
  presentations:  BNF presentations and their quantity convention
  prescriptions:  Raw prescribing lines (summed on extract)
  vmpps:          dm+d packs
  tariff_prices:  Monthly Drug Tariff price per pack
  concessions:    Monthly price concessions (vmpp_id NULL until matched)

INDEXES:
  - idx_prescriptions_month_code: Extract ordering and national last month
  - idx_prescriptions_practice_month: Quantities for one organisation
  - idx_vmpps_bnf_code: Tariff listing by product

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Reads share the lock; seeding and
  concession matching take it exclusively.

WAL MODE:
  SQLite is opened with WAL so the reloader's extract pass does not block
  API reads.

USAGE:
  store, err := sqlite.New("./data/prescribing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := concessions.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/memory: In-memory implementation for tests
  - matrixstore/extract.go: Consumer of AggregatedPrescribing
*/
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/prescribing-engine/core"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Organisation hierarchy
	CREATE TABLE IF NOT EXISTS regional_teams (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stps (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ccgs (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		org_type TEXT NOT NULL DEFAULT 'CCG',
		stp TEXT,
		regional_team TEXT
	);

	CREATE TABLE IF NOT EXISTS pcns (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS practices (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		ccg TEXT,
		pcn TEXT,
		setting INTEGER NOT NULL DEFAULT -1
	);

	CREATE INDEX IF NOT EXISTS idx_practices_ccg ON practices(ccg);

	-- BNF
	CREATE TABLE IF NOT EXISTS sections (
		bnf_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		number_str TEXT NOT NULL UNIQUE,
		chapter INTEGER NOT NULL,
		section INTEGER NOT NULL DEFAULT 0,
		paragraph INTEGER NOT NULL DEFAULT 0,
		is_current INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS presentations (
		bnf_code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		quantity_means_pack INTEGER NOT NULL DEFAULT 0
	);

	-- Prescribing lines
	CREATE TABLE IF NOT EXISTS prescriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		practice TEXT NOT NULL,
		bnf_code TEXT NOT NULL,
		month TEXT NOT NULL,
		items INTEGER NOT NULL,
		quantity REAL NOT NULL,
		actual_cost_pence REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prescriptions_month_code
		ON prescriptions(month, bnf_code);
	CREATE INDEX IF NOT EXISTS idx_prescriptions_practice_month
		ON prescriptions(practice, month);

	-- dm+d, tariff and concessions
	CREATE TABLE IF NOT EXISTS vmpps (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		bnf_code TEXT NOT NULL DEFAULT '',
		product_name TEXT NOT NULL DEFAULT '',
		qtyval TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vmpps_bnf_code ON vmpps(bnf_code);

	CREATE TABLE IF NOT EXISTS tariff_prices (
		date TEXT NOT NULL,
		vmpp_id INTEGER NOT NULL,
		price_pence INTEGER NOT NULL,
		tariff_category TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (vmpp_id, date)
	);

	CREATE TABLE IF NOT EXISTS concessions (
		id INTEGER PRIMARY KEY,
		date TEXT NOT NULL,
		drug TEXT NOT NULL,
		pack_size TEXT NOT NULL,
		price_pence INTEGER NOT NULL,
		vmpp_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_concessions_date ON concessions(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func parseMonth(s string) (core.Month, error) {
	m, err := core.ParseMonth(s)
	if err != nil {
		return core.Month{}, fmt.Errorf("stored month %q: %w", s, err)
	}
	return m, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
