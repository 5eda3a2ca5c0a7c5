package concessions

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/orgs"
)

// =============================================================================
// REFERENCE RECORDS
// =============================================================================

// Concession is one published price concession. VMPPID is nil until the
// concession has been matched to a pack.
type Concession struct {
	ID         int64
	Date       core.Month
	Drug       string
	PackSize   string
	PricePence int64
	VMPPID     *int64
}

func (c Concession) IsMatched() bool { return c.VMPPID != nil }

// VMPP is a dm+d virtual medicinal product pack.
type VMPP struct {
	ID          int64
	Name        string
	BNFCode     string // presentation code of the pack's product
	ProductName string
	QtyVal      decimal.Decimal // units per pack
}

// TariffPrice is the Drug Tariff price of a pack for one month.
type TariffPrice struct {
	Date       core.Month
	VMPPID     int64
	PricePence int64
	Category   string
}

// Presentation carries the quantity convention of a BNF presentation.
// When QuantityMeansPack is set, prescribed quantity counts packs, not units.
type Presentation struct {
	BNFCode           string
	Name              string
	QuantityMeansPack bool
}

// Quantity is prescribed quantity summed by month and presentation.
type Quantity struct {
	Month    core.Month
	BNFCode  string
	Quantity float64
}

// TariffListing is one row of the tariff listing, with the concession
// price for the same pack and month when there is one.
type TariffListing struct {
	Date            core.Month `json:"date"`
	PricePence      int64      `json:"price_pence"`
	VMPP            string     `json:"vmpp"`
	VMPPID          int64      `json:"vmpp_id"`
	Product         string     `json:"product"`
	ConcessionPence *int64     `json:"concession"`
	TariffCategory  string     `json:"tariff_category"`
	PackSize        string     `json:"pack_size"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the read side the engine needs. Lookups of a single record
// return nil, nil when it does not exist.
type Store interface {
	LatestConcessionMonth(ctx context.Context) (core.Month, error)
	ConcessionsBetween(ctx context.Context, r core.MonthRange) ([]Concession, error)
	GetVMPP(ctx context.Context, id int64) (*VMPP, error)
	GetTariffPrice(ctx context.Context, vmppID int64, month core.Month) (*TariffPrice, error)
	GetPresentation(ctx context.Context, bnfCode string) (*Presentation, error)

	// LastPrescribingMonth is the newest month with any prescribing,
	// nationally. Zero when there is none.
	LastPrescribingMonth(ctx context.Context) (core.Month, error)

	// PrescribedQuantities sums quantity by (month, presentation) for the
	// practices under entity within r.
	PrescribedQuantities(ctx context.Context, entity orgs.OrgRef, r core.MonthRange) ([]Quantity, error)
}

// MatchStore is the write side used when matching concessions to packs.
type MatchStore interface {
	ListConcessions(ctx context.Context) ([]Concession, error)
	ListVMPPs(ctx context.Context) ([]VMPP, error)
	SetConcessionVMPP(ctx context.Context, concessionID, vmppID int64) error
}

// TariffLister lists tariff prices for product BNF codes, oldest first.
// No codes lists everything.
type TariffLister interface {
	ListTariff(ctx context.Context, bnfCodes []string) ([]TariffListing, error)
}

// =============================================================================
// RESULTS
// =============================================================================

// MonthSummary is the reconciled cost of concessions for one month.
// IsIncompleteMonth is only set when the caller supplies a current month.
type MonthSummary struct {
	Month               core.Month `json:"month"`
	TariffCost          float64    `json:"tariff_cost"`
	AdditionalCost      float64    `json:"additional_cost"`
	IsEstimate          bool       `json:"is_estimate"`
	LastPrescribingDate core.Month `json:"last_prescribing_date"`
	IsIncompleteMonth   *bool      `json:"is_incomplete_month,omitempty"`
}

// BreakdownRow is the reconciled cost of one presentation in one month.
type BreakdownRow struct {
	BNFCode        string  `json:"bnf_code"`
	ProductName    string  `json:"product_name"`
	Quantity       float64 `json:"quantity"`
	TariffCost     float64 `json:"tariff_cost"`
	AdditionalCost float64 `json:"additional_cost"`
	IsEstimate     bool    `json:"is_estimate"`
}

// EntitySummary pairs an entity with its monthly summary.
type EntitySummary struct {
	Entity orgs.OrgRef    `json:"-"`
	Months []MonthSummary `json:"months"`
}
