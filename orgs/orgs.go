/*
Package orgs models NHS organisations and the aggregation levels the
engine groups prescribing by.

PURPOSE:
  Prescribing is recorded against practices. Every other organisation
  (PCN, CCG, STP, regional team) is a group of practices, and "All
  England" is the group of all of them. Queries name the level they want
  results at and, optionally, the organisations to keep.

KEY CONCEPTS:
  - OrgType: what kind of organisation a code refers to
  - Level:   the aggregation level of a query (adds all_practices)
  - OrgRef:  a resolved (type, code) pair; resolved ONCE at the boundary
  - Org:     a directory record with the display fields queries emit
  - Directory: read-only access to the organisation reference tables

CODE DISAMBIGUATION:
  Callers that don't say what type a code is get the legacy length rules:

    ""        -> All England
    3 chars   -> CCG
    6 chars   -> practice
    9 chars   -> ambiguous (STP or PCN), a type hint is required

  ResolveRef is the only place these rules live.

SEE ALSO:
  - matrixstore/snapshot.go: Builds groupers per Level
  - spending/spending.go: Uses Directory to label grouped rows
*/
package orgs

import (
	"context"
	"strings"

	"github.com/warp/prescribing-engine/core"
)

// =============================================================================
// ORG TYPE
// =============================================================================

type OrgType string

const (
	TypePractice     OrgType = "practice"
	TypePCN          OrgType = "pcn"
	TypeCCG          OrgType = "ccg"
	TypeSTP          OrgType = "stp"
	TypeRegionalTeam OrgType = "regional_team"
	TypeAllEngland   OrgType = "all_england"
)

// ParseOrgType accepts the API spellings of an organisation type.
func ParseOrgType(s string) (OrgType, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "practice":
		return TypePractice, nil
	case "pcn":
		return TypePCN, nil
	case "ccg", "pct":
		return TypeCCG, nil
	case "stp":
		return TypeSTP, nil
	case "regional_team":
		return TypeRegionalTeam, nil
	case "all_england", "all_practices":
		return TypeAllEngland, nil
	default:
		return "", core.Invalid("org_type", "unknown organisation type %q", s)
	}
}

// =============================================================================
// LEVEL - Aggregation level of a query
// =============================================================================

type Level string

const (
	LevelPractice     Level = "practice"
	LevelPCN          Level = "pcn"
	LevelCCG          Level = "ccg"
	LevelSTP          Level = "stp"
	LevelRegionalTeam Level = "regional_team"
	LevelAllPractices Level = "all_practices"
)

// Levels lists every level in ascending size.
var Levels = []Level{LevelPractice, LevelPCN, LevelCCG, LevelSTP, LevelRegionalTeam, LevelAllPractices}

// ParseLevel validates an aggregation level token.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", core.Invalid("org_type", "unknown aggregation level %q", s)
}

// LevelFor returns the aggregation level that produces one row per
// organisation of type t.
func LevelFor(t OrgType) Level {
	switch t {
	case TypePractice:
		return LevelPractice
	case TypePCN:
		return LevelPCN
	case TypeCCG:
		return LevelCCG
	case TypeSTP:
		return LevelSTP
	case TypeRegionalTeam:
		return LevelRegionalTeam
	default:
		return LevelAllPractices
	}
}

// TypeFor is the inverse of LevelFor.
func TypeFor(l Level) OrgType {
	switch l {
	case LevelPractice:
		return TypePractice
	case LevelPCN:
		return TypePCN
	case LevelCCG:
		return TypeCCG
	case LevelSTP:
		return TypeSTP
	case LevelRegionalTeam:
		return TypeRegionalTeam
	default:
		return TypeAllEngland
	}
}

// AllEnglandID is the single group id used at LevelAllPractices.
const AllEnglandID = ""

// =============================================================================
// ORG REF - Tagged variant, resolved once
// =============================================================================

// OrgRef identifies one organisation. The zero value is not valid; use the
// constructors.
type OrgRef struct {
	Type OrgType
	Code string
}

func Practice(code string) OrgRef     { return OrgRef{Type: TypePractice, Code: code} }
func PCN(code string) OrgRef          { return OrgRef{Type: TypePCN, Code: code} }
func CCG(code string) OrgRef          { return OrgRef{Type: TypeCCG, Code: code} }
func STP(code string) OrgRef          { return OrgRef{Type: TypeSTP, Code: code} }
func RegionalTeam(code string) OrgRef { return OrgRef{Type: TypeRegionalTeam, Code: code} }
func AllEngland() OrgRef              { return OrgRef{Type: TypeAllEngland} }

func (r OrgRef) IsAllEngland() bool { return r.Type == TypeAllEngland }

func (r OrgRef) String() string {
	if r.IsAllEngland() {
		return string(TypeAllEngland)
	}
	return string(r.Type) + ":" + r.Code
}

// ResolveRef turns a raw code (and an optional type hint) into an OrgRef.
// A hint always wins over length sniffing.
func ResolveRef(code string, hint OrgType) (OrgRef, error) {
	code = strings.TrimSpace(code)
	if hint == TypeAllEngland {
		return AllEngland(), nil
	}
	if hint != "" {
		if code == "" {
			return OrgRef{}, core.Invalid("org", "%s code is required", hint)
		}
		return OrgRef{Type: hint, Code: code}, nil
	}

	switch len(code) {
	case 0:
		return AllEngland(), nil
	case 3:
		return CCG(code), nil
	case 6:
		return Practice(code), nil
	case 9:
		return OrgRef{}, core.Invalid("org", "%s is ambiguous: specify stp or pcn", code)
	default:
		return OrgRef{}, core.Invalid("org", "cannot determine organisation type of %q", code)
	}
}

// =============================================================================
// ORG RECORDS
// =============================================================================

// Org is one organisation row from the reference tables.
type Org struct {
	Code string
	Name string
	Type OrgType

	// Practice-only fields
	CCG     string
	PCN     string
	Setting int

	// CCG-only fields
	STP          string
	RegionalTeam string
}

// Membership places a practice in every group it belongs to.
// Empty fields mean "not a member of any group at that level".
type Membership struct {
	Practice     string
	PCN          string
	CCG          string
	STP          string
	RegionalTeam string
}

// GroupID returns the id of the group this practice belongs to at level l,
// and false if it belongs to none.
func (m Membership) GroupID(l Level) (string, bool) {
	var id string
	switch l {
	case LevelPractice:
		id = m.Practice
	case LevelPCN:
		id = m.PCN
	case LevelCCG:
		id = m.CCG
	case LevelSTP:
		id = m.STP
	case LevelRegionalTeam:
		id = m.RegionalTeam
	case LevelAllPractices:
		return AllEnglandID, true
	}
	return id, id != ""
}

// Matches reports whether the practice falls under ref.
func (m Membership) Matches(ref OrgRef) bool {
	if ref.IsAllEngland() {
		return true
	}
	id, ok := m.GroupID(LevelFor(ref.Type))
	return ok && id == ref.Code
}

// =============================================================================
// DIRECTORY - Read-only reference tables
// =============================================================================

// Directory is implemented by the reference stores.
type Directory interface {
	// ListOrgs returns every organisation of type t, ordered by code.
	// For TypeCCG only organisations with org_type CCG are listed.
	ListOrgs(ctx context.Context, t OrgType) ([]Org, error)

	// GetOrg returns the organisation, or a core.NotFoundError.
	GetOrg(ctx context.Context, ref OrgRef) (*Org, error)

	// Memberships returns group membership for every practice.
	Memberships(ctx context.Context) ([]Membership, error)
}

// PracticeCodes expands refs into practice codes. Practice refs pass
// through; group refs expand to their member practices.
func PracticeCodes(ctx context.Context, dir Directory, refs []OrgRef) ([]string, error) {
	var (
		codes      []string
		members    []Membership
		loadedOnce bool
	)
	for _, ref := range refs {
		if ref.Type == TypePractice {
			codes = append(codes, ref.Code)
			continue
		}
		if !loadedOnce {
			var err error
			if members, err = dir.Memberships(ctx); err != nil {
				return nil, err
			}
			loadedOnce = true
		}
		for _, m := range members {
			if m.Matches(ref) {
				codes = append(codes, m.Practice)
			}
		}
	}
	return codes, nil
}
