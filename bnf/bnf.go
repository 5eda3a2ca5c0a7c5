/*
Package bnf resolves British National Formulary code fragments into the
canonical prefixes the matrix store matches against.

PURPOSE:
  Users search by BNF id ("0202010B0") or by the printed section number
  ("2.2.1", "2"). Everything downstream only understands ids, and every
  id in one query must describe the same level of the hierarchy.

HIERARCHY (id length):
    chapter       2   "02"
    section       4   "0202"
    paragraph     6   "020201"
    chemical      9   "0202010B0"
    product      11   "0202010B0AA"
    presentation 15   "0202010B0AAABAB"

SEE ALSO:
  - matrixstore/snapshot.go: QueryOne matches the resolved prefixes
  - store/sqlite/orgs.go: Section reference table
*/
package bnf

import (
	"context"
	"strconv"
	"strings"

	"github.com/warp/prescribing-engine/core"
)

// Granularity is a level of the BNF hierarchy, identified by id length.
type Granularity int

const (
	Chapter      Granularity = 2
	Section      Granularity = 4
	Paragraph    Granularity = 6
	Chemical     Granularity = 9
	Product      Granularity = 11
	Presentation Granularity = 15
)

func (g Granularity) String() string {
	switch g {
	case Chapter:
		return "chapter"
	case Section:
		return "section"
	case Paragraph:
		return "paragraph"
	case Chemical:
		return "chemical"
	case Product:
		return "product"
	case Presentation:
		return "presentation"
	default:
		return "length " + strconv.Itoa(int(g))
	}
}

// SectionRecord is a row of the section reference table.
type SectionRecord struct {
	BNFID     string
	Name      string
	Number    string // printed form, see NumberStr
	Chapter   int
	Section   int // 0 when the record is a chapter
	Paragraph int
	IsCurrent bool
}

// SectionLookup finds a section by its printed number ("2.2.1", "2").
// A missing section is a core.NotFoundError.
type SectionLookup interface {
	SectionByNumber(ctx context.Context, number string) (*SectionRecord, error)
}

// NumberStr renders a section id the way the BNF prints it:
// "090101" -> "9.1.1", "1202" -> "12.2", "2315" -> "23.15".
func NumberStr(bnfID string) string {
	parts := make([]string, 0, 4)
	for i := 0; i < 8 && i < len(bnfID); i += 2 {
		if part := stripZeros(bnfID[i:min(i+2, len(bnfID))]); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ".")
}

func stripZeros(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil || n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// Resolver turns user-supplied code fragments into BNF id prefixes.
type Resolver struct {
	sections SectionLookup
}

func NewResolver(sections SectionLookup) *Resolver {
	return &Resolver{sections: sections}
}

// Resolve converts number strings through the section table and passes
// ids of three or more characters through unchanged. The resolved codes
// must all be the same length; an empty input resolves to nil (match all).
func (r *Resolver) Resolve(ctx context.Context, codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		id, err := r.resolveOne(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := CheckSameLength(out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, code string) (string, error) {
	var number string
	switch {
	case strings.Contains(code, "."):
		number = code
	case len(code) < 3:
		// bare chapter: "2" and "02" both mean chapter 2
		n, err := strconv.Atoi(code)
		if err != nil {
			return "", core.NotFound("section", code)
		}
		number = strconv.Itoa(n)
	default:
		return strings.ToUpper(code), nil
	}

	if r.sections == nil {
		return "", core.NotFound("section", code)
	}
	sec, err := r.sections.SectionByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	return sec.BNFID, nil
}

// CheckSameLength rejects code lists that mix hierarchy levels.
func CheckSameLength(codes []string) error {
	for _, c := range codes[min(1, len(codes)):] {
		if len(c) != len(codes[0]) {
			return core.ErrMixedCodeLengths
		}
	}
	return nil
}

// SplitParam splits a comma separated query parameter, dropping empties.
func SplitParam(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
