package concessions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	multiSpace  = regexp.MustCompile(` +`)
	slashSpaces = regexp.MustCompile(` */ *`)
	spacedUnit  = regexp.MustCompile(`(\d) (ml|mg|g|gram|microgram|litre|dose|unit)\b`)
)

// RegulariseName normalises a published concession name ("drug pack size")
// so it can be compared with dm+d pack names.
func RegulariseName(name string) string {
	name = strings.ReplaceAll(name, "\u00a0", "")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "micrograms", "microgram")
	name = slashSpaces.ReplaceAllString(name, "/")
	name = spacedUnit.ReplaceAllString(name, "$1$2")
	return name
}

// regularisePackName prepares a dm+d pack name for comparison.
func regularisePackName(name string) string {
	return slashSpaces.ReplaceAllString(strings.ToLower(name), "/")
}

// NamesMatch reports whether a regularised concession name describes the
// pack: equal, or a prefix followed by a space.
func NamesMatch(concessionName, packName string) bool {
	pack := regularisePackName(packName)
	return pack == concessionName || strings.HasPrefix(pack, concessionName+" ")
}

func concessionName(c Concession) string {
	return RegulariseName(c.Drug + " " + c.PackSize)
}

// MatchResult reports what MatchUnmatched did.
type MatchResult struct {
	Matched   int
	Ambiguous []Concession
	Unmatched []Concession
}

// MatchUnmatched sets the pack of every unmatched concession whose name
// matches exactly one pack. Ambiguous and unknown names are left alone and
// reported.
func MatchUnmatched(ctx context.Context, store MatchStore) (*MatchResult, error) {
	concessions, err := store.ListConcessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list concessions: %w", err)
	}
	packs, err := store.ListVMPPs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vmpps: %w", err)
	}

	res := &MatchResult{}
	for _, c := range concessions {
		if c.IsMatched() {
			continue
		}
		name := concessionName(c)
		var found []int64
		for _, p := range packs {
			if NamesMatch(name, p.Name) {
				found = append(found, p.ID)
			}
		}
		switch len(found) {
		case 0:
			res.Unmatched = append(res.Unmatched, c)
		case 1:
			if err := store.SetConcessionVMPP(ctx, c.ID, found[0]); err != nil {
				return nil, fmt.Errorf("match concession %d: %w", c.ID, err)
			}
			res.Matched++
		default:
			res.Ambiguous = append(res.Ambiguous, c)
		}
	}
	return res, nil
}

// Mismatch is a matched concession whose name disagrees with its pack.
type Mismatch struct {
	Drug     string `json:"drug"`
	PackSize string `json:"pack_size"`
	VMPPID   int64  `json:"vmpp_id"`
	VMPPName string `json:"vmpp_name"`
	Count    int    `json:"count"`
}

// MismatchReport lists matched concessions whose regularised name does not
// match their pack, counted and sorted.
func MismatchReport(ctx context.Context, store MatchStore) ([]Mismatch, error) {
	concessions, err := store.ListConcessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list concessions: %w", err)
	}
	packs, err := store.ListVMPPs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vmpps: %w", err)
	}
	byID := make(map[int64]VMPP, len(packs))
	for _, p := range packs {
		byID[p.ID] = p
	}

	type key struct {
		drug, packSize string
		vmppID         int64
		vmppName       string
	}
	counts := make(map[key]int)
	for _, c := range concessions {
		if !c.IsMatched() {
			continue
		}
		pack, ok := byID[*c.VMPPID]
		if !ok || NamesMatch(concessionName(c), pack.Name) {
			continue
		}
		counts[key{strings.ReplaceAll(c.Drug, "\u00a0", ""), c.PackSize, pack.ID, pack.Name}]++
	}

	out := make([]Mismatch, 0, len(counts))
	for k, n := range counts {
		out = append(out, Mismatch{Drug: k.drug, PackSize: k.packSize, VMPPID: k.vmppID, VMPPName: k.vmppName, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Drug != b.Drug {
			return a.Drug < b.Drug
		}
		if a.PackSize != b.PackSize {
			return a.PackSize < b.PackSize
		}
		return a.VMPPID < b.VMPPID
	})
	return out, nil
}
