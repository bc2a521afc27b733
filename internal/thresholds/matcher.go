// Package thresholds implements classification of light-percentage readings
// against the threshold rule catalog. The matcher is a pure structure built
// from an immutable snapshot of active rules, so a whole evaluation batch
// classifies against one consistent catalog even if rules change mid-run.
package thresholds

import (
	"sort"

	"lightalert/internal/types"
)

// Matcher classifies light percentages against a fixed rule snapshot.
// Variety-scoped rules always take precedence over global rules; inside a
// scope, overlapping ranges resolve to the lowest orden, then lowest id.
type Matcher struct {
	byVariety map[int64][]*types.ThresholdRule
	global    []*types.ThresholdRule
}

// NewMatcher builds a Matcher from a snapshot of active rules. The input
// slice is not retained; order of the input does not matter.
func NewMatcher(rules []*types.ThresholdRule) *Matcher {
	m := &Matcher{
		byVariety: make(map[int64][]*types.ThresholdRule),
	}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if r.VarietyID != nil {
			m.byVariety[*r.VarietyID] = append(m.byVariety[*r.VarietyID], r)
		} else {
			m.global = append(m.global, r)
		}
	}
	sortRules(m.global)
	for _, scoped := range m.byVariety {
		sortRules(scoped)
	}
	return m
}

// Match returns the rule classifying pct for the given variety. A nil
// varietyID, or a variety with no scoped rules covering pct, falls back to
// the global rules. The boolean is false when no rule covers pct; the
// reading then produces no alert and the gap is the caller's to log.
func (m *Matcher) Match(varietyID *int64, pct float64) (*types.ThresholdRule, bool) {
	if varietyID != nil {
		if r := firstContaining(m.byVariety[*varietyID], pct); r != nil {
			return r, true
		}
	}
	if r := firstContaining(m.global, pct); r != nil {
		return r, true
	}
	return nil, false
}

// firstContaining returns the first rule whose range covers pct. Rules are
// pre-sorted, so first hit is the winner.
func firstContaining(rules []*types.ThresholdRule, pct float64) *types.ThresholdRule {
	for _, r := range rules {
		if r.Contains(pct) {
			return r
		}
	}
	return nil
}

func sortRules(rules []*types.ThresholdRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Orden != rules[j].Orden {
			return rules[i].Orden < rules[j].Orden
		}
		return rules[i].ID < rules[j].ID
	})
}

// ValidateRange checks a rule's range before persistence: MinPct must be
// strictly below MaxPct and both must stay within [0, 100].
func ValidateRange(minPct, maxPct float64) error {
	if minPct < 0 || maxPct > 100 || minPct >= maxPct {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidRange,
			"threshold range must satisfy 0 <= min < max <= 100",
			nil,
			map[string]any{"min_pct": minPct, "max_pct": maxPct},
		)
	}
	return nil
}
