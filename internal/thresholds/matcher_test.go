package thresholds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightalert/internal/types"
)

func int64Ptr(v int64) *int64 { return &v }

func globalCatalog() []*types.ThresholdRule {
	return []*types.ThresholdRule{
		{ID: 1, Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 30, Orden: 1, Active: true},
		{ID: 2, Class: types.ClassCriticalYellow, MinPct: 30, MaxPct: 50, Orden: 2, Active: true},
		{ID: 3, Class: types.ClassNormal, MinPct: 50, MaxPct: 100, Orden: 3, Active: true},
	}
}

func TestMatcher_GlobalRules(t *testing.T) {
	m := NewMatcher(globalCatalog())

	tests := []struct {
		name      string
		pct       float64
		wantClass types.Classification
	}{
		{"deep in red band", 15.0, types.ClassCriticalRed},
		{"lower bound inclusive", 0.0, types.ClassCriticalRed},
		{"red upper bound belongs to yellow", 30.0, types.ClassCriticalYellow},
		{"yellow band", 42.5, types.ClassCriticalYellow},
		{"normal band", 75.0, types.ClassNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := m.Match(nil, tt.pct)
			require.True(t, ok)
			assert.Equal(t, tt.wantClass, rule.Class)
		})
	}
}

func TestMatcher_NoRuleCovers(t *testing.T) {
	m := NewMatcher(globalCatalog())

	// Upper bound is exclusive, so exactly 100 falls outside the catalog.
	_, ok := m.Match(nil, 100.0)
	assert.False(t, ok)

	_, ok = m.Match(nil, -1.0)
	assert.False(t, ok)
}

func TestMatcher_VarietySpecificBeatsGlobal(t *testing.T) {
	rules := append(globalCatalog(),
		// Shade-tolerant variety: red band only below 20.
		&types.ThresholdRule{ID: 10, VarietyID: int64Ptr(7), Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 20, Orden: 1, Active: true},
		&types.ThresholdRule{ID: 11, VarietyID: int64Ptr(7), Class: types.ClassNormal, MinPct: 20, MaxPct: 100, Orden: 2, Active: true},
	)
	m := NewMatcher(rules)

	rule, ok := m.Match(int64Ptr(7), 25.0)
	require.True(t, ok)
	assert.Equal(t, types.ClassNormal, rule.Class)
	assert.Equal(t, int64(11), rule.ID)

	// Same reading without the variety hits the global red band.
	rule, ok = m.Match(nil, 25.0)
	require.True(t, ok)
	assert.Equal(t, types.ClassCriticalRed, rule.Class)
}

func TestMatcher_VarietyGapFallsBackToGlobal(t *testing.T) {
	rules := append(globalCatalog(),
		&types.ThresholdRule{ID: 10, VarietyID: int64Ptr(7), Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 10, Orden: 1, Active: true},
	)
	m := NewMatcher(rules)

	// 40% is outside the variety's only rule, so the global yellow applies.
	rule, ok := m.Match(int64Ptr(7), 40.0)
	require.True(t, ok)
	assert.Nil(t, rule.VarietyID)
	assert.Equal(t, types.ClassCriticalYellow, rule.Class)
}

func TestMatcher_OverlapResolvesByOrden(t *testing.T) {
	rules := []*types.ThresholdRule{
		{ID: 1, Class: types.ClassCriticalYellow, MinPct: 20, MaxPct: 60, Orden: 5, Active: true},
		{ID: 2, Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 40, Orden: 1, Active: true},
	}
	m := NewMatcher(rules)

	// 35% is inside both ranges; the lower orden wins regardless of input order.
	rule, ok := m.Match(nil, 35.0)
	require.True(t, ok)
	assert.Equal(t, types.ClassCriticalRed, rule.Class)
}

func TestMatcher_OverlapSameOrdenResolvesByID(t *testing.T) {
	rules := []*types.ThresholdRule{
		{ID: 9, Class: types.ClassCriticalYellow, MinPct: 0, MaxPct: 50, Orden: 1, Active: true},
		{ID: 3, Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 50, Orden: 1, Active: true},
	}
	m := NewMatcher(rules)

	rule, ok := m.Match(nil, 10.0)
	require.True(t, ok)
	assert.Equal(t, int64(3), rule.ID)
}

func TestMatcher_InactiveRulesIgnored(t *testing.T) {
	rules := []*types.ThresholdRule{
		{ID: 1, Class: types.ClassCriticalRed, MinPct: 0, MaxPct: 100, Orden: 1, Active: false},
		{ID: 2, Class: types.ClassNormal, MinPct: 0, MaxPct: 100, Orden: 2, Active: true},
	}
	m := NewMatcher(rules)

	rule, ok := m.Match(nil, 50.0)
	require.True(t, ok)
	assert.Equal(t, types.ClassNormal, rule.Class)
}

func TestMatcher_Deterministic(t *testing.T) {
	m := NewMatcher(globalCatalog())

	first, ok := m.Match(nil, 29.999)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		rule, ok := m.Match(nil, 29.999)
		require.True(t, ok)
		assert.Equal(t, first.ID, rule.ID)
	}
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(0, 30))
	assert.NoError(t, ValidateRange(99, 100))

	for _, pair := range [][2]float64{{30, 30}, {50, 30}, {-5, 30}, {90, 101}} {
		err := ValidateRange(pair[0], pair[1])
		require.Error(t, err)

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeValidationInvalidRange, appErr.Code)
	}
}
