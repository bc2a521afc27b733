package notifications

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightalert/internal/types"
)

func testLot() *types.LotInfo {
	variety := "Santina"
	return &types.LotInfo{
		LotID:       5,
		LotName:     "Lote 5",
		SectorID:    2,
		SectorName:  "Sector Norte",
		FarmID:      "F01",
		FarmName:    "Fundo El Alba",
		VarietyID:   int64Ptr(7),
		VarietyName: &variety,
	}
}

func TestRenderAlertEmail_Critical(t *testing.T) {
	alert := &types.Alert{
		ID:        1,
		LotID:     5,
		LightPct:  18.256,
		Class:     types.ClassCriticalRed,
		Severity:  types.SeverityCritical,
		CreatedAt: time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC),
	}
	rule := &types.ThresholdRule{ID: 1, Description: "Luz insuficiente para cuaja"}

	email, err := RenderAlertEmail(alert, testLot(), rule)
	require.NoError(t, err)

	assert.Equal(t, "🚨 Alerta Crítica - Lote Lote 5 (18.26% luz)", email.Subject)
	assert.Contains(t, email.BodyHTML, "Alerta Crítica")
	assert.Contains(t, email.BodyHTML, "Luz insuficiente para cuaja")
	assert.Contains(t, email.BodyHTML, "Fundo El Alba")
	assert.Contains(t, email.BodyHTML, "Santina")
	assert.Contains(t, email.BodyHTML, "18.26%")
	assert.Contains(t, email.BodyHTML, "#dc2626")
	assert.Contains(t, email.BodyText, "Lote: Lote 5")
	assert.Contains(t, email.BodyText, "Severidad: Critica")
}

func TestRenderAlertEmail_WarningWithoutRuleOrVariety(t *testing.T) {
	alert := &types.Alert{
		ID:        2,
		LightPct:  42.0,
		Class:     types.ClassCriticalYellow,
		Severity:  types.SeverityWarning,
		CreatedAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}
	lot := testLot()
	lot.VarietyID = nil
	lot.VarietyName = nil

	email, err := RenderAlertEmail(alert, lot, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(email.Subject, "⚠️ Advertencia"))
	// Description falls back to the classification.
	assert.Contains(t, email.BodyHTML, "CriticoAmarillo")
	assert.NotContains(t, email.BodyHTML, "Variedad:")
	assert.Contains(t, email.BodyHTML, "#f59e0b")
}

func TestRenderAlertEmail_EscapesUserContent(t *testing.T) {
	alert := &types.Alert{
		Class:     types.ClassCriticalRed,
		Severity:  types.SeverityCritical,
		LightPct:  10,
		CreatedAt: time.Now().UTC(),
	}
	lot := testLot()
	lot.LotName = `<script>alert("x")</script>`

	email, err := RenderAlertEmail(alert, lot, nil)
	require.NoError(t, err)
	assert.NotContains(t, email.BodyHTML, "<script>")
}

func TestRenderConsolidatedEmail_MixedClasses(t *testing.T) {
	farm := "F01"
	created := time.Date(2026, 8, 21, 8, 0, 0, 0, time.UTC)
	items := []ConsolidatedItem{
		{
			Alert: &types.UnmessagedAlert{
				Alert:  types.Alert{ID: 1, LightPct: 12.5, Class: types.ClassCriticalRed, Severity: types.SeverityCritical, CreatedAt: created},
				FarmID: &farm,
			},
			Lot: testLot(),
		},
		{
			Alert: &types.UnmessagedAlert{
				Alert:  types.Alert{ID: 2, LightPct: 44.0, Class: types.ClassCriticalYellow, Severity: types.SeverityWarning, CreatedAt: created},
				FarmID: &farm,
			},
			Lot: nil, // lot no longer resolves, row renders with N/A
		},
	}

	email, err := RenderConsolidatedEmail("Fundo El Alba", items)
	require.NoError(t, err)

	assert.Equal(t, "🚨 1 Alerta(s) Crítica(s) en Fundo Fundo El Alba - 2 lote(s) afectado(s)", email.Subject)
	assert.Contains(t, email.BodyHTML, "Resumen de Alertas - Fundo: Fundo El Alba")
	assert.Contains(t, email.BodyHTML, "🚨 Crítica")
	assert.Contains(t, email.BodyHTML, "⚠️ Advertencia")
	assert.Contains(t, email.BodyHTML, "N/A")
	assert.Contains(t, email.BodyText, "Total de alertas: 2")
	assert.Contains(t, email.BodyText, "Críticas: 1 | Advertencias: 1")
}

func TestRenderConsolidatedEmail_WarningsOnlySubject(t *testing.T) {
	farm := "F02"
	items := []ConsolidatedItem{
		{
			Alert: &types.UnmessagedAlert{
				Alert:  types.Alert{ID: 3, LightPct: 35, Class: types.ClassCriticalYellow, Severity: types.SeverityWarning, CreatedAt: time.Now().UTC()},
				FarmID: &farm,
			},
			Lot: testLot(),
		},
	}

	email, err := RenderConsolidatedEmail("Fundo Sur", items)
	require.NoError(t, err)
	assert.Equal(t, "⚠️ 1 Advertencia(s) en Fundo Fundo Sur - 1 lote(s) afectado(s)", email.Subject)
}
