// Package notifications turns alerts into outbound messages: resolving who
// receives them, rendering the email bodies, and consolidating pending
// alerts into per-farm or per-alert messages.
package notifications

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"lightalert/internal/types"
)

// alertEmailView is the data model for single-alert emails.
type alertEmailView struct {
	Emoji       string
	Title       string
	Background  string
	Border      string
	Description string
	LotName     string
	SectorName  string
	FarmName    string
	VarietyName string
	LightPct    string
	Class       string
	Severity    string
	CreatedAt   string
}

// consolidatedRow is one alert line inside a consolidated email.
type consolidatedRow struct {
	LotName    string
	SectorName string
	TypeLabel  string
	Critical   bool
	LightPct   string
	Severity   string
	CreatedAt  string
}

// consolidatedEmailView is the data model for per-farm summary emails.
type consolidatedEmailView struct {
	FarmName string
	Total    int
	Critical int
	Warnings int
	Rows     []consolidatedRow
}

var alertHTMLTmpl = htmltemplate.Must(htmltemplate.New("alert").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .alert-box { background-color: {{.Background}}; border-left: 4px solid {{.Border}}; padding: 15px; margin: 20px 0; border-radius: 4px; }
    .info-row { margin: 10px 0; }
    .label { font-weight: bold; display: inline-block; width: 150px; }
    .value { display: inline-block; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #ddd; font-size: 12px; color: #666; }
  </style>
</head>
<body>
  <div class="container">
    <h2>{{.Emoji}} {{.Title}} - Evaluación de Luz</h2>
    <div class="alert-box">
      <p><strong>Descripción:</strong> {{.Description}}</p>
    </div>
    <div class="info-row"><span class="label">Lote:</span><span class="value">{{.LotName}}</span></div>
    <div class="info-row"><span class="label">Sector:</span><span class="value">{{.SectorName}}</span></div>
    <div class="info-row"><span class="label">Fundo:</span><span class="value">{{.FarmName}}</span></div>
    {{if .VarietyName}}<div class="info-row"><span class="label">Variedad:</span><span class="value">{{.VarietyName}}</span></div>{{end}}
    <div class="info-row"><span class="label">Porcentaje de Luz:</span><span class="value"><strong>{{.LightPct}}%</strong></span></div>
    <div class="info-row"><span class="label">Tipo de Umbral:</span><span class="value">{{.Class}}</span></div>
    <div class="info-row"><span class="label">Severidad:</span><span class="value">{{.Severity}}</span></div>
    <div class="info-row"><span class="label">Fecha de Evaluación:</span><span class="value">{{.CreatedAt}}</span></div>
    <div class="footer">
      <p>Este es un mensaje automático del sistema de alertas de evaluación de luz.</p>
      <p>Por favor, revisa el lote y toma las acciones necesarias.</p>
    </div>
  </div>
</body>
</html>`))

var alertTextTmpl = texttemplate.Must(texttemplate.New("alert_text").Parse(`{{.Emoji}} {{.Title}} - Evaluación de Luz

Descripción: {{.Description}}

Lote: {{.LotName}}
Sector: {{.SectorName}}
Fundo: {{.FarmName}}
{{if .VarietyName}}Variedad: {{.VarietyName}}
{{end}}Porcentaje de Luz: {{.LightPct}}%
Tipo de Umbral: {{.Class}}
Severidad: {{.Severity}}
Fecha de Evaluación: {{.CreatedAt}}

Este es un mensaje automático del sistema de alertas de evaluación de luz.
Por favor, revisa el lote y toma las acciones necesarias.`))

var consolidatedHTMLTmpl = htmltemplate.Must(htmltemplate.New("consolidated").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 800px; margin: 0 auto; padding: 20px; }
    .header { background-color: #f3f4f6; padding: 20px; border-radius: 8px; margin-bottom: 20px; }
    .alert-table { width: 100%; border-collapse: collapse; margin: 20px 0; }
    .alert-table th, .alert-table td { padding: 12px; text-align: left; border-bottom: 1px solid #ddd; }
    .alert-table th { background-color: #f9fafb; font-weight: bold; }
    .critica { color: #dc2626; font-weight: bold; }
    .advertencia { color: #f59e0b; font-weight: bold; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #ddd; font-size: 12px; color: #666; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h2>🚨 Resumen de Alertas - Fundo: {{.FarmName}}</h2>
      <p><strong>Total de alertas:</strong> {{.Total}}</p>
      <p><strong>Críticas:</strong> <span class="critica">{{.Critical}}</span> |
         <strong>Advertencias:</strong> <span class="advertencia">{{.Warnings}}</span></p>
    </div>
    <table class="alert-table">
      <thead>
        <tr><th>Lote</th><th>Sector</th><th>Tipo</th><th>% Luz</th><th>Severidad</th><th>Fecha</th></tr>
      </thead>
      <tbody>
        {{range .Rows}}<tr>
          <td>{{.LotName}}</td>
          <td>{{.SectorName}}</td>
          <td class="{{if .Critical}}critica{{else}}advertencia{{end}}">{{.TypeLabel}}</td>
          <td><strong>{{.LightPct}}%</strong></td>
          <td>{{.Severity}}</td>
          <td>{{.CreatedAt}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    <div class="footer">
      <p>Este es un mensaje automático consolidado del sistema de alertas de evaluación de luz.</p>
      <p>Por favor, revisa los lotes afectados y toma las acciones necesarias.</p>
    </div>
  </div>
</body>
</html>`))

var consolidatedTextTmpl = texttemplate.Must(texttemplate.New("consolidated_text").Parse(`🚨 Resumen de Alertas - Fundo: {{.FarmName}}

Total de alertas: {{.Total}}
Críticas: {{.Critical}} | Advertencias: {{.Warnings}}

Detalle por lote:
================================================================================

{{range .Rows}}Lote: {{.LotName}}
Sector: {{.SectorName}}
Tipo: {{.TypeLabel}}
% Luz: {{.LightPct}}%
Severidad: {{.Severity}}
Fecha: {{.CreatedAt}}
--------------------------------------------------------------------------------

{{end}}
Este es un mensaje automático consolidado del sistema de alertas de evaluación de luz.
Por favor, revisa los lotes afectados y toma las acciones necesarias.`))

// RenderedEmail is a fully rendered outbound email.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// ConsolidatedItem pairs an alert with its resolved lot info for rendering.
// LotInfo may be nil when the lot no longer resolves; the row then renders
// with N/A placeholders instead of dropping the alert from the summary.
type ConsolidatedItem struct {
	Alert *types.UnmessagedAlert
	Lot   *types.LotInfo
}

const emailTimeLayout = "02/01/2006 15:04:05"

// RenderAlertEmail renders the single-alert email. The rule description
// falls back to the classification name when the rule carries none.
func RenderAlertEmail(alert *types.Alert, lot *types.LotInfo, rule *types.ThresholdRule) (*RenderedEmail, error) {
	critical := alert.Class == types.ClassCriticalRed
	view := alertEmailView{
		Emoji:      "⚠️",
		Title:      "Advertencia",
		Background: "#fef3c7",
		Border:     "#f59e0b",
		LotName:    lot.LotName,
		SectorName: lot.SectorName,
		FarmName:   lot.FarmName,
		LightPct:   fmt.Sprintf("%.2f", alert.LightPct),
		Class:      string(alert.Class),
		Severity:   string(alert.Severity),
		CreatedAt:  alert.CreatedAt.Format(emailTimeLayout),
	}
	if critical {
		view.Emoji = "🚨"
		view.Title = "Alerta Crítica"
		view.Background = "#fee2e2"
		view.Border = "#dc2626"
	}
	if lot.VarietyName != nil {
		view.VarietyName = *lot.VarietyName
	}
	view.Description = string(alert.Class)
	if rule != nil && rule.Description != "" {
		view.Description = rule.Description
	}

	var html strings.Builder
	if err := alertHTMLTmpl.Execute(&html, view); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render alert email html", err)
	}
	var text strings.Builder
	if err := alertTextTmpl.Execute(&text, view); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render alert email text", err)
	}

	subject := fmt.Sprintf("%s %s - Lote %s (%.2f%% luz)",
		view.Emoji, view.Title, lot.LotName, alert.LightPct)

	return &RenderedEmail{
		Subject:  subject,
		BodyHTML: html.String(),
		BodyText: text.String(),
	}, nil
}

// RenderConsolidatedEmail renders the per-farm summary email over the given
// items, which must all belong to the same farm and be ordered the way they
// should appear.
func RenderConsolidatedEmail(farmName string, items []ConsolidatedItem) (*RenderedEmail, error) {
	view := consolidatedEmailView{
		FarmName: farmName,
		Total:    len(items),
	}
	for _, item := range items {
		critical := item.Alert.Class == types.ClassCriticalRed
		if critical {
			view.Critical++
		} else {
			view.Warnings++
		}
		row := consolidatedRow{
			LotName:    "N/A",
			SectorName: "N/A",
			TypeLabel:  "⚠️ Advertencia",
			Critical:   critical,
			LightPct:   fmt.Sprintf("%.2f", item.Alert.LightPct),
			Severity:   string(item.Alert.Severity),
			CreatedAt:  item.Alert.CreatedAt.Format(emailTimeLayout),
		}
		if critical {
			row.TypeLabel = "🚨 Crítica"
		}
		if item.Lot != nil {
			row.LotName = item.Lot.LotName
			row.SectorName = item.Lot.SectorName
		}
		view.Rows = append(view.Rows, row)
	}

	var html strings.Builder
	if err := consolidatedHTMLTmpl.Execute(&html, view); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render consolidated email html", err)
	}
	var text strings.Builder
	if err := consolidatedTextTmpl.Execute(&text, view); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render consolidated email text", err)
	}

	var subject string
	if view.Critical > 0 {
		subject = fmt.Sprintf("🚨 %d Alerta(s) Crítica(s) en Fundo %s - %d lote(s) afectado(s)",
			view.Critical, farmName, view.Total)
	} else {
		subject = fmt.Sprintf("⚠️ %d Advertencia(s) en Fundo %s - %d lote(s) afectado(s)",
			view.Warnings, farmName, view.Total)
	}

	return &RenderedEmail{
		Subject:  subject,
		BodyHTML: html.String(),
		BodyText: text.String(),
	}, nil
}
