package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lightalert/internal/types"
)

// AlertRepository provides data access for the alerts table. Farm-scoped
// queries join through lots and sectors since alerts only carry a lot id.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an AlertRepository backed by the given database
// connection (pool or transaction).
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `a.id, a.lot_id, a.evaluation_id, a.rule_id, a.variety_id,
	a.light_pct, a.classification, a.severity, a.state, a.created_at,
	a.sent_at, a.resolved_at, a.resolved_by, a.notes, a.message_id`

// Create inserts a new alert in Pendiente state and populates its ID and
// CreatedAt.
func (r *AlertRepository) Create(ctx context.Context, a *types.Alert) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO alerts
		 (lot_id, evaluation_id, rule_id, variety_id, light_pct,
		  classification, severity, state, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		a.LotID,
		a.EvaluationID,
		a.RuleID,
		a.VarietyID,
		a.LightPct,
		string(a.Class),
		string(a.Severity),
		string(a.State),
		a.Notes,
	)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicate,
				"an alert already exists for this evaluation", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create alert", err)
	}
	return nil
}

// GetByID retrieves a single alert.
func (r *AlertRepository) GetByID(ctx context.Context, id int64) (*types.Alert, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts a WHERE a.id = $1`,
		id,
	)
	a, err := scanAlertFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get alert", err)
	}
	return a, nil
}

// List retrieves alerts matching the filter, newest first, along with the
// total count for pagination.
func (r *AlertRepository) List(ctx context.Context, filter types.AlertFilter) ([]*types.Alert, int, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("a.state = $%d", argIdx))
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.Class != "" {
		conditions = append(conditions, fmt.Sprintf("a.classification = $%d", argIdx))
		args = append(args, string(filter.Class))
		argIdx++
	}
	if filter.FarmID != "" {
		conditions = append(conditions, fmt.Sprintf(
			`a.lot_id IN (
				SELECT l.id FROM lots l
				JOIN sectors s ON l.sector_id = s.id
				WHERE s.farm_id = $%d
			)`, argIdx))
		args = append(args, filter.FarmID)
		argIdx++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.created_at >= $%d", argIdx))
		args = append(args, filter.From)
		argIdx++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.created_at < $%d", argIdx))
		args = append(args, filter.To)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countRow := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM alerts a %s`, whereClause),
		args...,
	)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count alerts", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := fmt.Sprintf(
		`SELECT %s FROM alerts a %s ORDER BY a.created_at DESC, a.id DESC LIMIT $%d OFFSET $%d`,
		alertColumns, whereClause, argIdx, argIdx+1,
	)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list alerts", err)
	}
	defer rows.Close()

	var results []*types.Alert
	for rows.Next() {
		a, scanErr := scanAlertFromRow(rows)
		if scanErr != nil {
			return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert row", scanErr)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rows", err)
	}

	return results, total, nil
}

// Stats aggregates alert counts by state, classification, and severity, plus
// the count created in the last 24 hours.
func (r *AlertRepository) Stats(ctx context.Context) (*types.AlertStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT state, classification, severity, COUNT(*),
		        COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours')
		 FROM alerts
		 GROUP BY state, classification, severity`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate alert stats", err)
	}
	defer rows.Close()

	stats := &types.AlertStats{
		ByState:    make(map[types.AlertState]int),
		ByClass:    make(map[types.Classification]int),
		BySeverity: make(map[types.Severity]int),
	}
	for rows.Next() {
		var (
			state    string
			class    string
			severity string
			count    int
			recent   int
		)
		if err := rows.Scan(&state, &class, &severity, &count, &recent); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert stats row", err)
		}
		stats.ByState[types.AlertState(state)] += count
		stats.ByClass[types.Classification(class)] += count
		stats.BySeverity[types.Severity(severity)] += count
		stats.Last24h += recent
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert stats rows", err)
	}
	return stats, nil
}

// UpdateState transitions an alert from fromState to toState, recording who
// closed it and any notes. The fromState guard makes the update atomic: zero
// rows affected means the alert moved concurrently (or does not exist), and
// the caller distinguishes the two.
func (r *AlertRepository) UpdateState(ctx context.Context, id int64, fromState, toState types.AlertState, resolvedBy *int64, notes string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts SET
			state = $1,
			resolved_at = CASE WHEN $1 IN ('Resuelta', 'Ignorada') THEN NOW() ELSE resolved_at END,
			resolved_by = COALESCE($2, resolved_by),
			notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END
		 WHERE id = $4 AND state = $5`,
		string(toState),
		resolvedBy,
		notes,
		id,
		string(fromState),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update alert state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTransition, "alert state changed concurrently", nil)
	}
	return nil
}

// ListUnmessaged retrieves alerts without a linked message created since the
// given cutoff, joined with their location columns for grouping. Pendiente
// and Enviada both qualify: an Enviada alert with no message means the data
// was repaired by hand and still needs consolidation. Alerts whose lot no
// longer resolves come back with nil FarmID so the caller can skip and log
// them instead of failing the batch.
func (r *AlertRepository) ListUnmessaged(ctx context.Context, since time.Time) ([]*types.UnmessagedAlert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+alertColumns+`, s.farm_id, l.sector_id
		 FROM alerts a
		 LEFT JOIN lots l ON a.lot_id = l.id
		 LEFT JOIN sectors s ON l.sector_id = s.id
		 WHERE a.state IN ('Pendiente', 'Enviada')
		   AND a.message_id IS NULL
		   AND a.created_at >= $1
		 ORDER BY a.created_at, a.id`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unmessaged alerts", err)
	}
	defer rows.Close()

	var results []*types.UnmessagedAlert
	for rows.Next() {
		var (
			ua    types.UnmessagedAlert
			class string
			sev   string
			state string
		)
		err := rows.Scan(
			&ua.ID,
			&ua.LotID,
			&ua.EvaluationID,
			&ua.RuleID,
			&ua.VarietyID,
			&ua.LightPct,
			&class,
			&sev,
			&state,
			&ua.CreatedAt,
			&ua.SentAt,
			&ua.ResolvedAt,
			&ua.ResolvedBy,
			&ua.Notes,
			&ua.MessageID,
			&ua.FarmID,
			&ua.SectorID,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan unmessaged alert row", err)
		}
		ua.Class = types.Classification(class)
		ua.Severity = types.Severity(sev)
		ua.State = types.AlertState(state)
		results = append(results, &ua)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating unmessaged alert rows", err)
	}
	return results, nil
}

// AssignMessage links a set of alerts to a freshly created message. The
// message_id IS NULL guard means an alert already claimed by a concurrent
// run is silently left out; the returned count tells the caller how many
// alerts were actually linked.
func (r *AlertRepository) AssignMessage(ctx context.Context, alertIDs []int64, messageID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts SET message_id = $1
		 WHERE id = ANY($2) AND message_id IS NULL`,
		messageID,
		alertIDs,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to assign alerts to message", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSentByMessage moves every Pendiente alert linked to the message into
// Enviada when the message delivery succeeds.
func (r *AlertRepository) MarkSentByMessage(ctx context.Context, messageID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE alerts SET state = 'Enviada', sent_at = NOW()
		 WHERE message_id = $1 AND state = 'Pendiente'`,
		messageID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark alerts sent", err)
	}
	return nil
}

// ListByMessage retrieves the alerts linked to a message, oldest first.
func (r *AlertRepository) ListByMessage(ctx context.Context, messageID int64) ([]*types.Alert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts a
		 WHERE a.message_id = $1
		 ORDER BY a.created_at, a.id`,
		messageID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alerts for message", err)
	}
	defer rows.Close()

	var results []*types.Alert
	for rows.Next() {
		a, scanErr := scanAlertFromRow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert row", scanErr)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rows", err)
	}
	return results, nil
}

// scanAlertFromRow scans an alerts row from either a pgx.Row or a pgx.Rows
// positioned on a row.
func scanAlertFromRow(row pgx.Row) (*types.Alert, error) {
	var (
		a     types.Alert
		class string
		sev   string
		state string
	)
	err := row.Scan(
		&a.ID,
		&a.LotID,
		&a.EvaluationID,
		&a.RuleID,
		&a.VarietyID,
		&a.LightPct,
		&class,
		&sev,
		&state,
		&a.CreatedAt,
		&a.SentAt,
		&a.ResolvedAt,
		&a.ResolvedBy,
		&a.Notes,
		&a.MessageID,
	)
	if err != nil {
		return nil, err
	}
	a.Class = types.Classification(class)
	a.Severity = types.Severity(sev)
	a.State = types.AlertState(state)
	return &a, nil
}
