package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lightalert/internal/types"
)

// ThresholdRepository provides data access for the threshold_rules table.
// Rules are soft-deleted via the active flag so historical alerts keep a
// valid rule reference.
type ThresholdRepository struct {
	db DBTX
}

// NewThresholdRepository creates a ThresholdRepository backed by the given
// database connection (pool or transaction).
func NewThresholdRepository(db DBTX) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

const thresholdColumns = `id, variety_id, classification, min_pct, max_pct,
	description, color_hex, orden, active, created_at, updated_at`

// Create inserts a new threshold rule and populates its ID and CreatedAt.
func (r *ThresholdRepository) Create(ctx context.Context, rule *types.ThresholdRule) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO threshold_rules
		 (variety_id, classification, min_pct, max_pct, description, color_hex, orden, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		rule.VarietyID,
		string(rule.Class),
		rule.MinPct,
		rule.MaxPct,
		rule.Description,
		rule.ColorHex,
		rule.Orden,
		rule.Active,
	)
	if err := row.Scan(&rule.ID, &rule.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create threshold rule", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing rule.
func (r *ThresholdRepository) Update(ctx context.Context, rule *types.ThresholdRule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE threshold_rules SET
			variety_id = $1,
			classification = $2,
			min_pct = $3,
			max_pct = $4,
			description = $5,
			color_hex = $6,
			orden = $7,
			active = $8,
			updated_at = NOW()
		 WHERE id = $9`,
		rule.VarietyID,
		string(rule.Class),
		rule.MinPct,
		rule.MaxPct,
		rule.Description,
		rule.ColorHex,
		rule.Orden,
		rule.Active,
		rule.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update threshold rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundThreshold, "threshold rule not found", nil)
	}
	return nil
}

// Deactivate soft-deletes a rule. Existing alerts keep pointing at it.
func (r *ThresholdRepository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE threshold_rules SET active = FALSE, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate threshold rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundThreshold, "threshold rule not found", nil)
	}
	return nil
}

// GetByID retrieves a single rule, active or not.
func (r *ThresholdRepository) GetByID(ctx context.Context, id int64) (*types.ThresholdRule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+thresholdColumns+` FROM threshold_rules WHERE id = $1`,
		id,
	)
	rule, err := scanThresholdFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundThreshold, "threshold rule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get threshold rule", err)
	}
	return rule, nil
}

// ListActive retrieves every active rule ordered by orden then id. This is
// the snapshot the matcher operates on; the ordering makes overlap
// resolution deterministic.
func (r *ThresholdRepository) ListActive(ctx context.Context) ([]*types.ThresholdRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+thresholdColumns+`
		 FROM threshold_rules
		 WHERE active = TRUE
		 ORDER BY orden, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list threshold rules", err)
	}
	defer rows.Close()

	var results []*types.ThresholdRule
	for rows.Next() {
		rule, scanErr := scanThresholdFromRow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan threshold rule row", scanErr)
		}
		results = append(results, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating threshold rule rows", err)
	}
	return results, nil
}

// List retrieves all rules, including deactivated ones, for the admin view.
func (r *ThresholdRepository) List(ctx context.Context) ([]*types.ThresholdRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+thresholdColumns+`
		 FROM threshold_rules
		 ORDER BY active DESC, orden, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list threshold rules", err)
	}
	defer rows.Close()

	var results []*types.ThresholdRule
	for rows.Next() {
		rule, scanErr := scanThresholdFromRow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan threshold rule row", scanErr)
		}
		results = append(results, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating threshold rule rows", err)
	}
	return results, nil
}

// scanThresholdFromRow scans a threshold_rules row from either a pgx.Row or
// a pgx.Rows positioned on a row.
func scanThresholdFromRow(row pgx.Row) (*types.ThresholdRule, error) {
	var (
		rule  types.ThresholdRule
		class string
	)
	err := row.Scan(
		&rule.ID,
		&rule.VarietyID,
		&class,
		&rule.MinPct,
		&rule.MaxPct,
		&rule.Description,
		&rule.ColorHex,
		&rule.Orden,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Class = types.Classification(class)
	return &rule, nil
}
