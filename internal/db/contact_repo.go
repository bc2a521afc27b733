package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lightalert/internal/types"
)

// ContactRepository provides data access for the contacts table. Contacts
// are soft-deleted via the active flag so past messages keep resolvable
// recipient history.
type ContactRepository struct {
	db DBTX
}

// NewContactRepository creates a ContactRepository backed by the given
// database connection (pool or transaction).
func NewContactRepository(db DBTX) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, name, email, phone, role,
	receive_critical, receive_warning, receive_normal,
	farm_id, sector_id, priority, active, created_at, updated_at`

// Create inserts a new contact and populates its ID and CreatedAt.
func (r *ContactRepository) Create(ctx context.Context, c *types.Contact) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO contacts
		 (name, email, phone, role, receive_critical, receive_warning,
		  receive_normal, farm_id, sector_id, priority, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		c.Name,
		c.Email,
		c.Phone,
		c.Role,
		c.ReceiveCritical,
		c.ReceiveWarning,
		c.ReceiveNormal,
		c.FarmID,
		c.SectorID,
		c.Priority,
		c.Active,
	)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create contact", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing contact.
func (r *ContactRepository) Update(ctx context.Context, c *types.Contact) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contacts SET
			name = $1,
			email = $2,
			phone = $3,
			role = $4,
			receive_critical = $5,
			receive_warning = $6,
			receive_normal = $7,
			farm_id = $8,
			sector_id = $9,
			priority = $10,
			active = $11,
			updated_at = NOW()
		 WHERE id = $12`,
		c.Name,
		c.Email,
		c.Phone,
		c.Role,
		c.ReceiveCritical,
		c.ReceiveWarning,
		c.ReceiveNormal,
		c.FarmID,
		c.SectorID,
		c.Priority,
		c.Active,
		c.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update contact", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundContact, "contact not found", nil)
	}
	return nil
}

// Deactivate soft-deletes a contact.
func (r *ContactRepository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contacts SET active = FALSE, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate contact", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundContact, "contact not found", nil)
	}
	return nil
}

// GetByID retrieves a single contact, active or not.
func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*types.Contact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`,
		id,
	)
	c, err := scanContactFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContact, "contact not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get contact", err)
	}
	return c, nil
}

// ListActive retrieves every active contact ordered by priority descending
// then name. This is the snapshot the recipient resolver operates on; the
// ordering fixes recipient order inside a message.
func (r *ContactRepository) ListActive(ctx context.Context) ([]*types.Contact, error) {
	return r.list(ctx, `WHERE active = TRUE`)
}

// List retrieves all contacts, including deactivated ones, for the admin
// view.
func (r *ContactRepository) List(ctx context.Context) ([]*types.Contact, error) {
	return r.list(ctx, "")
}

func (r *ContactRepository) list(ctx context.Context, whereClause string) ([]*types.Contact, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts `+whereClause+`
		 ORDER BY priority DESC, name ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list contacts", err)
	}
	defer rows.Close()

	var results []*types.Contact
	for rows.Next() {
		c, scanErr := scanContactFromRow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan contact row", scanErr)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating contact rows", err)
	}
	return results, nil
}

// scanContactFromRow scans a contacts row from either a pgx.Row or a
// pgx.Rows positioned on a row.
func scanContactFromRow(row pgx.Row) (*types.Contact, error) {
	var c types.Contact
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.Role,
		&c.ReceiveCritical,
		&c.ReceiveWarning,
		&c.ReceiveNormal,
		&c.FarmID,
		&c.SectorID,
		&c.Priority,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
