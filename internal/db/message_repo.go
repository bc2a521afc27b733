package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lightalert/internal/types"
)

// MessageRepository provides data access for the messages table. The claim
// path uses FOR UPDATE SKIP LOCKED so concurrent sender processes never
// pick up the same message, and state guards on every update make lost
// races observable instead of silent double-sends.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a MessageRepository backed by the given
// database connection (pool or transaction).
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `m.id, m.alert_id, m.farm_id, m.channel, m.subject,
	m.body_html, m.body_text, m.recipients, m.recipients_cc, m.state,
	m.created_at, m.claimed_at, m.sent_at, m.attempts,
	m.provider_message_id, m.last_error`

// Create inserts a new message in Pendiente state and populates its ID and
// CreatedAt. Recipient lists are stored as JSONB arrays.
func (r *MessageRepository) Create(ctx context.Context, m *types.Message) error {
	recipients, err := json.Marshal(m.Recipients)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode recipients", err)
	}
	cc, err := marshalOptionalList(m.RecipientsCC)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode cc recipients", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO messages
		 (alert_id, farm_id, channel, subject, body_html, body_text,
		  recipients, recipients_cc, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		m.AlertID,
		m.FarmID,
		string(m.Channel),
		m.Subject,
		m.BodyHTML,
		m.BodyText,
		recipients,
		cc,
		string(types.MessagePending),
	)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create message", err)
	}
	m.State = types.MessagePending
	return nil
}

// GetByID retrieves a single message with its full bodies.
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*types.Message, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`,
		id,
	)
	m, err := scanMessageFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMessage, "message not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get message", err)
	}
	return m, nil
}

// List retrieves message summaries matching the filter, newest first, along
// with the total count. Each summary carries the count of alerts linked to
// the message and the resolved farm name.
func (r *MessageRepository) List(ctx context.Context, filter types.MessageFilter) ([]*types.MessageSummary, int, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("m.state = $%d", argIdx))
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.FarmID != "" {
		conditions = append(conditions, fmt.Sprintf("m.farm_id = $%d", argIdx))
		args = append(args, filter.FarmID)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countRow := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM messages m %s`, whereClause),
		args...,
	)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count messages", err)
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
		`SELECT m.id, m.farm_id, f.name, m.channel, m.subject, m.state,
		        m.created_at, m.sent_at, m.attempts, m.last_error,
		        (SELECT COUNT(*) FROM alerts a WHERE a.message_id = m.id)
		 FROM messages m
		 LEFT JOIN farms f ON m.farm_id = f.id
		 %s
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $%d OFFSET $%d`,
		whereClause, argIdx, argIdx+1,
	)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list messages", err)
	}
	defer rows.Close()

	var results []*types.MessageSummary
	for rows.Next() {
		var (
			s       types.MessageSummary
			channel string
			state   string
		)
		err := rows.Scan(
			&s.ID,
			&s.FarmID,
			&s.FarmName,
			&channel,
			&s.Subject,
			&state,
			&s.CreatedAt,
			&s.SentAt,
			&s.Attempts,
			&s.LastError,
			&s.TotalAlerts,
		)
		if err != nil {
			return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message summary row", err)
		}
		s.Channel = types.ChannelType(channel)
		s.State = types.MessageState(state)
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "error iterating message rows", err)
	}

	return results, total, nil
}

// ClaimPending atomically claims up to limit Pendiente messages that still
// have attempts left, moving them to Enviando and incrementing attempts.
// FOR UPDATE SKIP LOCKED guarantees two concurrent claimers never receive
// the same message. Oldest messages are claimed first.
func (r *MessageRepository) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`UPDATE messages m SET
			state = 'Enviando',
			claimed_at = NOW(),
			attempts = m.attempts + 1
		 WHERE m.id IN (
			SELECT id FROM messages
			WHERE state = 'Pendiente' AND attempts < $2
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+messageColumns,
		limit,
		maxAttempts,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim pending messages", err)
	}
	defer rows.Close()

	var results []*types.Message
	for rows.Next() {
		m, scanErr := scanMessageFromRow(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed message row", scanErr)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed message rows", err)
	}
	return results, nil
}

// MarkSent records a successful delivery for a claimed message. The state
// guard makes zero rows affected mean the claim was lost (swept or
// requeued), not an error; the boolean tells the caller which happened.
func (r *MessageRepository) MarkSent(ctx context.Context, id int64, providerMessageID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET
			state = 'Enviado',
			sent_at = NOW(),
			provider_message_id = $1,
			last_error = NULL
		 WHERE id = $2 AND state = 'Enviando'`,
		nilIfEmpty(providerMessageID),
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark message sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a failed delivery attempt for a claimed message. When
// exhausted is true the message parks in Error for operator review;
// otherwise it returns to Pendiente for the next claim cycle.
func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, lastError string, exhausted bool) (bool, error) {
	nextState := string(types.MessagePending)
	if exhausted {
		nextState = string(types.MessageError)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET
			state = $1,
			claimed_at = NULL,
			last_error = $2
		 WHERE id = $3 AND state = 'Enviando'`,
		nextState,
		lastError,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark message failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueFailed resets every Error message back to Pendiente with a fresh
// attempt budget. Operator action, exposed through the admin API.
func (r *MessageRepository) RequeueFailed(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET
			state = 'Pendiente',
			attempts = 0,
			claimed_at = NULL,
			last_error = NULL
		 WHERE state = 'Error'`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue failed messages", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseAbandoned returns Enviando messages claimed before the cutoff to
// Pendiente. A message stuck in Enviando means a sender crashed mid-flight;
// the attempt it consumed stays counted.
func (r *MessageRepository) ReleaseAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET
			state = 'Pendiente',
			claimed_at = NULL
		 WHERE state = 'Enviando' AND claimed_at < $1`,
		claimedBefore,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to release abandoned messages", err)
	}
	return tag.RowsAffected(), nil
}

// scanMessageFromRow scans a messages row from either a pgx.Row or a
// pgx.Rows positioned on a row. JSONB recipient columns are decoded into
// string slices.
func scanMessageFromRow(row pgx.Row) (*types.Message, error) {
	var (
		m          types.Message
		channel    string
		state      string
		recipients []byte
		cc         []byte
	)
	err := row.Scan(
		&m.ID,
		&m.AlertID,
		&m.FarmID,
		&channel,
		&m.Subject,
		&m.BodyHTML,
		&m.BodyText,
		&recipients,
		&cc,
		&state,
		&m.CreatedAt,
		&m.ClaimedAt,
		&m.SentAt,
		&m.Attempts,
		&m.ProviderMessageID,
		&m.LastError,
	)
	if err != nil {
		return nil, err
	}
	m.Channel = types.ChannelType(channel)
	m.State = types.MessageState(state)
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &m.Recipients); err != nil {
			return nil, err
		}
	}
	if len(cc) > 0 {
		if err := json.Unmarshal(cc, &m.RecipientsCC); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// marshalOptionalList encodes a possibly empty list as JSONB, using NULL
// for empty so the column stays queryable with IS NULL.
func marshalOptionalList(items []string) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

// nilIfEmpty returns nil for the empty string so optional text columns
// store NULL instead of "".
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
