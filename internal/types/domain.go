package types

import "time"

// ThresholdRule maps a light-percentage range [MinPct, MaxPct) to a
// classification. A nil VarietyID means the rule is global; variety-scoped
// rules take precedence over global ones during matching. Rules are never
// deleted, only deactivated.
type ThresholdRule struct {
	ID          int64          `json:"id"`
	VarietyID   *int64         `json:"variety_id,omitempty"`
	Class       Classification `json:"classification"`
	MinPct      float64        `json:"min_pct"`
	MaxPct      float64        `json:"max_pct"`
	Description string         `json:"description,omitempty"`
	ColorHex    string         `json:"color_hex,omitempty"`
	Orden       int            `json:"orden"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// Contains reports whether pct falls inside the rule's inclusive-exclusive
// range.
func (r ThresholdRule) Contains(pct float64) bool {
	return pct >= r.MinPct && pct < r.MaxPct
}

// Alert is one threshold crossing for one evaluation. Classification and
// severity are snapshots of the matched rule at creation time. MessageID is
// set at most once, in the same transaction that creates the message, which
// is what keeps an alert out of a second message.
type Alert struct {
	ID           int64          `json:"id"`
	LotID        int64          `json:"lot_id"`
	EvaluationID *int64         `json:"evaluation_id,omitempty"`
	RuleID       int64          `json:"rule_id"`
	VarietyID    *int64         `json:"variety_id,omitempty"`
	LightPct     float64        `json:"light_pct"`
	Class        Classification `json:"classification"`
	Severity     Severity       `json:"severity"`
	State        AlertState     `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy   *int64         `json:"resolved_by,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	MessageID    *int64         `json:"message_id,omitempty"`
}

// UnmessagedAlert is an alert joined with the location columns the
// consolidator needs for grouping and recipient matching. FarmID/SectorID are
// nil when the lot no longer resolves (referential error: skip and log).
type UnmessagedAlert struct {
	Alert
	FarmID   *string `json:"farm_id,omitempty"`
	SectorID *int64  `json:"sector_id,omitempty"`
}

// Contact is a notification recipient. Nil FarmID receives for all farms; a
// non-nil SectorID is only meaningful with its farm set (strict hierarchy,
// enforced at create/update). Priority orders recipients, it never excludes.
type Contact struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           *string    `json:"phone,omitempty"`
	Role            string     `json:"role,omitempty"`
	ReceiveCritical bool       `json:"receive_critical"`
	ReceiveWarning  bool       `json:"receive_warning"`
	ReceiveNormal   bool       `json:"receive_normal"`
	FarmID          *string    `json:"farm_id,omitempty"`
	SectorID        *int64     `json:"sector_id,omitempty"`
	Priority        int        `json:"priority"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ReceivesClass reports whether the contact's per-classification flags admit
// alerts of the given classification.
func (c Contact) ReceivesClass(class Classification) bool {
	switch class {
	case ClassCriticalRed:
		return c.ReceiveCritical
	case ClassCriticalYellow:
		return c.ReceiveWarning
	case ClassNormal:
		return c.ReceiveNormal
	}
	return false
}

// Message is one outbound email. AlertID is set on the per-alert path, FarmID
// on the consolidated path; exactly one of the two is non-nil. Recipients is
// persisted as a JSONB array of addresses, deduplicated and non-empty.
type Message struct {
	ID                int64        `json:"id"`
	AlertID           *int64       `json:"alert_id,omitempty"`
	FarmID            *string      `json:"farm_id,omitempty"`
	Channel           ChannelType  `json:"channel"`
	Subject           string       `json:"subject"`
	BodyHTML          string       `json:"body_html"`
	BodyText          string       `json:"body_text"`
	Recipients        []string     `json:"recipients"`
	RecipientsCC      []string     `json:"recipients_cc,omitempty"`
	State             MessageState `json:"state"`
	CreatedAt         time.Time    `json:"created_at"`
	ClaimedAt         *time.Time   `json:"claimed_at,omitempty"`
	SentAt            *time.Time   `json:"sent_at,omitempty"`
	Attempts          int          `json:"attempts"`
	ProviderMessageID *string      `json:"provider_message_id,omitempty"`
	LastError         *string      `json:"last_error,omitempty"`
}

// MessageSummary is the list-view projection of a message with its alert
// count and resolved farm name.
type MessageSummary struct {
	ID          int64        `json:"id"`
	FarmID      *string      `json:"farm_id,omitempty"`
	FarmName    *string      `json:"farm_name,omitempty"`
	Channel     ChannelType  `json:"channel"`
	Subject     string       `json:"subject"`
	State       MessageState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	SentAt      *time.Time   `json:"sent_at,omitempty"`
	Attempts    int          `json:"attempts"`
	LastError   *string      `json:"last_error,omitempty"`
	TotalAlerts int          `json:"total_alerts"`
}

// LotInfo resolves a lot id to its three-level location hierarchy and the
// planted variety, if any.
type LotInfo struct {
	LotID       int64   `json:"lot_id"`
	LotName     string  `json:"lot_name"`
	SectorID    int64   `json:"sector_id"`
	SectorName  string  `json:"sector_name"`
	FarmID      string  `json:"farm_id"`
	FarmName    string  `json:"farm_name"`
	VarietyID   *int64  `json:"variety_id,omitempty"`
	VarietyName *string `json:"variety_name,omitempty"`
}

// Evaluation is the input the classifier pipeline hands the alert core, one
// per processed image.
type Evaluation struct {
	LotID        int64   `json:"lot_id"`
	EvaluationID *int64  `json:"evaluation_id,omitempty"`
	VarietyID    *int64  `json:"variety_id,omitempty"`
	LightPct     float64 `json:"light_pct"`
}

// AlertFilter narrows alert list queries. Zero values mean "no filter".
type AlertFilter struct {
	State    AlertState
	Class    Classification
	FarmID   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// MessageFilter narrows message list queries.
type MessageFilter struct {
	State    MessageState
	FarmID   string
	Page     int
	PageSize int
}

// AlertStats aggregates alert counts for the operator dashboard.
type AlertStats struct {
	ByState    map[AlertState]int     `json:"by_state"`
	ByClass    map[Classification]int `json:"by_classification"`
	BySeverity map[Severity]int       `json:"by_severity"`
	Last24h    int                    `json:"last_24h"`
}

// ConsolidationReport is the outcome of one consolidation run.
type ConsolidationReport struct {
	AlertsProcessed int `json:"alerts_processed"`
	MessagesCreated int `json:"messages_created"`
	AlertsSkipped   int `json:"alerts_skipped"`
}

// SendReport is the outcome of one sender pass over claimed messages.
type SendReport struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
