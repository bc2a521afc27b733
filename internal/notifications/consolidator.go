package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"lightalert/internal/types"
)

// AlertSource supplies the pending alerts a consolidation run works on.
type AlertSource interface {
	ListUnmessaged(ctx context.Context, since time.Time) ([]*types.UnmessagedAlert, error)
}

// ContactSource supplies the contact snapshot for recipient resolution.
type ContactSource interface {
	ListActive(ctx context.Context) ([]*types.Contact, error)
}

// RuleSource supplies threshold rules for rendering rule descriptions.
// Includes deactivated rules, since old alerts may reference them.
type RuleSource interface {
	List(ctx context.Context) ([]*types.ThresholdRule, error)
}

// LotSource resolves lots and farm names for grouping and rendering.
type LotSource interface {
	GetLotInfoBatch(ctx context.Context, lotIDs []int64) (map[int64]*types.LotInfo, error)
	GetFarmName(ctx context.Context, farmID string) (string, error)
}

// MessageStore is the transactional message creation surface.
type MessageStore interface {
	Create(ctx context.Context, m *types.Message) error
}

// AlertLinkStore is the transactional alert-to-message linking surface.
type AlertLinkStore interface {
	AssignMessage(ctx context.Context, alertIDs []int64, messageID int64) (int64, error)
}

// TxManager abstracts transactional execution for the Consolidator. The
// callback receives transaction-scoped stores, so message creation and
// alert linking commit or roll back together. That single transaction is
// what keeps an alert out of two messages.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, messages MessageStore, alerts AlertLinkStore) error) error
}

// Consolidator groups pending alerts into outbound messages.
type Consolidator struct {
	alerts    AlertSource
	contacts  ContactSource
	rules     RuleSource
	lots      LotSource
	txManager TxManager
	fallback  []string
	clock     types.Clock
	logger    *slog.Logger
}

// ConsolidatorConfig holds the dependencies for creating a Consolidator.
// FallbackRecipients, when non-empty, receives groups no contact matches
// instead of skipping them.
type ConsolidatorConfig struct {
	Alerts             AlertSource
	Contacts           ContactSource
	Rules              RuleSource
	Lots               LotSource
	TxManager          TxManager
	FallbackRecipients []string
	Clock              types.Clock
	Logger             *slog.Logger
}

// NewConsolidator creates a new Consolidator. If Clock is nil, RealClock is
// used; if Logger is nil, slog.Default is used.
func NewConsolidator(cfg ConsolidatorConfig) *Consolidator {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		alerts:    cfg.Alerts,
		contacts:  cfg.Contacts,
		rules:     cfg.Rules,
		lots:      cfg.Lots,
		txManager: cfg.TxManager,
		fallback:  cfg.FallbackRecipients,
		clock:     clock,
		logger:    logger,
	}
}

// errNothingLinked signals that a concurrent run claimed every alert in the
// group after we snapshotted it; the transaction rolls back and the group
// counts as skipped, not failed.
var errNothingLinked = errors.New("no alerts linked to message")

// Run executes one consolidation pass. It snapshots pending alerts,
// contacts, rules, and lot info once at the start, groups alerts per the
// mode, and creates one message per group in its own transaction. A failed
// group does not abort the run; its alerts stay pending for the next pass.
func (c *Consolidator) Run(ctx context.Context, mode types.ConsolidationMode, since time.Time) (*types.ConsolidationReport, error) {
	if !mode.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidState, "unknown consolidation mode", nil)
	}

	pending, err := c.alerts.ListUnmessaged(ctx, since)
	if err != nil {
		return nil, err
	}
	report := &types.ConsolidationReport{AlertsProcessed: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}

	contacts, err := c.contacts.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := c.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	ruleByID := make(map[int64]*types.ThresholdRule, len(rules))
	for _, r := range rules {
		ruleByID[r.ID] = r
	}

	lotIDs := make([]int64, 0, len(pending))
	for _, a := range pending {
		lotIDs = append(lotIDs, a.LotID)
	}
	lotInfo, err := c.lots.GetLotInfoBatch(ctx, lotIDs)
	if err != nil {
		return nil, err
	}

	// Alerts whose lot no longer resolves to a farm cannot be grouped or
	// routed. They stay pending and are logged for manual cleanup.
	var groupable []*types.UnmessagedAlert
	for _, a := range pending {
		if a.FarmID == nil {
			c.logger.Warn("alert has no resolvable farm, skipping",
				"alert_id", a.ID, "lot_id", a.LotID)
			report.AlertsSkipped++
			continue
		}
		groupable = append(groupable, a)
	}

	switch mode {
	case types.ModePerFarm:
		c.runPerFarm(ctx, groupable, contacts, lotInfo, report)
	case types.ModePerAlert:
		c.runPerAlert(ctx, groupable, contacts, ruleByID, lotInfo, report)
	}

	c.logger.Info("consolidation run finished",
		"mode", string(mode),
		"processed", report.AlertsProcessed,
		"messages_created", report.MessagesCreated,
		"skipped", report.AlertsSkipped,
	)
	return report, nil
}

func (c *Consolidator) runPerFarm(
	ctx context.Context,
	alerts []*types.UnmessagedAlert,
	contacts []*types.Contact,
	lotInfo map[int64]*types.LotInfo,
	report *types.ConsolidationReport,
) {
	groups := make(map[string][]*types.UnmessagedAlert)
	for _, a := range alerts {
		groups[*a.FarmID] = append(groups[*a.FarmID], a)
	}

	// Farms are processed in a fixed order so runs are reproducible.
	farmIDs := make([]string, 0, len(groups))
	for id := range groups {
		farmIDs = append(farmIDs, id)
	}
	sort.Strings(farmIDs)

	for _, farmID := range farmIDs {
		group := groups[farmID]
		if err := c.consolidateFarm(ctx, farmID, group, contacts, lotInfo, report); err != nil {
			c.logger.Error("farm consolidation failed",
				"farm_id", farmID, "alerts", len(group), "error", err)
			report.AlertsSkipped += len(group)
		}
	}
}

func (c *Consolidator) consolidateFarm(
	ctx context.Context,
	farmID string,
	group []*types.UnmessagedAlert,
	contacts []*types.Contact,
	lotInfo map[int64]*types.LotInfo,
	report *types.ConsolidationReport,
) error {
	recipients := ResolveGroupRecipients(contacts, group)
	if len(recipients) == 0 {
		if len(c.fallback) == 0 {
			c.logger.Warn("no recipients resolve for farm, skipping",
				"farm_id", farmID, "alerts", len(group))
			report.AlertsSkipped += len(group)
			return nil
		}
		recipients = c.fallback
	}

	farmName := farmID
	if name, err := c.lots.GetFarmName(ctx, farmID); err == nil {
		farmName = name
	}

	items := make([]ConsolidatedItem, 0, len(group))
	alertIDs := make([]int64, 0, len(group))
	for _, a := range group {
		items = append(items, ConsolidatedItem{Alert: a, Lot: lotInfo[a.LotID]})
		alertIDs = append(alertIDs, a.ID)
	}

	email, err := RenderConsolidatedEmail(farmName, items)
	if err != nil {
		return err
	}

	msg := &types.Message{
		FarmID:     &farmID,
		Channel:    types.ChannelEmail,
		Subject:    email.Subject,
		BodyHTML:   email.BodyHTML,
		BodyText:   email.BodyText,
		Recipients: recipients,
	}
	linked, err := c.createLinked(ctx, msg, alertIDs)
	if err != nil {
		if errors.Is(err, errNothingLinked) {
			report.AlertsSkipped += len(group)
			return nil
		}
		return err
	}

	report.MessagesCreated++
	if int(linked) < len(alertIDs) {
		c.logger.Warn("some alerts were claimed concurrently",
			"farm_id", farmID, "expected", len(alertIDs), "linked", linked)
	}
	return nil
}

func (c *Consolidator) runPerAlert(
	ctx context.Context,
	alerts []*types.UnmessagedAlert,
	contacts []*types.Contact,
	ruleByID map[int64]*types.ThresholdRule,
	lotInfo map[int64]*types.LotInfo,
	report *types.ConsolidationReport,
) {
	for _, a := range alerts {
		if err := c.consolidateAlert(ctx, a, contacts, ruleByID, lotInfo, report); err != nil {
			c.logger.Error("per-alert consolidation failed", "alert_id", a.ID, "error", err)
			report.AlertsSkipped++
		}
	}
}

func (c *Consolidator) consolidateAlert(
	ctx context.Context,
	a *types.UnmessagedAlert,
	contacts []*types.Contact,
	ruleByID map[int64]*types.ThresholdRule,
	lotInfo map[int64]*types.LotInfo,
	report *types.ConsolidationReport,
) error {
	lot := lotInfo[a.LotID]
	if lot == nil {
		c.logger.Warn("alert lot no longer resolves, skipping", "alert_id", a.ID, "lot_id", a.LotID)
		report.AlertsSkipped++
		return nil
	}

	recipients := ResolveAlertRecipients(contacts, a)
	if len(recipients) == 0 {
		if len(c.fallback) == 0 {
			c.logger.Warn("no recipients resolve for alert, skipping", "alert_id", a.ID)
			report.AlertsSkipped++
			return nil
		}
		recipients = c.fallback
	}

	email, err := RenderAlertEmail(&a.Alert, lot, ruleByID[a.RuleID])
	if err != nil {
		return err
	}

	alertID := a.ID
	msg := &types.Message{
		AlertID:    &alertID,
		Channel:    types.ChannelEmail,
		Subject:    email.Subject,
		BodyHTML:   email.BodyHTML,
		BodyText:   email.BodyText,
		Recipients: recipients,
	}
	if _, err := c.createLinked(ctx, msg, []int64{a.ID}); err != nil {
		if errors.Is(err, errNothingLinked) {
			report.AlertsSkipped++
			return nil
		}
		return err
	}
	report.MessagesCreated++
	return nil
}

// createLinked creates the message and links its alerts in one transaction.
// If no alert could be linked the message is rolled back via
// errNothingLinked.
func (c *Consolidator) createLinked(ctx context.Context, msg *types.Message, alertIDs []int64) (int64, error) {
	var linked int64
	err := c.txManager.RunInTx(ctx, func(ctx context.Context, messages MessageStore, alerts AlertLinkStore) error {
		if err := messages.Create(ctx, msg); err != nil {
			return err
		}
		n, err := alerts.AssignMessage(ctx, alertIDs, msg.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return errNothingLinked
		}
		linked = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}
