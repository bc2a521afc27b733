package notifications

import (
	"strings"

	"lightalert/internal/types"
)

// ResolveGroupRecipients resolves every alert in a message group against a
// contact snapshot and returns the union of the per-alert recipient lists.
// It is a pure function: the same snapshot and group always produce the same
// list, in the same order.
//
// Matching is per alert: a contact is included only when classification and
// scope both pass for the SAME alert. Passing one alert's classification and
// a different alert's sector does not qualify. A contact matches an alert
// when all of the following hold:
//   - the contact is active,
//   - the alert's classification passes the contact's per-classification
//     flags,
//   - the contact's scope admits the alert: nil farm matches everything, a
//     farm-scoped contact matches that farm, and a sector-scoped contact
//     additionally requires the alert's sector.
//
// The snapshot's order (priority descending, then name) is preserved, and
// duplicate addresses keep only their first occurrence. Case differences in
// addresses count as duplicates.
func ResolveGroupRecipients(contacts []*types.Contact, alerts []*types.UnmessagedAlert) []string {
	var result []string
	seen := make(map[string]bool)

	for _, c := range contacts {
		if !c.Active {
			continue
		}
		if !contactMatchesAny(c, alerts) {
			continue
		}
		addr := strings.TrimSpace(c.Email)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, addr)
	}
	return result
}

// ResolveAlertRecipients resolves a single alert. Equivalent to a one-alert
// group.
func ResolveAlertRecipients(contacts []*types.Contact, alert *types.UnmessagedAlert) []string {
	return ResolveGroupRecipients(contacts, []*types.UnmessagedAlert{alert})
}

func contactMatchesAny(c *types.Contact, alerts []*types.UnmessagedAlert) bool {
	for _, a := range alerts {
		if contactMatchesAlert(c, a) {
			return true
		}
	}
	return false
}

// contactMatchesAlert checks classification and scope against one alert.
func contactMatchesAlert(c *types.Contact, a *types.UnmessagedAlert) bool {
	if !c.ReceivesClass(a.Class) {
		return false
	}
	if c.FarmID == nil {
		return true
	}
	if a.FarmID == nil || *c.FarmID != *a.FarmID {
		return false
	}
	if c.SectorID == nil {
		return true
	}
	return a.SectorID != nil && *c.SectorID == *a.SectorID
}
