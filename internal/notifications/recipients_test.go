package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lightalert/internal/types"
)

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

func groupAlert(class types.Classification, farmID string, sectorID *int64) *types.UnmessagedAlert {
	return &types.UnmessagedAlert{
		Alert:    types.Alert{Class: class},
		FarmID:   &farmID,
		SectorID: sectorID,
	}
}

func criticalAlert(farmID string) *types.UnmessagedAlert {
	return groupAlert(types.ClassCriticalRed, farmID, nil)
}

func TestResolveAlertRecipients_GlobalContactMatchesAnyFarm(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "global@fundo.cl", ReceiveCritical: true, Active: true},
	}
	got := ResolveAlertRecipients(contacts, criticalAlert("F01"))
	assert.Equal(t, []string{"global@fundo.cl"}, got)

	got = ResolveAlertRecipients(contacts, criticalAlert("F99"))
	assert.Equal(t, []string{"global@fundo.cl"}, got)
}

func TestResolveAlertRecipients_FarmScopeExcludesOtherFarms(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "f01@fundo.cl", ReceiveCritical: true, FarmID: strPtr("F01"), Active: true},
	}
	assert.Equal(t, []string{"f01@fundo.cl"}, ResolveAlertRecipients(contacts, criticalAlert("F01")))
	assert.Empty(t, ResolveAlertRecipients(contacts, criticalAlert("F02")))
}

func TestResolveAlertRecipients_SectorScopeRequiresMatchingSector(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "sector3@fundo.cl", ReceiveCritical: true, FarmID: strPtr("F01"), SectorID: int64Ptr(3), Active: true},
	}
	assert.Equal(t, []string{"sector3@fundo.cl"},
		ResolveAlertRecipients(contacts, groupAlert(types.ClassCriticalRed, "F01", int64Ptr(3))))
	assert.Empty(t,
		ResolveAlertRecipients(contacts, groupAlert(types.ClassCriticalRed, "F01", int64Ptr(4))))

	// A group spanning sectors 2 and 3 still reaches them: the sector-3
	// alert alone resolves to this contact.
	group := []*types.UnmessagedAlert{
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(2)),
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(3)),
	}
	assert.Equal(t, []string{"sector3@fundo.cl"}, ResolveGroupRecipients(contacts, group))
}

func TestResolveAlertRecipients_ClassificationFlagsFilter(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "solo-advertencias@fundo.cl", ReceiveWarning: true, Active: true},
	}

	assert.Empty(t, ResolveAlertRecipients(contacts, criticalAlert("F01")))
	assert.Equal(t, []string{"solo-advertencias@fundo.cl"},
		ResolveAlertRecipients(contacts, groupAlert(types.ClassCriticalYellow, "F01", nil)))
}

func TestResolveGroupRecipients_MixedGroupResolvesPerAlert(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "warn@fundo.cl", ReceiveWarning: true, Active: true},
	}

	group := []*types.UnmessagedAlert{
		groupAlert(types.ClassCriticalRed, "F01", nil),
		groupAlert(types.ClassCriticalYellow, "F01", nil),
	}

	// The yellow alert alone resolves to the warning-only contact, so the
	// consolidated message includes them.
	assert.Equal(t, []string{"warn@fundo.cl"}, ResolveGroupRecipients(contacts, group))
}

func TestResolveGroupRecipients_ClassAndSectorMustMatchSameAlert(t *testing.T) {
	// Sector-1 contact that only receives critical alerts.
	contacts := []*types.Contact{
		{ID: 1, Email: "sector1-critico@fundo.cl", ReceiveCritical: true, FarmID: strPtr("F01"), SectorID: int64Ptr(1), Active: true},
	}

	// Critical alert in sector 2, warning alert in sector 1. Neither alert
	// resolves to the contact on its own, so pairing one alert's class with
	// the other's sector must not include them.
	group := []*types.UnmessagedAlert{
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(2)),
		groupAlert(types.ClassCriticalYellow, "F01", int64Ptr(1)),
	}
	assert.Empty(t, ResolveGroupRecipients(contacts, group))

	// A critical alert in their own sector does include them.
	group = append(group, groupAlert(types.ClassCriticalRed, "F01", int64Ptr(1)))
	assert.Equal(t, []string{"sector1-critico@fundo.cl"}, ResolveGroupRecipients(contacts, group))
}

func TestResolveAlertRecipients_InactiveExcluded(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "inactivo@fundo.cl", ReceiveCritical: true, Active: false},
	}
	assert.Empty(t, ResolveAlertRecipients(contacts, criticalAlert("F01")))
}

func TestResolveGroupRecipients_DedupesCaseInsensitively(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Name: "A", Email: "Jefe@Fundo.cl", ReceiveCritical: true, Priority: 100, Active: true},
		{ID: 2, Name: "B", Email: "jefe@fundo.cl", ReceiveCritical: true, Priority: 10, Active: true},
	}
	got := ResolveGroupRecipients(contacts, []*types.UnmessagedAlert{criticalAlert("F01")})
	assert.Equal(t, []string{"Jefe@Fundo.cl"}, got)
}

func TestResolveGroupRecipients_PreservesSnapshotOrder(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Name: "Alta", Email: "alta@fundo.cl", ReceiveCritical: true, Priority: 100, Active: true},
		{ID: 2, Name: "Media", Email: "media@fundo.cl", ReceiveCritical: true, Priority: 50, Active: true},
		{ID: 3, Name: "Baja", Email: "baja@fundo.cl", ReceiveCritical: true, Priority: 1, Active: true},
	}
	got := ResolveGroupRecipients(contacts, []*types.UnmessagedAlert{criticalAlert("F01")})
	assert.Equal(t, []string{"alta@fundo.cl", "media@fundo.cl", "baja@fundo.cl"}, got)
}

func TestResolveGroupRecipients_Deterministic(t *testing.T) {
	contacts := []*types.Contact{
		{ID: 1, Email: "a@fundo.cl", ReceiveCritical: true, Active: true},
		{ID: 2, Email: "b@fundo.cl", ReceiveCritical: true, FarmID: strPtr("F01"), Active: true},
	}
	group := []*types.UnmessagedAlert{
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(1)),
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(2)),
		groupAlert(types.ClassCriticalRed, "F01", int64Ptr(3)),
	}

	first := ResolveGroupRecipients(contacts, group)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, ResolveGroupRecipients(contacts, group))
	}
}
