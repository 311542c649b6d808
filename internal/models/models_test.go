package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	entry := WatchlistEntry{BaseModel: BaseModel{ID: "fixed"}}
	require.NoError(t, entry.BeforeCreate(nil))
	require.Equal(t, "fixed", entry.ID)
}

func TestUserBeforeCreateAppliesDefaults(t *testing.T) {
	u := &User{Email: "ada@example.com"}
	require.NoError(t, u.BeforeCreate(nil))

	require.NotEmpty(t, u.ID)
	require.Equal(t, DefaultDaysBeforeApproach, u.Preferences.DaysBeforeApproach)
	require.Equal(t, DefaultMaxMissDistanceAU, u.Preferences.MaxMissDistanceAU)
	require.Equal(t, DefaultMinDiameterKM, u.Preferences.MinDiameterKM)
	require.Equal(t, []string{"HIGH"}, []string(u.Preferences.NotifyRiskLevels))
	require.True(t, u.Preferences.EmailEnabled())
}

func TestUserBeforeCreateKeepsExplicitPreferences(t *testing.T) {
	off := false
	u := &User{Preferences: AlertPreferences{
		DaysBeforeApproach: 3,
		NotifyRiskLevels:   []string{},
		EmailNotifications: &off,
	}}
	require.NoError(t, u.BeforeCreate(nil))

	require.Equal(t, 3, u.Preferences.DaysBeforeApproach)
	require.Zero(t, u.Preferences.MaxMissDistanceAU)
	require.Zero(t, u.Preferences.MinDiameterKM)
	require.Empty(t, u.Preferences.NotifyRiskLevels)
	require.False(t, u.Preferences.EmailEnabled())
}

func TestDefaultAlertPreferencesAreIndependentCopies(t *testing.T) {
	a := DefaultAlertPreferences()
	a.NotifyRiskLevels[0] = "LOW"

	require.Equal(t, "HIGH", DefaultAlertPreferences().NotifyRiskLevels[0])
	require.Equal(t, []string{"HIGH"}, DefaultNotifyRiskLevels)
}
