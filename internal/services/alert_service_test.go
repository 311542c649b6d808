package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlertServiceAlertsForIsReadOnly(t *testing.T) {
	db := openServiceTestDB(t)
	users, err := NewUserService(db)
	require.NoError(t, err)
	ledger, err := NewAlertLedger(db)
	require.NoError(t, err)

	lookup := newStubLookup(
		approachIn("3542519", 3, true, 0.04, 0.5),
		approachIn("2000433", 3, false, 0.3, 20),
	)
	matcher := NewAlertMatcher(lookup, WithMatcherClock(fixedClock))
	svc, err := NewAlertService(users, matcher, ledger)
	require.NoError(t, err)

	user := mustCreateUser(t, users, "reader@example.com", "3542519", "2000433")
	ctx := context.Background()

	var alerts []Candidate
	for i := 0; i < 2; i++ {
		alerts, err = svc.AlertsFor(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		require.Equal(t, "3542519", alerts[0].AsteroidID)
	}

	require.NoError(t, ledger.Record(ctx, user.ID, ChannelLive, alerts...))
	alerts, err = svc.AlertsFor(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, alerts)
	require.Empty(t, alerts)
}

func TestAlertServiceUnknownUser(t *testing.T) {
	db := openServiceTestDB(t)
	users, _ := NewUserService(db)
	ledger, _ := NewAlertLedger(db)
	svc, err := NewAlertService(users, NewAlertMatcher(newStubLookup()), ledger)
	require.NoError(t, err)

	_, err = svc.AlertsFor(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}
