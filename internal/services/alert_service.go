package services

import (
	"context"
	"errors"
)

// AlertService answers "what would I be alerted about" for request-driven
// reads. It never modifies the alerted set.
type AlertService struct {
	users   *UserService
	matcher *AlertMatcher
	ledger  *AlertLedger
}

// NewAlertService constructs an AlertService.
func NewAlertService(users *UserService, matcher *AlertMatcher, ledger *AlertLedger) (*AlertService, error) {
	if users == nil || matcher == nil || ledger == nil {
		return nil, errors.New("alert service: users, matcher and ledger are required")
	}
	return &AlertService{users: users, matcher: matcher, ledger: ledger}, nil
}

// AlertsFor returns the matched candidates of userID that have not been
// alerted yet.
func (s *AlertService) AlertsFor(ctx context.Context, userID string) ([]Candidate, error) {
	ctx = ensureContext(ctx)
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := s.users.Watchlist(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.AsteroidID)
	}

	candidates, err := s.matcher.Match(ctx, ids, user.Preferences)
	if err != nil {
		return nil, err
	}
	fresh, err := s.ledger.FilterNew(ctx, user.ID, candidates)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []Candidate{}
	}
	return fresh, nil
}
