package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/neo"
	apperrors "github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/logger"
)

// WatchlistView is a user's watchlist with each followed object resolved
// through the feed cache. Partial is set when some lookups failed.
type WatchlistView struct {
	Entries []models.WatchlistEntry `json:"entries"`
	Records []neo.AsteroidRecord    `json:"asteroids"`
	Partial bool                    `json:"-"`
}

// WatchlistService pairs watchlist rows with their cached records.
type WatchlistService struct {
	users       *UserService
	lookup      RecordLookup
	concurrency int
	log         *zap.Logger
}

// NewWatchlistService constructs a WatchlistService.
func NewWatchlistService(users *UserService, lookup RecordLookup) (*WatchlistService, error) {
	if users == nil || lookup == nil {
		return nil, errors.New("watchlist service: users and lookup are required")
	}
	return &WatchlistService{
		users:       users,
		lookup:      lookup,
		concurrency: defaultMatchConcurrency,
		log:         logger.WithModule("watchlist"),
	}, nil
}

// View resolves every watched object. Failed lookups are skipped and logged.
func (s *WatchlistService) View(ctx context.Context, userID string) (*WatchlistView, error) {
	ctx = ensureContext(ctx)
	entries, err := s.users.Watchlist(ctx, userID)
	if err != nil {
		return nil, err
	}

	resolved := make([]*neo.AsteroidRecord, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			rec, err := s.lookup.GetEntity(gctx, entry.AsteroidID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Debug("watchlist lookup failed", zap.String("asteroid_id", entry.AsteroidID), zap.Error(err))
				return nil
			}
			resolved[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := &WatchlistView{Entries: entries, Records: make([]neo.AsteroidRecord, 0, len(entries))}
	for _, rec := range resolved {
		if rec == nil {
			view.Partial = true
			continue
		}
		view.Records = append(view.Records, *rec)
	}
	if view.Entries == nil {
		view.Entries = []models.WatchlistEntry{}
	}
	return view, nil
}

// Add follows asteroidID after checking that the upstream knows the object.
// The record name is stored alongside the id.
func (s *WatchlistService) Add(ctx context.Context, userID, asteroidID string) (*models.WatchlistEntry, error) {
	ctx = ensureContext(ctx)
	rec, err := s.lookup.GetEntity(ctx, asteroidID)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, translateFeedError(err)
	}
	return s.users.AddToWatchlist(ctx, userID, rec.ID, rec.Name)
}

// Remove unfollows asteroidID.
func (s *WatchlistService) Remove(ctx context.Context, userID, asteroidID string) error {
	return s.users.RemoveFromWatchlist(ctx, userID, asteroidID)
}
