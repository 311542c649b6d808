package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/metrics"
)

// Delivery channels recorded on alerted rows.
const (
	ChannelLive   = "live"
	ChannelDigest = "digest"
)

const persistTimeout = 5 * time.Second

// PersistMode selects when delivered ids are written to the alerted set.
type PersistMode int

const (
	// PersistBatch writes every delivered id once, after the batch.
	PersistBatch PersistMode = iota
	// PersistEach writes each id right after its successful handoff.
	PersistEach
)

// DeliverFunc hands one candidate to a channel.
type DeliverFunc func(ctx context.Context, candidate Candidate) error

// DeliveryReport summarises one Deliver call.
type DeliveryReport struct {
	Delivered []Candidate
	Skipped   int
	Failed    int
}

// AlertLedger is the per-user set of objects already alerted. The whole
// read-filter-deliver-persist sequence for a user runs under that user's lock,
// and rows are inserted with ON CONFLICT DO NOTHING so two processes can never
// double-insert.
//
// Ids are persisted only after a successful handoff, so a crash in between
// may repeat an alert but never loses one.
type AlertLedger struct {
	db    *gorm.DB
	locks *keyedMutex
	now   func() time.Time
	log   *zap.Logger
}

// NewAlertLedger constructs an AlertLedger.
func NewAlertLedger(db *gorm.DB) (*AlertLedger, error) {
	if db == nil {
		return nil, errors.New("alert ledger: db is required")
	}
	return &AlertLedger{
		db:    db,
		locks: newKeyedMutex(),
		now:   time.Now,
		log:   logger.WithModule("ledger"),
	}, nil
}

// AlertedSet returns the ids already alerted for userID.
func (l *AlertLedger) AlertedSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	ctx = ensureContext(ctx)
	var ids []string
	if err := l.db.WithContext(ctx).
		Model(&models.AlertedAsteroid{}).
		Where("user_id = ?", userID).
		Pluck("asteroid_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("alert ledger: load alerted set: %w", err)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// FilterNew drops candidates already alerted for userID. It does not modify
// the set.
func (l *AlertLedger) FilterNew(ctx context.Context, userID string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	set, err := l.AlertedSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	fresh, _ := filterFresh(set, candidates)
	return fresh, nil
}

// Record adds candidates to the alerted set of userID. Existing rows are kept.
func (l *AlertLedger) Record(ctx context.Context, userID, channel string, candidates ...Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)

	now := l.now().UTC()
	rows := make([]models.AlertedAsteroid, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, models.AlertedAsteroid{
			UserID:     userID,
			AsteroidID: c.AsteroidID,
			Channel:    channel,
			RiskLevel:  string(c.RiskLevel),
			AlertedAt:  now,
		})
	}

	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "asteroid_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("alert ledger: record %d alerts for %s: %w", len(rows), userID, err)
	}
	return nil
}

// Deliver filters candidates against the alerted set of userID, hands each
// fresh one to deliver and persists the ids that were handed off according to
// mode. Failed handoffs are not recorded and will be retried on the next run.
// The returned error aggregates handoff and persistence failures.
func (l *AlertLedger) Deliver(ctx context.Context, userID, channel string, candidates []Candidate, mode PersistMode, deliver DeliverFunc) (DeliveryReport, error) {
	ctx = ensureContext(ctx)
	var report DeliveryReport
	if len(candidates) == 0 {
		return report, nil
	}

	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("alert ledger: lock %s: %w", userID, err)
	}
	defer unlock()

	set, err := l.AlertedSet(ctx, userID)
	if err != nil {
		return report, err
	}
	fresh, skipped := filterFresh(set, candidates)
	report.Skipped = skipped

	var errs error
	for _, c := range fresh {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		if err := deliver(ctx, c); err != nil {
			report.Failed++
			metrics.AlertDeliveryFailures.WithLabelValues(channel).Inc()
			errs = multierr.Append(errs, fmt.Errorf("deliver %s: %w", c.AsteroidID, err))
			continue
		}
		report.Delivered = append(report.Delivered, c)
		metrics.AlertsDelivered.WithLabelValues(channel).Inc()

		if mode == PersistEach {
			errs = multierr.Append(errs, l.persist(ctx, userID, channel, c))
		}
	}

	if mode == PersistBatch {
		errs = multierr.Append(errs, l.persist(ctx, userID, channel, report.Delivered...))
	}
	return report, errs
}

// persist outlives the caller's cancellation so that a handed-off alert is
// still recorded when the tick is cut short.
func (l *AlertLedger) persist(ctx context.Context, userID, channel string, candidates ...Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := l.Record(pctx, userID, channel, candidates...); err != nil {
		l.log.Error("alerted set not persisted",
			zap.String("user_id", userID),
			zap.String("channel", channel),
			zap.Int("count", len(candidates)),
			zap.Error(err))
		return err
	}
	return nil
}

// filterFresh drops ids present in set and repeated ids within the batch.
func filterFresh(set map[string]struct{}, candidates []Candidate) ([]Candidate, int) {
	fresh := make([]Candidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	skipped := 0
	for _, c := range candidates {
		id := strings.TrimSpace(c.AsteroidID)
		if id == "" {
			continue
		}
		if _, done := set[id]; done {
			skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh, skipped
}

// keyedMutex hands out one context-aware lock per key. Entries are dropped
// when their last holder or waiter leaves.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				k.release(key, lock)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, lock)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, lock *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, key)
	}
}
