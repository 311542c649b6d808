// Package dispatch runs the two alert loops: a short live loop that pushes
// alerts to connected users and a long digest loop that mails everyone who
// opted in.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/mail"
	"github.com/cosmicwatch/neowatch/pkg/metrics"
)

const (
	LoopLive   = "live"
	LoopDigest = "digest"

	DefaultLiveSchedule   = "@every 60s"
	DefaultDigestSchedule = "0 */6 * * *"

	defaultLiveTimeout     = 55 * time.Second
	defaultDigestTimeout   = 30 * time.Minute
	defaultMailTimeout     = 10 * time.Second
	defaultUserConcurrency = 4
)

// ErrNoLiveConnection is returned when a user disconnected before the push.
var ErrNoLiveConnection = errors.New("dispatch: user has no live connection")

// Subscribers lists users with a watchlist; nil ids means every user.
type Subscribers interface {
	ListSubscribers(ctx context.Context, ids []string) ([]services.Subscriber, error)
}

// Matcher turns a watchlist into candidates.
type Matcher interface {
	Match(ctx context.Context, watchlist []string, prefs models.AlertPreferences) ([]services.Candidate, error)
}

// Ledger gates candidates through the per-user alerted set.
type Ledger interface {
	Deliver(ctx context.Context, userID, channel string, candidates []services.Candidate, mode services.PersistMode, deliver services.DeliverFunc) (services.DeliveryReport, error)
}

// Composer renders a digest e-mail.
type Composer interface {
	Compose(to string, candidate services.Candidate) (mail.Message, error)
}

// Deps are the collaborators of a Dispatcher. Registry is required for the
// live loop, Mailer and Composer for the digest loop.
type Deps struct {
	Users    Subscribers
	Matcher  Matcher
	Ledger   Ledger
	Registry realtime.Registry
	Mailer   mail.Mailer
	Composer Composer
}

// TickReport summarises one loop run.
type TickReport struct {
	Users     int
	Delivered int
	Failed    int
	Skipped   int
}

// Dispatcher owns the live and digest schedules.
type Dispatcher struct {
	deps Deps
	cron *cron.Cron
	log  *zap.Logger

	liveSchedule    string
	digestSchedule  string
	liveEnabled     bool
	digestEnabled   bool
	liveTimeout     time.Duration
	digestTimeout   time.Duration
	mailTimeout     time.Duration
	userConcurrency int
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.cron = c
		}
	}
}

// WithLiveSchedule overrides the cron specification of the live loop.
func WithLiveSchedule(spec string) Option {
	return func(d *Dispatcher) {
		if spec != "" {
			d.liveSchedule = spec
		}
	}
}

// WithDigestSchedule overrides the cron specification of the digest loop.
func WithDigestSchedule(spec string) Option {
	return func(d *Dispatcher) {
		if spec != "" {
			d.digestSchedule = spec
		}
	}
}

// WithLoops toggles the individual loops.
func WithLoops(live, digest bool) Option {
	return func(d *Dispatcher) {
		d.liveEnabled = live
		d.digestEnabled = digest
	}
}

// WithTimeouts bounds a whole tick of each loop and a single mail handoff.
// Zero values keep the defaults.
func WithTimeouts(live, digest, mailHandoff time.Duration) Option {
	return func(d *Dispatcher) {
		if live > 0 {
			d.liveTimeout = live
		}
		if digest > 0 {
			d.digestTimeout = digest
		}
		if mailHandoff > 0 {
			d.mailTimeout = mailHandoff
		}
	}
}

// WithUserConcurrency bounds how many users a tick processes at once.
func WithUserConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.userConcurrency = n
		}
	}
}

// NewDispatcher validates deps and applies options.
func NewDispatcher(deps Deps, opts ...Option) (*Dispatcher, error) {
	if deps.Users == nil || deps.Matcher == nil || deps.Ledger == nil {
		return nil, errors.New("dispatch: users, matcher and ledger are required")
	}

	d := &Dispatcher{
		deps:            deps,
		log:             logger.WithModule("dispatch"),
		liveSchedule:    DefaultLiveSchedule,
		digestSchedule:  DefaultDigestSchedule,
		liveEnabled:     true,
		digestEnabled:   true,
		liveTimeout:     defaultLiveTimeout,
		digestTimeout:   defaultDigestTimeout,
		mailTimeout:     defaultMailTimeout,
		userConcurrency: defaultUserConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.deps.Registry == nil {
		d.liveEnabled = false
	}
	if d.deps.Mailer == nil || d.deps.Composer == nil {
		d.digestEnabled = false
	}

	if d.cron == nil {
		cl := cronLogger{log: d.log.Sugar()}
		// a tick still running when the next one fires makes that one skip
		d.cron = cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		)
	}
	return d, nil
}

// Start registers the enabled loops and launches the scheduler.
func (d *Dispatcher) Start() error {
	if d.liveEnabled {
		if _, err := d.cron.AddFunc(d.liveSchedule, d.job(LoopLive, d.liveTimeout, d.RunLive)); err != nil {
			return fmt.Errorf("dispatch: schedule live loop: %w", err)
		}
	}
	if d.digestEnabled {
		if _, err := d.cron.AddFunc(d.digestSchedule, d.job(LoopDigest, d.digestTimeout, d.RunDigest)); err != nil {
			return fmt.Errorf("dispatch: schedule digest loop: %w", err)
		}
	}
	if !d.liveEnabled && !d.digestEnabled {
		d.log.Warn("no dispatch loop enabled")
		return nil
	}

	d.log.Info("dispatch loops scheduled",
		zap.Bool("live", d.liveEnabled), zap.String("live_schedule", d.liveSchedule),
		zap.Bool("digest", d.digestEnabled), zap.String("digest_schedule", d.digestSchedule))
	d.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done when running ticks finish.
func (d *Dispatcher) Stop() context.Context {
	if d.cron == nil {
		return context.Background()
	}
	return d.cron.Stop()
}

// RunOnce runs every enabled loop once, live first.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	var errs error
	if d.liveEnabled {
		_, err := d.RunLive(ctx)
		errs = multierr.Append(errs, err)
	}
	if d.digestEnabled {
		_, err := d.RunDigest(ctx)
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (d *Dispatcher) job(loop string, timeout time.Duration, run func(context.Context) (TickReport, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := run(ctx); err != nil {
			d.log.Warn("dispatch tick finished with errors", zap.String("loop", loop), zap.Error(err))
		}
	}
}

// RunLive pushes new alerts to every user currently holding a live connection.
// The delivered ids of a user are persisted once, after that user's pushes.
func (d *Dispatcher) RunLive(ctx context.Context) (TickReport, error) {
	if d.deps.Registry == nil {
		return TickReport{}, errors.New("dispatch: live loop has no registry")
	}
	ctx = ensureContext(ctx)
	start := time.Now()

	connected := d.deps.Registry.ConnectedUserIDs()
	if len(connected) == 0 {
		metrics.DispatchTicks.WithLabelValues(LoopLive, monitoring.ResultIdle).Inc()
		monitoring.RecordJobRun(LoopLive, monitoring.ResultIdle, "", time.Since(start))
		return TickReport{}, nil
	}

	subscribers, err := d.deps.Users.ListSubscribers(ctx, connected)
	if err != nil {
		d.observe(LoopLive, start, err)
		return TickReport{}, fmt.Errorf("dispatch: live: list subscribers: %w", err)
	}

	report, err := d.forEach(ctx, subscribers, func(ctx context.Context, sub services.Subscriber) (services.DeliveryReport, error) {
		return d.processUser(ctx, sub, services.ChannelLive, services.PersistBatch, d.pushLive(sub.ID))
	})
	d.observe(LoopLive, start, err)
	return report, err
}

// RunDigest mails new alerts to every user with a watchlist who has not
// turned e-mail off. Each delivered id is persisted right after its handoff.
func (d *Dispatcher) RunDigest(ctx context.Context) (TickReport, error) {
	if d.deps.Mailer == nil || d.deps.Composer == nil {
		return TickReport{}, errors.New("dispatch: digest loop has no mailer")
	}
	ctx = ensureContext(ctx)
	start := time.Now()

	subscribers, err := d.deps.Users.ListSubscribers(ctx, nil)
	if err != nil {
		d.observe(LoopDigest, start, err)
		return TickReport{}, fmt.Errorf("dispatch: digest: list subscribers: %w", err)
	}

	optedIn := subscribers[:0]
	for _, sub := range subscribers {
		if sub.Preferences.EmailEnabled() {
			optedIn = append(optedIn, sub)
		}
	}

	report, err := d.forEach(ctx, optedIn, func(ctx context.Context, sub services.Subscriber) (services.DeliveryReport, error) {
		return d.processUser(ctx, sub, services.ChannelDigest, services.PersistEach, d.sendMail(sub.Email))
	})
	d.observe(LoopDigest, start, err)
	return report, err
}

func (d *Dispatcher) processUser(ctx context.Context, sub services.Subscriber, channel string, mode services.PersistMode, deliver services.DeliverFunc) (services.DeliveryReport, error) {
	if len(sub.Watchlist) == 0 {
		return services.DeliveryReport{}, nil
	}
	candidates, err := d.deps.Matcher.Match(ctx, sub.Watchlist, sub.Preferences)
	if err != nil {
		return services.DeliveryReport{}, fmt.Errorf("match: %w", err)
	}
	if len(candidates) == 0 {
		return services.DeliveryReport{}, nil
	}
	return d.deps.Ledger.Deliver(ctx, sub.ID, channel, candidates, mode, deliver)
}

// forEach runs fn per user with bounded concurrency. A failing user is logged
// and never stops the others.
func (d *Dispatcher) forEach(ctx context.Context, subscribers []services.Subscriber, fn func(context.Context, services.Subscriber) (services.DeliveryReport, error)) (TickReport, error) {
	var (
		mu     sync.Mutex
		report = TickReport{Users: len(subscribers)}
		errs   error
	)

	var g errgroup.Group
	g.SetLimit(d.userConcurrency)
	for _, sub := range subscribers {
		g.Go(func() error {
			res, err := fn(ctx, sub)

			mu.Lock()
			defer mu.Unlock()
			report.Delivered += len(res.Delivered)
			report.Failed += res.Failed
			report.Skipped += res.Skipped
			if err != nil {
				d.log.Warn("user dispatch failed", zap.String("user_id", sub.ID), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", sub.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, errs
}

func (d *Dispatcher) pushLive(userID string) services.DeliverFunc {
	return func(_ context.Context, c services.Candidate) error {
		handles := d.deps.Registry.HandlesFor(userID)
		if len(handles) == 0 {
			return ErrNoLiveConnection
		}

		msg := realtime.Message{Stream: realtime.StreamAlerts, Event: realtime.EventAsteroidAlert, Data: c}
		accepted := 0
		var errs error
		for _, h := range handles {
			if err := d.deps.Registry.Deliver(h, msg); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			accepted++
		}
		if accepted == 0 {
			return errs
		}
		return nil
	}
}

func (d *Dispatcher) sendMail(to string) services.DeliverFunc {
	return func(ctx context.Context, c services.Candidate) error {
		msg, err := d.deps.Composer.Compose(to, c)
		if err != nil {
			return err
		}
		mctx, cancel := context.WithTimeout(ctx, d.mailTimeout)
		defer cancel()
		return d.deps.Mailer.Send(mctx, msg)
	}
}

func (d *Dispatcher) observe(loop string, start time.Time, err error) {
	outcome, message := monitoring.ResultOK, ""
	if err != nil {
		outcome, message = monitoring.ResultError, err.Error()
	}
	elapsed := time.Since(start)
	metrics.DispatchTicks.WithLabelValues(loop, outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(loop).Observe(elapsed.Seconds())
	monitoring.RecordJobRun(loop, outcome, message, elapsed)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
