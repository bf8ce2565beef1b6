package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charlie0129/daytracker/internal/config"
	"github.com/charlie0129/daytracker/internal/rollover"
)

// RolloverJobName is the name the daily rollover is registered under.
const RolloverJobName = "daily-rollover"

// Runner runs the rollover for one user.
type Runner interface {
	Run(ctx context.Context, uid string, today time.Time) (*rollover.Result, error)
}

// UserLister lists the users the rollover runs for.
type UserLister interface {
	List(ctx context.Context) ([]string, error)
}

// RetryPolicy is an exponential backoff: InitialBackoff, doubled after
// every failed attempt and capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RolloverJob runs the rollover for every registered user, retrying each
// user's run on failure.
type RolloverJob struct {
	runner Runner
	users  UserLister
	policy RetryPolicy
	loc    *time.Location
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRolloverJob(runner Runner, users UserLister, policy RetryPolicy, loc *time.Location) *RolloverJob {
	if loc == nil {
		loc = time.Local
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RolloverJob{
		runner: runner,
		users:  users,
		policy: policy,
		loc:    loc,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunAll runs the rollover for each registered user in turn. Failures are
// logged per user and do not stop the others; the first one is returned.
func (j *RolloverJob) RunAll(ctx context.Context) error {
	users, err := j.users.List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	today := j.now().In(j.loc)
	var firstErr error
	for _, uid := range users {
		if _, err := j.RunUser(ctx, uid, today); err != nil {
			slog.Error("rollover failed", "user", uid, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	slog.Info("rollover pass finished", "users", len(users))
	return firstErr
}

// RunUser runs the rollover for uid, retrying with backoff. ErrNoSession
// is returned at once; the next scheduled pass picks the user up again.
func (j *RolloverJob) RunUser(ctx context.Context, uid string, today time.Time) (*rollover.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= j.policy.MaxAttempts; attempt++ {
		res, err := j.runner.Run(ctx, uid, today)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, rollover.ErrNoSession) {
			slog.Info("no session, rollover deferred", "user", uid)
			return nil, err
		}
		lastErr = err
		if attempt == j.policy.MaxAttempts {
			break
		}

		wait := j.policy.Backoff(attempt)
		slog.Warn("rollover attempt failed, retrying",
			"user", uid, "attempt", attempt, "backoff", wait.String(), "error", err)
		if err := j.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("rollover for %s: %w (last error: %v)", uid, err, lastErr)
		}
	}
	return nil, fmt.Errorf("rollover for %s failed after %d attempts: %w", uid, j.policy.MaxAttempts, lastErr)
}

// Service wires a RolloverJob to the cron scheduler.
type Service struct {
	sched    *Scheduler
	job      *RolloverJob
	schedule string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(cfg *config.Config, runner Runner, users UserLister) *Service {
	loc := cfg.GetTimezone()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sched:    New(loc),
		job:      NewRolloverJob(runner, users, RetryPolicyFromConfig(cfg.Retry), loc),
		schedule: cfg.RolloverSchedule,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Job exposes the rollover job for manual runs.
func (s *Service) Job() *RolloverJob {
	return s.job
}

// Start registers the daily rollover, runs one catch-up pass for a
// boundary missed while the process was down, then starts cron.
// Users already rolled over are skipped by the engine.
func (s *Service) Start(ctx context.Context) error {
	context.AfterFunc(ctx, s.cancel)

	if err := s.sched.Register(RolloverJobName, s.schedule, func() {
		slog.Info("running scheduled rollover", "schedule", s.schedule)
		if err := s.job.RunAll(s.ctx); err != nil {
			slog.Error("scheduled rollover failed", "error", err)
		}
	}); err != nil {
		s.cancel()
		return err
	}

	if err := s.job.RunAll(s.ctx); err != nil {
		slog.Error("catch-up rollover failed", "error", err)
	}

	next, _ := s.sched.Next(RolloverJobName)
	slog.Info("scheduled daily rollover", "schedule", s.schedule, "timezone", s.sched.loc.String(), "next", next.Format(time.RFC3339))
	s.sched.Start()
	return nil
}

// Stop cancels in-flight retries and waits for the running job.
func (s *Service) Stop() {
	s.cancel()
	s.sched.Stop()
}
