package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/daytracker/internal/config"
	"github.com/charlie0129/daytracker/internal/database/dbtest"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/repository"
	"github.com/charlie0129/daytracker/internal/rollover"
)

func TestRegisterReplacesByName(t *testing.T) {
	s := New(time.UTC)
	noop := func() {}

	if err := s.Register(RolloverJobName, "0 0 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(RolloverJobName, "30 1 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("other", "0 12 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if n := s.Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}

	next, ok := s.Next(RolloverJobName)
	if !ok {
		t.Fatal("job not registered")
	}
	if next.Hour() != 1 || next.Minute() != 30 {
		t.Errorf("next = %s, want the replaced 01:30 schedule", next)
	}

	s.Unregister("other")
	if n := s.Len(); n != 1 {
		t.Errorf("Len after Unregister = %d, want 1", n)
	}
}

func TestRegisterDefaultFiresAtNextMidnight(t *testing.T) {
	s := New(time.UTC)
	if err := s.Register(RolloverJobName, "0 0 * * *", func() {}); err != nil {
		t.Fatal(err)
	}
	next, _ := s.Next(RolloverJobName)
	now := time.Now().UTC()
	want := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(time.UTC)
	if err := s.Register("bad", "every day", func() {}); err == nil {
		t.Error("expected error")
	}
	if s.Len() != 0 {
		t.Error("bad spec registered")
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	// errs[uid] is consumed one error per call; nil entries succeed.
	errs map[string][]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[string]int{}, errs: map[string][]error{}}
}

func (f *fakeRunner) Run(_ context.Context, uid string, _ time.Time) (*rollover.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[uid]++
	if q := f.errs[uid]; len(q) > 0 {
		f.errs[uid] = q[1:]
		if q[0] != nil {
			return nil, q[0]
		}
	}
	return &rollover.Result{UserID: uid}, nil
}

func (f *fakeRunner) count(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uid]
}

type staticUsers []string

func (u staticUsers) List(context.Context) ([]string, error) { return u, nil }

func newJob(runner Runner, users UserLister, attempts int) (*RolloverJob, *[]time.Duration) {
	job := NewRolloverJob(runner, users, RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
	}, time.UTC)
	var waits []time.Duration
	job.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return job, &waits
}

var errTransient = errors.New("store unavailable")

func TestRunUserRetriesUntilSuccess(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["u1"] = []error{errTransient, errTransient, nil}
	job, waits := newJob(runner, nil, 5)

	res, err := job.RunUser(context.Background(), "u1", time.Now())
	if err != nil || res == nil {
		t.Fatalf("RunUser = %v, %v", res, err)
	}
	if runner.count("u1") != 3 {
		t.Errorf("calls = %d, want 3", runner.count("u1"))
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*waits) != len(want) || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Errorf("waits = %v, want %v", *waits, want)
	}
}

func TestRunUserGivesUp(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["u1"] = []error{errTransient, errTransient, errTransient}
	job, waits := newJob(runner, nil, 3)

	_, err := job.RunUser(context.Background(), "u1", time.Now())
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v", err)
	}
	if runner.count("u1") != 3 || len(*waits) != 2 {
		t.Errorf("calls = %d, waits = %v", runner.count("u1"), *waits)
	}
}

func TestRunUserDoesNotRetryNoSession(t *testing.T) {
	runner := newFakeRunner()
	runner.errs[""] = []error{rollover.ErrNoSession}
	job, waits := newJob(runner, nil, 5)

	_, err := job.RunUser(context.Background(), "", time.Now())
	if !errors.Is(err, rollover.ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	if runner.count("") != 1 || len(*waits) != 0 {
		t.Errorf("calls = %d, waits = %v", runner.count(""), *waits)
	}
}

func TestRunUserStopsOnCancel(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["u1"] = []error{errTransient, errTransient, errTransient}
	job, _ := newJob(runner, nil, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := job.RunUser(ctx, "u1", time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if runner.count("u1") != 1 {
		t.Errorf("calls = %d, want 1", runner.count("u1"))
	}
}

func TestBackoffCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["bad"] = []error{errTransient}
	job, _ := newJob(runner, staticUsers{"bad", "good"}, 1)

	err := job.RunAll(context.Background())
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v", err)
	}
	if runner.count("good") != 1 {
		t.Error("good user was not rolled over")
	}
}

func TestServiceStartRunsCatchUp(t *testing.T) {
	cfg := &config.Config{
		Timezone:         "UTC",
		RolloverSchedule: "0 0 * * *",
		Retry:            config.RetryConfig{MaxAttempts: 1},
	}
	runner := newFakeRunner()
	svc := NewService(cfg, runner, staticUsers{"u1", "u2"})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	if runner.count("u1") != 1 || runner.count("u2") != 1 {
		t.Errorf("catch-up calls = %v", runner.calls)
	}
	if _, ok := svc.sched.Next(RolloverJobName); !ok {
		t.Error("rollover not registered")
	}
}

func TestServiceStartRejectsBadSchedule(t *testing.T) {
	cfg := &config.Config{RolloverSchedule: "nope", Retry: config.RetryConfig{MaxAttempts: 1}}
	svc := NewService(cfg, newFakeRunner(), staticUsers{})
	if err := svc.Start(context.Background()); err == nil {
		svc.Stop()
		t.Fatal("expected error")
	}
}

func TestCatchUpKeepsSameDayUsersSet(t *testing.T) {
	store := dbtest.NewStore(t)
	repos := repository.New(store)
	ctx := context.Background()

	// Registered Monday afternoon; the process restarts the same day.
	monday := time.Date(2024, 3, 18, 14, 0, 0, 0, time.UTC)
	if err := repos.Users.Touch(ctx, "u1", monday); err != nil {
		t.Fatal(err)
	}
	if _, err := repos.Activities.Add(ctx, "u1", models.Activity{Category: "Work", StartTime: "09:00 AM", EndTime: "10:00 AM"}); err != nil {
		t.Fatal(err)
	}

	job := NewRolloverJob(rollover.NewEngine(store), repos.Users, RetryPolicy{MaxAttempts: 1}, time.UTC)
	job.now = func() time.Time { return monday }
	if err := job.RunAll(ctx); err != nil {
		t.Fatal(err)
	}

	active, err := repos.Activities.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("active after catch-up = %d, want 1", len(active))
	}
	if archive, _ := repos.Archive.Get(ctx, "u1", "2024-03-17"); archive != nil {
		t.Errorf("Monday's set archived as Sunday: %+v", archive)
	}

	// The midnight pass archives Monday.
	job.now = func() time.Time { return monday.Add(10 * time.Hour) }
	if err := job.RunAll(ctx); err != nil {
		t.Fatal(err)
	}
	if archive, _ := repos.Archive.Get(ctx, "u1", "2024-03-18"); archive == nil || len(archive.List) != 1 {
		t.Errorf("Monday archive = %+v", archive)
	}
}
