package rollover

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/database/dbtest"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/repository"
)

const uid = "u1"

// Friday; the archived day is 2024-03-14 and the next weekday is Saturday.
var today = time.Date(2024, 3, 15, 0, 5, 0, 0, time.UTC)

const yesterdayKey = "2024-03-14"

// seed fills the Active-Day Set with one activity per status plus one
// record missing startTime, and schedules two activities for Saturday.
func seed(t *testing.T, store database.Store) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]map[string]any{
		"a": {"id": "a", "category": "Work", "startTime": "09:00 AM", "endTime": "11:00 AM", "score": 8, "status": "COMPLETED"},
		"b": {"id": "b", "category": "Study", "startTime": "11:00 AM", "endTime": "12:00 PM", "score": 0, "status": "NOT_COMPLETED"},
		"c": {"id": "c", "category": "Reading", "startTime": "01:00 PM", "endTime": "02:00 PM", "status": "PENDING"},
		"d": {"id": "d", "category": "Work", "endTime": "05:00 PM", "status": "COMPLETED"},
	}
	for id, doc := range docs {
		if err := store.Set(ctx, "users/u1/today/"+id, doc); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	saturday := []models.Activity{
		{ID: "tpl-1", Category: "Exercise", StartTime: "08:00 AM", EndTime: "09:00 AM", Score: 7, Status: models.StatusCompleted},
		{ID: "tpl-2", Category: "Leisure", StartTime: "02:00 PM", EndTime: "04:00 PM", Status: models.StatusPending},
	}
	if err := repository.NewWeekdays(store).Set(ctx, uid, "Saturday", saturday); err != nil {
		t.Fatalf("seed weekday: %v", err)
	}
}

type finalState struct {
	archived int
	progress *models.ProgressEntry
	active   []models.Activity
}

func readState(t *testing.T, store database.Store) finalState {
	t.Helper()
	ctx := context.Background()
	repos := repository.New(store)

	var st finalState
	archive, err := repos.Archive.Get(ctx, uid, yesterdayKey)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archive != nil {
		st.archived = len(archive.List)
	}
	if st.progress, err = repos.Progress.Get(ctx, uid, yesterdayKey); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if st.active, err = repos.Activities.List(ctx, uid); err != nil {
		t.Fatalf("active: %v", err)
	}
	return st
}

func checkFinalState(t *testing.T, st finalState) {
	t.Helper()
	if st.archived != 4 {
		t.Errorf("archive holds %d records, want 4", st.archived)
	}
	if st.progress == nil {
		t.Fatal("no progress entry")
	}
	if st.progress.CompletedCount != 1 || st.progress.NotCompletedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", st.progress.CompletedCount, st.progress.NotCompletedCount)
	}
	if math.Abs(st.progress.CategoryWiseTime["Work"]-2.0) > 1e-9 {
		t.Errorf("Work time = %v", st.progress.CategoryWiseTime["Work"])
	}
	if math.Abs(st.progress.CategoryWiseEffortScaledTime["Work"]-1.6) > 1e-9 {
		t.Errorf("Work effort = %v", st.progress.CategoryWiseEffortScaledTime["Work"])
	}
	if len(st.active) != 2 {
		t.Fatalf("active set has %d records, want 2", len(st.active))
	}
	for _, a := range st.active {
		if a.ID == "tpl-1" || a.ID == "tpl-2" {
			t.Errorf("template id %s reused", a.ID)
		}
		if a.Status != models.StatusPending || a.Score != 0 {
			t.Errorf("populated activity not reset: %+v", a)
		}
	}
	if st.active[0].Category != "Exercise" || st.active[1].Category != "Leisure" {
		t.Errorf("active = %+v", st.active)
	}
}

func TestRunFullPipeline(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)

	res, err := NewEngine(store).Run(context.Background(), uid, today)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped || res.Date != yesterdayKey {
		t.Errorf("result = %+v", res)
	}
	if res.Archived != 4 || res.Completed != 1 || res.NotCompleted != 1 || res.Dropped != 1 || res.Populated != 2 {
		t.Errorf("result = %+v", res)
	}
	checkFinalState(t, readState(t, store))
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)
	engine := NewEngine(store)
	ctx := context.Background()

	if _, err := engine.Run(ctx, uid, today); err != nil {
		t.Fatal(err)
	}
	first := readState(t, store)

	res, err := engine.Run(ctx, uid, today)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("second run not skipped: %+v", res)
	}
	second := readState(t, store)
	checkFinalState(t, second)
	if first.active[0].ID != second.active[0].ID {
		t.Error("second run repopulated the active set")
	}

	marker, err := engine.LastRun(ctx, uid)
	if err != nil || marker.Date != yesterdayKey || marker.Phase != models.PhaseDone {
		t.Errorf("marker = %+v, %v", marker, err)
	}
}

func TestRunEmptyActiveSet(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	if err := repository.NewWeekdays(store).Set(ctx, uid, "Saturday", []models.Activity{
		{Category: "Exercise", StartTime: "08:00 AM", EndTime: "09:00 AM"},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := NewEngine(store).Run(ctx, uid, today)
	if err != nil {
		t.Fatal(err)
	}
	if res.Archived != 0 || res.Populated != 1 {
		t.Errorf("result = %+v", res)
	}

	st := readState(t, store)
	if st.archived != 0 {
		t.Error("archive written for an empty active set")
	}
	if _, err := store.Get(ctx, "users/u1/activities/"+yesterdayKey); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("archive document exists: %v", err)
	}
	if st.progress == nil {
		t.Fatal("progress entry not written")
	}
	if st.progress.CompletedCount != 0 || st.progress.NotCompletedCount != 0 ||
		len(st.progress.CategoryWiseTime) != 0 || len(st.progress.CategoryWiseEffortScaledTime) != 0 {
		t.Errorf("progress = %+v, want zeros", st.progress)
	}
	if len(st.active) != 1 {
		t.Errorf("active = %+v", st.active)
	}
}

func TestRunEmptyWeekdayLeavesActiveSetEmpty(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "users/u1/today/x", map[string]any{
		"category": "Work", "startTime": "09:00 AM", "endTime": "10:00 AM", "status": "COMPLETED",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := NewEngine(store).Run(ctx, uid, today)
	if err != nil {
		t.Fatal(err)
	}
	if res.Populated != 0 {
		t.Errorf("populated = %d", res.Populated)
	}
	if st := readState(t, store); len(st.active) != 0 || st.archived != 1 {
		t.Errorf("state = %+v", st)
	}
}

func TestRunNoSession(t *testing.T) {
	store := dbtest.NewStore(t)
	_, err := NewEngine(store).Run(context.Background(), "", today)
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestRunResumesAfterFailure(t *testing.T) {
	tests := []struct {
		name       string
		rule       dbtest.Rule
		wantResume models.Phase
	}{
		{"archive write", dbtest.FailOn("set", "/activities/", 1), models.PhaseNone},
		{"progress write", dbtest.FailOn("set", "/progress/", 1), models.PhaseNone},
		{"aggregated marker", dbtest.FailOn("set", "rollover/state", 1), models.PhaseNone},
		{"partial clear", dbtest.FailOn("delete", "/today/", 2), models.PhaseAggregated},
		{"cleared marker", dbtest.FailOn("set", "rollover/state", 2), models.PhaseAggregated},
		{"partial population", dbtest.FailOn("set", "/today/", 2), models.PhaseCleared},
		{"done marker", dbtest.FailOn("set", "rollover/state", 3), models.PhaseCleared},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := dbtest.NewStore(t)
			seed(t, inner)
			store := dbtest.NewFaulty(inner, tt.rule)
			engine := NewEngine(store)
			ctx := context.Background()

			_, err := engine.Run(ctx, uid, today)
			var storeErr *database.StoreError
			if !errors.As(err, &storeErr) || !errors.Is(err, dbtest.ErrInjected) {
				t.Fatalf("first run err = %v, want injected store error", err)
			}

			store.Reset()
			res, err := engine.Run(ctx, uid, today)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if res.Skipped {
				t.Fatal("retry was skipped")
			}
			if res.ResumedFrom != tt.wantResume {
				t.Errorf("resumed from %q, want %q", res.ResumedFrom, tt.wantResume)
			}
			if res.Completed != 1 || res.NotCompleted != 1 {
				t.Errorf("result counts = %+v", res)
			}
			checkFinalState(t, readState(t, inner))
		})
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []models.ProgressEntry
	err     error
}

func (s *recordingSink) WriteProgress(_ context.Context, _ string, entry models.ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

func TestRunPublishesToSink(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)
	sink := &recordingSink{err: errors.New("influx down")}

	if _, err := NewEngine(store, WithProgressSink(sink)).Run(context.Background(), uid, today); err != nil {
		t.Fatalf("sink failure must not fail the run: %v", err)
	}
	if len(sink.entries) != 1 || sink.entries[0].Date != yesterdayKey {
		t.Errorf("sink entries = %+v", sink.entries)
	}
}

func TestConcurrentRunsForSameUser(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)
	engine := NewEngine(store)

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Run(context.Background(), uid, today)
		}(i)
	}
	wg.Wait()

	ran := 0
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		if !res.Skipped {
			ran++
		}
	}
	if ran != 1 {
		t.Errorf("%d runs did work, want 1", ran)
	}
	checkFinalState(t, readState(t, store))
}

func TestRunNextDayArchivesRepopulatedSet(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)
	engine := NewEngine(store)
	ctx := context.Background()

	if _, err := engine.Run(ctx, uid, today); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Run(ctx, uid, today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Date != "2024-03-15" || res.Archived != 2 {
		t.Errorf("next day result = %+v", res)
	}
}

func TestRunOlderDayNeverRegressesMarker(t *testing.T) {
	store := dbtest.NewStore(t)
	seed(t, store)
	engine := NewEngine(store)
	ctx := context.Background()

	if _, err := engine.Run(ctx, uid, today); err != nil {
		t.Fatal(err)
	}
	before := readState(t, store)

	// A backdated run for the day before must not touch the current set.
	res, err := engine.Run(ctx, uid, today.AddDate(0, 0, -1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("backdated run not skipped: %+v", res)
	}
	archive, err := repository.NewArchive(store).Get(ctx, uid, "2024-03-13")
	if err != nil || archive != nil {
		t.Errorf("backdated run archived %+v, %v", archive, err)
	}
	after := readState(t, store)
	if len(after.active) != len(before.active) || after.active[0].ID != before.active[0].ID {
		t.Error("backdated run replaced the active set")
	}

	marker, _ := engine.LastRun(ctx, uid)
	if marker.Date != yesterdayKey || marker.Phase != models.PhaseDone {
		t.Errorf("marker = %+v, want %s done", marker, yesterdayKey)
	}

	// The real yesterday stays done, so a catch-up run is a no-op.
	res, err = engine.Run(ctx, uid, today.Add(14*time.Hour))
	if err != nil || !res.Skipped {
		t.Errorf("catch-up = %+v, %v", res, err)
	}
}

func TestRunSkipsForNewlyRegisteredUser(t *testing.T) {
	store := dbtest.NewStore(t)
	repos := repository.New(store)
	engine := NewEngine(store)
	ctx := context.Background()

	// Registered on Friday afternoon with today's plan already entered.
	afternoon := today.Add(14 * time.Hour)
	if err := repos.Users.Touch(ctx, uid, afternoon); err != nil {
		t.Fatal(err)
	}
	if _, err := repos.Activities.Add(ctx, uid, models.Activity{Category: "Work", StartTime: "09:00 AM", EndTime: "10:00 AM"}); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Run(ctx, uid, afternoon)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("same-day run not skipped: %+v", res)
	}
	if active, _ := repos.Activities.List(ctx, uid); len(active) != 1 {
		t.Errorf("active set = %d, want today's activity kept", len(active))
	}

	// At the next midnight Friday is archived.
	res, err = engine.Run(ctx, uid, today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Date != "2024-03-15" || res.Archived != 1 {
		t.Errorf("midnight result = %+v", res)
	}
}
