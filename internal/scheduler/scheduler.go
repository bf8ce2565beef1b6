// Package scheduler runs the daily rollover on a cron schedule.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler is a cron runner whose jobs are registered by name.
// Registering a name again replaces the previous schedule.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		loc:     loc,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules job under name with a standard 5-field cron spec.
func (s *Scheduler) Register(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev)
		slog.Info("replaced scheduled job", "name", name, "schedule", spec)
	}
	s.entries[name] = id
	return nil
}

// Unregister removes the job registered under name, if any.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns the next fire time of the job registered under name.
// Before Start it is computed from the current time.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if !entry.Next.IsZero() {
		return entry.Next, true
	}
	return entry.Schedule.Next(time.Now().In(s.loc)), true
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron runner and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
