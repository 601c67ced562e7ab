package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"
)

type JobFunc func(context.Context)

// Scheduler triggers the designated job on a cron cadence in the sandbox
// timezone. Overlapping triggers of the same entry are skipped: at most one
// invocation of a job runs at a time.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func New(loc *time.Location, logger *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default()
	}
	cl := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
	c.Start()
	return &Scheduler{cron: c, entries: map[string]cron.EntryID{}}
}

// Schedule uses standard cron syntax (with seconds): "* * * * * *".
// Scheduling a name twice replaces the earlier entry.
func (s *Scheduler) Schedule(name string, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(spec, func() { fn(context.Background()) })
	if err != nil {
		return err
	}
	s.entries[name] = id
	return nil
}

func (s *Scheduler) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next reports the next trigger time for a scheduled name.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.ID != id {
		return time.Time{}, false
	}
	return e.Next, true
}

// Stop ends triggering and waits for a running invocation to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
