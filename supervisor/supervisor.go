// Package supervisor runs the configured job: once, or on a cron schedule
// until shutdown. Every invocation is recorded in the store so restarts can
// tell what happened while the process was away.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	config "github.com/trade-stasvinokur/lewis-listing-strategy"
	"github.com/trade-stasvinokur/lewis-listing-strategy/environment"
	"github.com/trade-stasvinokur/lewis-listing-strategy/runner"
	"github.com/trade-stasvinokur/lewis-listing-strategy/scheduler"
	"github.com/trade-stasvinokur/lewis-listing-strategy/store"
)

type Supervisor struct {
	cfg   *config.Config
	env   *environment.Environment
	job   runner.Job
	store *store.Store
	sched *scheduler.Scheduler
}

// New wires a supervisor. The store may be nil, in which case invocations
// run unrecorded.
func New(cfg *config.Config, env *environment.Environment, job runner.Job, st *store.Store) *Supervisor {
	return &Supervisor{cfg: cfg, env: env, job: job, store: st}
}

// RunOnce executes a single invocation and returns its exit code.
func (s *Supervisor) RunOnce(ctx context.Context) int {
	id := uuid.NewString()
	start := s.env.Now()
	s.recordStart(ctx, id, start.Unix())

	runCtx := ctx
	if s.cfg.Job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Job.Timeout)
		defer cancel()
	}

	log.Printf("Running job %s as invocation %s", s.job.Name(), id)
	err := s.job.Run(runCtx)
	end := s.env.Now()
	code := runner.ExitCode(err)

	status := store.StatusSucceeded
	errMsg := ""
	if err != nil {
		status = store.StatusFailed
		errMsg = err.Error()
		log.Printf("Job %s failed after %s with exit code %d: %v", s.job.Name(), end.Sub(start).Round(time.Millisecond), code, err)
	} else {
		log.Printf("Job %s succeeded in %s", s.job.Name(), end.Sub(start).Round(time.Millisecond))
	}
	s.recordFinish(ctx, id, status, code, runner.Output(s.job), errMsg, end.Unix())
	return code
}

// Start recovers interrupted invocations, schedules the job, and blocks until
// ctx is done. Shutdown waits for an in-flight invocation to finish.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.store != nil {
		n, err := s.store.RecoverStale(ctx, s.env.Now().Unix())
		if err != nil {
			log.Printf("Failed to recover stale invocations: %v", err)
		} else if n > 0 {
			log.Printf("Marked %d interrupted invocation(s) aborted", n)
		}
		last, err := s.store.LastInvocation(ctx, s.job.Name())
		if err != nil {
			log.Printf("Failed to load last invocation: %v", err)
		} else if last != nil {
			log.Printf("Last invocation %s: status %s, exit code %d, finished %s",
				last.ID, last.Status, last.ExitCode, time.Unix(last.FinishedAt, 0).In(s.env.Location()).Format(time.RFC3339))
		}
	}

	s.sched = scheduler.New(s.env.Location(), log.Default())
	err := s.sched.Schedule(s.job.Name(), s.cfg.Job.Schedule, func(c context.Context) {
		s.RunOnce(c)
	})
	if err != nil {
		s.sched.Stop()
		return fmt.Errorf("schedule %q: %w", s.cfg.Job.Schedule, err)
	}
	if next, ok := s.sched.Next(s.job.Name()); ok {
		log.Printf("Job %s scheduled (%s in %s), next run %s",
			s.job.Name(), s.cfg.Job.Schedule, s.env.TZ(), next.Format(time.RFC3339))
	}

	<-ctx.Done()
	log.Println("Shutting down scheduler")
	s.sched.Stop()
	return nil
}

func (s *Supervisor) recordStart(ctx context.Context, id string, startedAt int64) {
	if s.store == nil {
		return
	}
	err := s.store.StartInvocation(ctx, store.Invocation{
		ID:        id,
		Job:       s.job.Name(),
		Status:    store.StatusRunning,
		StartedAt: startedAt,
	})
	if err != nil {
		log.Printf("Failed to record invocation %s: %v", id, err)
	}
}

func (s *Supervisor) recordFinish(ctx context.Context, id, status string, code int, output, errMsg string, finishedAt int64) {
	if s.store == nil {
		return
	}
	// The record must land even when shutdown already canceled ctx.
	err := s.store.FinishInvocation(context.WithoutCancel(ctx), id, status, code, output, errMsg, finishedAt)
	if err != nil {
		log.Printf("Failed to finish invocation %s: %v", id, err)
	}
}
