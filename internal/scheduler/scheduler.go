// Package scheduler runs the periodic housekeeping this service needs:
// sweeping timed-out streaming replies and refreshing this node's cluster
// presence claims. Quiescent hubs are swept by hub.Manager's own loop, not
// by this scheduler.
//
// A single shared *cron.Cron instance holds every job, registered by name
// with a panic-recovered wrapper. This service has a small, fixed set of
// housekeeping jobs known at startup, so there is no Remove/RemoveAll API.
package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Scheduler wraps a single cron instance running this service's
// housekeeping jobs.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a Scheduler. Call Start once every job has been added with
// Every.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Every registers fn to run on the given cron schedule (standard 5-field
// syntax, or a "@every 30s"-style descriptor). Panics inside fn are
// recovered and logged so one failing sweep never kills the process.
func (s *Scheduler) Every(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, wrap(name, fn))
	return err
}

func wrap(name string, fn func()) func() {
	return func() {
		log := logger.Scheduler()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Interface("panic", r).Msg("housekeeping job panicked")
			}
		}()
		log.Debug().Str("job", name).Msg("running housekeeping job")
		fn()
	}
}

// Start begins running scheduled jobs in a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
