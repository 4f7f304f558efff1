// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus describes a registered job
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next_run"`
	Prev     time.Time `json:"prev_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Running  bool      `json:"running"`
}

// ErrJobRunning is returned when a job is triggered while a previous run is in progress
var ErrJobRunning = errors.New("job is already running")

type registration struct {
	job      Job
	schedule string
	entry    cron.EntryID
	lastErr  string
	running  bool
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*registration
}

// New creates a new scheduler. Schedules use the six-field format with seconds.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*registration),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 22 * * MON-FRI" - 10 PM weekdays
//   - "@every 30s"         - Every 30 seconds
//
// A run that is still in progress when the next tick fires is skipped.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	reg := &registration{job: job, schedule: schedule}

	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		err := s.run(reg)
		switch {
		case errors.Is(err, ErrJobRunning):
			s.log.Debug().Str("job", job.Name()).Msg("Job still running, tick skipped")
		case err != nil:
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		default:
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	}))

	id, err := s.cron.AddJob(schedule, wrapped)
	if err != nil {
		return err
	}
	reg.entry = id

	s.mu.Lock()
	s.jobs[job.Name()] = reg
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule).
// A registered job that is mid-run is not started again; ErrJobRunning is returned.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")

	s.mu.Lock()
	reg, ok := s.jobs[job.Name()]
	s.mu.Unlock()
	if !ok {
		return job.Run()
	}
	return s.run(reg)
}

// Jobs returns the registered jobs sorted by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, reg := range s.jobs {
		entry := s.cron.Entry(reg.entry)
		out = append(out, JobStatus{
			Name:     name,
			Schedule: reg.schedule,
			Next:     entry.Next,
			Prev:     entry.Prev,
			LastErr:  reg.lastErr,
			Running:  reg.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(reg *registration) error {
	s.mu.Lock()
	if reg.running {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", reg.job.Name(), ErrJobRunning)
	}
	reg.running = true
	s.mu.Unlock()

	err := reg.job.Run()

	s.mu.Lock()
	reg.running = false
	reg.lastErr = ""
	if err != nil {
		reg.lastErr = err.Error()
	}
	s.mu.Unlock()
	return err
}
