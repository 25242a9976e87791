package briefs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmm-1987/agente/internal/logging"
)

// Tally counts the outcomes of one agenda round.
type Tally struct {
	Sent    int
	Skipped int
	Failed  int
}

// TallyResults counts results by outcome.
func TallyResults(results []DeliveryResult) Tally {
	var t Tally
	for _, r := range results {
		switch {
		case r.Error != nil:
			t.Failed++
		case r.Skipped:
			t.Skipped++
		default:
			t.Sent++
		}
	}
	return t
}

// Round is one pass over every owner with open tasks. Err is set when the
// agenda could not be built; no message was sent then.
type Round struct {
	Started  time.Time
	Finished time.Time
	Tally    Tally
	Err      error
}

// Scheduler sends the morning agenda on a cron schedule read in the
// configured timezone.
type Scheduler struct {
	generator *Generator
	delivery  *DeliveryService
	cfg       *BriefConfig
	loc       *time.Location
	now       func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	job    cron.EntryID
	active bool

	// lastMu is separate from mu: Stop holds mu while a round finishes.
	lastMu sync.Mutex
	last   Round

	log *slog.Logger
}

// NewScheduler creates a scheduler. A nil cfg uses DefaultBriefConfig and a
// nil loc the local zone.
func NewScheduler(generator *Generator, delivery *DeliveryService, cfg *BriefConfig, loc *time.Location) *Scheduler {
	if cfg == nil {
		cfg = DefaultBriefConfig()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		generator: generator,
		delivery:  delivery,
		cfg:       cfg,
		loc:       loc,
		now:       time.Now,
		cron:      cron.New(cron.WithLocation(loc)),
		log:       logging.WithComponent("briefs"),
	}
}

// Start schedules the agenda. It does nothing when briefs are disabled or
// already scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("daily agenda disabled")
		return nil
	}

	job, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.job = job
	s.cron.Start()
	s.active = true

	s.log.Info("daily agenda scheduled",
		slog.String("schedule", s.cfg.Schedule),
		slog.String("timezone", s.loc.String()),
		slog.Time("next", s.cron.Entry(job).Next))
	return nil
}

// Stop unschedules the agenda and waits for a round in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	<-s.cron.Stop().Done()
	s.active = false
	s.log.Info("daily agenda unscheduled")
}

// Active reports whether the agenda is scheduled.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Next returns when the next round starts, or zero when not scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return time.Time{}
	}
	return s.cron.Entry(s.job).Next
}

// LastRound returns the most recent round, scheduled or manual.
func (s *Scheduler) LastRound() Round {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// RunNow builds and sends the agenda immediately.
func (s *Scheduler) RunNow(ctx context.Context) ([]DeliveryResult, error) {
	results, r := s.round(ctx)
	return results, r.Err
}

// tick is the cron job.
func (s *Scheduler) tick(ctx context.Context) {
	results, r := s.round(ctx)
	if r.Err != nil {
		s.log.Error("failed to build agenda", slog.Any("error", r.Err))
		return
	}
	for _, res := range results {
		if res.Error != nil {
			s.log.Error("agenda not delivered",
				slog.Int64("owner_id", res.OwnerID),
				slog.Any("error", res.Error))
		}
	}
	s.log.Info("agenda round finished",
		slog.Int("sent", r.Tally.Sent),
		slog.Int("skipped", r.Tally.Skipped),
		slog.Int("failed", r.Tally.Failed),
		slog.Duration("took", r.Finished.Sub(r.Started)))
}

func (s *Scheduler) round(ctx context.Context) ([]DeliveryResult, Round) {
	r := Round{Started: s.now()}
	var results []DeliveryResult
	agendas, err := s.generator.GenerateDaily(ctx)
	if err != nil {
		r.Err = err
	} else {
		results = s.delivery.DeliverAll(ctx, agendas)
		r.Tally = TallyResults(results)
	}
	r.Finished = s.now()

	s.lastMu.Lock()
	s.last = r
	s.lastMu.Unlock()
	return results, r
}

// Status is a snapshot of the scheduler.
type Status struct {
	Enabled   bool
	Active    bool
	Schedule  string
	Timezone  string
	Next      time.Time
	LastRound Round
}

// Status returns the current schedule and the last round.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:   s.cfg.Enabled,
		Active:    s.active,
		Schedule:  s.cfg.Schedule,
		Timezone:  s.loc.String(),
		LastRound: s.LastRound(),
	}
	if s.active {
		st.Next = s.cron.Entry(s.job).Next
	}
	return st
}
