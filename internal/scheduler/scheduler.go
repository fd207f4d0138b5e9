// Package scheduler registers the recurring check jobs. Registration is
// idempotent by job identity, and all firings funnel through one worker, so
// two equivalent schedules can never produce overlapping cycles.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notewatch/internal/config"
	"notewatch/pkg/logx"
)

// Days selects which weekdays a job fires on.
type Days int

const (
	AllDays Days = iota
	WeekdaysOnly
)

func (d Days) String() string {
	if d == WeekdaysOnly {
		return "weekdays"
	}
	return "all-days"
}

func ParseDays(s string) (Days, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return AllDays, nil
	case "weekdays":
		return WeekdaysOnly, nil
	default:
		return AllDays, fmt.Errorf("unknown days selector %q", s)
	}
}

// Params are the schedule parameters of a job. Their canonical string form
// is the job identity: registering the same parameters twice collapses into
// one active job.
type Params struct {
	Days Days
}

func (p Params) Identity() string { return "check@" + p.Days.String() }

// cronSpec derives the recurrence: once per day at the configured HH:MM,
// Monday-Friday for WeekdaysOnly.
func (p Params) cronSpec(hour, minute int) string {
	if p.Days == WeekdaysOnly {
		return fmt.Sprintf("%d %d * * 1-5", minute, hour)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

type Config struct {
	// CheckAt is the trigger time-of-day, "HH:MM". Defaults to 09:00.
	CheckAt    string
	Timezone   string
	RunTimeout time.Duration // per-cycle bound, default 5m
	QueueSize  int
}

type task struct {
	identity string
	run      func(ctx context.Context) error
}

type Service struct {
	cfg Config
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	active  map[string]cron.EntryID
	queue   chan task
	stopCh  chan struct{}
	started bool

	workerWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		}
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		loc:    loc,
		c:      cron.New(cron.WithLocation(loc)),
		active: map[string]cron.EntryID{},
		queue:  make(chan task, cfg.QueueSize),
	}
}

// Register adds a recurring job for params. Registering an identity that is
// already active is a no-op, so callers can re-register on every startup
// path without creating duplicate triggers.
func (s *Service) Register(p Params, job func(ctx context.Context) error) error {
	identity := p.Identity()

	hour, minute := 9, 0
	if at := strings.TrimSpace(s.cfg.CheckAt); at != "" {
		h, m, err := config.ParseHHMM(at)
		if err != nil {
			return fmt.Errorf("check_at: %w", err)
		}
		hour, minute = h, m
	}
	spec := p.cronSpec(hour, minute)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[identity]; ok {
		s.log.Debug("job already registered", logx.String("identity", identity))
		return nil
	}

	eid, err := s.c.AddFunc(spec, func() { s.enqueue(task{identity: identity, run: job}) })
	if err != nil {
		return fmt.Errorf("register %s: %w", identity, err)
	}
	s.active[identity] = eid
	s.log.Info("job registered",
		logx.String("identity", identity),
		logx.String("spec", spec),
		logx.String("tz", s.loc.String()))
	return nil
}

// ActiveJobs returns the registered identities, for introspection and tests.
func (s *Service) ActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()

	// One worker: cycles for any identity run strictly one at a time, which
	// turns the documented non-overlap assumption into an invariant.
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(ctx, stopCh, queue)
	}()

	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.active)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	<-s.c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; continuing shutdown")
	}
}

func (s *Service) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		// A full queue means the previous cycle is badly stuck; dropping the
		// firing is safer than stacking up identical cycles.
		s.log.Warn("scheduler queue full; dropping firing", logx.String("identity", t.identity))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("identity", t.identity),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	err := t.run(runCtx)
	cancel()

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("identity", t.identity), logx.Err(err), logx.Duration("dur", dur))
	} else {
		s.log.Debug("job completed", logx.String("identity", t.identity), logx.Duration("dur", dur))
	}
}
