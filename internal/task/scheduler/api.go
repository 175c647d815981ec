package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "gamebot/pkg/logx"
)

// AddSchedule registers (or replaces, by name) a job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "30s", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("spread", d.startupSpread))
	return nil
}

// Remove unregisters a job by name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	var sched cron.Schedule
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		dur, err := time.ParseDuration(every)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", d.name, err)
		}
		// Spread first runs so many channels registered together do not fire in lockstep.
		sched, d.startupSpread = makeIntervalScheduleWithSpread(dur, time.Now().In(s.loc), d.name)
	} else {
		parsed, err := s.parser.Parse(d.spec)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", d.name, err)
		}
		sched = parsed
	}
	d.entryID = s.c.Schedule(sched, cron.FuncJob(s.wrap(*d)))
	return nil
}

func (s *Service) wrap(d scheduleDef) func() {
	ctx := s.ctx
	return func() {
		jctx := ctx
		cancel := context.CancelFunc(func() {})
		if d.timeout > 0 {
			jctx, cancel = context.WithTimeout(ctx, d.timeout)
		}
		defer cancel()

		st := s.statsFor(d.name)
		start := time.Now()
		err := d.job(jctx)
		dur := time.Since(start)

		st.mu.Lock()
		st.runs++
		st.lastRun = start
		st.lastDur = dur
		st.lastErr = ""
		if err != nil {
			st.lastErr = err.Error()
		}
		st.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", dur), logx.Err(err))
		}
	}
}

func (s *Service) statsFor(name string) *runStats {
	v, _ := s.stats.LoadOrStore(name, &runStats{})
	return v.(*runStats)
}

// Snapshot reports registered schedules and their recent runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := append([]scheduleDef(nil), s.defs...)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	snap := Snapshot{Running: c != nil}
	if loc != nil {
		snap.Timezone = loc.String()
	}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		st := s.statsFor(d.name)
		st.mu.Lock()
		it.Runs, it.LastErr, it.LastDur = st.runs, st.lastErr, st.lastDur
		st.mu.Unlock()
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
