package scheduler

import (
	"context"
	"log/slog"
	"time"

	"campaign_watch/internal/model"
	"campaign_watch/internal/timeparse"
)

// DefaultTick is how often armed alarms are evaluated.
const DefaultTick = 30 * time.Second

// Dispatcher performs the side effects of a fired alarm.
type Dispatcher interface {
	Fire(ctx context.Context, alarm model.Alarm) error
}

// AlarmSource owns the armed alarms. TakeAlarms must remove the alarms split
// selects in the same critical section that reads them.
type AlarmSource interface {
	TakeAlarms(now time.Time, split func(alarms []model.Alarm, year int, loc *time.Location) (taken, kept []model.Alarm)) []model.Alarm
}

// Scheduler periodically fires alarms whose lead time has been reached.
type Scheduler struct {
	alarms     AlarmSource
	dispatcher Dispatcher
	log        *slog.Logger
	tick       time.Duration
	now        func() time.Time
}

// New creates a Scheduler ticking every DefaultTick.
func New(alarms AlarmSource, dispatcher Dispatcher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		alarms:     alarms,
		dispatcher: dispatcher,
		log:        log,
		tick:       DefaultTick,
		now:        time.Now,
	}
}

// SetTickInterval overrides the default 30-second evaluation interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetClock overrides the time source (useful for testing).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run evaluates alarms immediately and then on every tick, blocking until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx, s.now())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick fires every alarm due at now and returns them. Fired alarms are
// removed before dispatch, so each alarm fires at most once; a failed
// notification is logged and not retried.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []model.Alarm {
	fired := s.alarms.TakeAlarms(now, func(alarms []model.Alarm, year int, loc *time.Location) ([]model.Alarm, []model.Alarm) {
		return Due(alarms, now, year, loc)
	})

	for _, a := range fired {
		s.log.Info("alarm fired", "csq", a.CSQ, "title", a.Title, "lead_minutes", a.LeadMinutes)
		if err := s.dispatcher.Fire(ctx, a); err != nil {
			s.log.Warn("notification failed", "csq", a.CSQ, "error", err)
		}
	}
	return fired
}

// Due splits alarms into those due at now and the rest. An alarm is due when
// the whole minutes between now and its participation time, rounded down,
// equal its lead time. Alarms whose time cannot be parsed are never due.
func Due(alarms []model.Alarm, now time.Time, year int, loc *time.Location) (due, remaining []model.Alarm) {
	for _, a := range alarms {
		at, ok := timeparse.Parse(a.ParticipationTime, year, loc)
		if ok && MinutesUntil(at, now) == a.LeadMinutes {
			due = append(due, a)
			continue
		}
		remaining = append(remaining, a)
	}
	return due, remaining
}

// MinutesUntil returns floor((at - now) / 1 minute).
func MinutesUntil(at, now time.Time) int {
	d := at.Sub(now)
	m := d / time.Minute
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return int(m)
}
