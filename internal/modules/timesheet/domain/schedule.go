package domain

import (
	"strings"
	"time"
)

var (
	DefaultTriggerTime   = MustTimeValue("10:00")
	DefaultEntryStart    = MustTimeValue("00:00")
	DefaultEntryDuration = MustTimeValue("07:24")
)

type Schedule struct {
	TriggerTime    TimeValue
	EntryStart     TimeValue
	EntryDuration  TimeValue
	LastSubmission string
}

func DefaultSchedule() Schedule {
	return Schedule{
		TriggerTime:   DefaultTriggerTime,
		EntryStart:    DefaultEntryStart,
		EntryDuration: DefaultEntryDuration,
	}
}

func (s Schedule) SubmittedOn(now time.Time) bool {
	return s.LastSubmission != "" && s.LastSubmission == DateOf(now)
}

// NextTriggerDelay never yields a second fire on a day that already has an entry.
func (s Schedule) NextTriggerDelay(now time.Time) time.Duration {
	return s.NextTrigger(now).Sub(now)
}

// NextTrigger is the next wall-clock occurrence of the trigger time, so a
// daylight saving change does not shift it by an hour.
func (s Schedule) NextTrigger(now time.Time) time.Time {
	days := 0
	if s.TriggerTime.Duration() < TimeOfDay(now) || s.SubmittedOn(now) {
		days = 1
	}
	trigger := s.TriggerTime.Duration()
	return time.Date(
		now.Year(), now.Month(), now.Day()+days,
		int(trigger/time.Hour), int(trigger%time.Hour/time.Minute), int(trigger%time.Minute/time.Second),
		0, now.Location(),
	)
}

// EntryFor builds today's entry from the configured start and duration.
func (s Schedule) EntryFor(now time.Time) Entry {
	return Entry{
		Day:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		Start:    s.EntryStart,
		Duration: s.EntryDuration,
	}
}

// Configure validates the three configure arguments in order and reports
// the first field that fails.
func (s Schedule) Configure(start, duration, trigger string) (Schedule, error) {
	startValue, err := ParseTimeValue(start)
	if err != nil {
		return s, &TimeFormatError{Field: FieldStart, Err: err}
	}
	durationValue, err := ParseTimeValue(duration)
	if err != nil {
		return s, &TimeFormatError{Field: FieldDuration, Err: err}
	}
	if durationValue <= 0 || startValue.Duration()+durationValue.Duration() > Day {
		return s, &TimeFormatError{Field: FieldDuration, Err: ErrInvalidTime}
	}
	triggerValue, err := ParseTimeValue(trigger)
	if err != nil {
		return s, &TimeFormatError{Field: FieldTrigger, Err: err}
	}
	s.EntryStart = startValue
	s.EntryDuration = durationValue
	s.TriggerTime = triggerValue
	return s, nil
}

type Entry struct {
	Day      time.Time
	Start    TimeValue
	Duration TimeValue
}

func (e Entry) End() TimeValue {
	return e.Start + e.Duration
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// Preferences is the persisted snapshot of credentials and schedule.
type Preferences struct {
	Username       string     `json:"username,omitempty"`
	Password       string     `json:"password,omitempty"`
	SessionToken   string     `json:"session_token,omitempty"`
	LastSubmission string     `json:"last_submission,omitempty"`
	TriggerTime    *TimeValue `json:"trigger_time,omitempty"`
	EntryStart     *TimeValue `json:"entry_start,omitempty"`
	EntryDuration  *TimeValue `json:"entry_duration,omitempty"`
}

func (p Preferences) Credentials() (Credentials, bool) {
	creds := Credentials{Username: p.Username, Password: p.Password}
	return creds, creds.Valid()
}

// Schedule fills unset fields from defaults.
func (p Preferences) Schedule(defaults Schedule) Schedule {
	out := defaults
	if p.TriggerTime != nil {
		out.TriggerTime = *p.TriggerTime
	}
	if p.EntryStart != nil {
		out.EntryStart = *p.EntryStart
	}
	if p.EntryDuration != nil {
		out.EntryDuration = *p.EntryDuration
	}
	out.LastSubmission = p.LastSubmission
	return out
}

func Snapshot(session Session, schedule Schedule) Preferences {
	trigger, start, duration := schedule.TriggerTime, schedule.EntryStart, schedule.EntryDuration
	prefs := Preferences{
		LastSubmission: schedule.LastSubmission,
		TriggerTime:    &trigger,
		EntryStart:     &start,
		EntryDuration:  &duration,
	}
	if session.Credentials != nil {
		prefs.Username = session.Credentials.Username
		prefs.Password = session.Credentials.Password
	}
	if session.State == AuthAuthenticated {
		prefs.SessionToken = session.Token
	}
	return prefs
}
