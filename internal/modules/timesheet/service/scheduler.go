package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"kimaid/internal/modules/timesheet/domain"
	timesheetout "kimaid/internal/modules/timesheet/port/out"
	"kimaid/internal/platform/clock"
	"kimaid/internal/platform/id"
)

const (
	DefaultRetryInterval = 10 * time.Second
	DefaultMaxTries      = 5
)

type timerMode int

const (
	timerOff timerMode = iota
	timerTrigger
	timerRetry
)

type SchedulerConfig struct {
	Defaults      domain.Schedule
	Backoff       backoff.BackOff
	MaxTries      int
	ResumeOnStart bool
}

// Scheduler is the session and scheduling state machine. It is not safe for
// concurrent use; the daemon loop is its only caller.
type Scheduler struct {
	clock    clock.Clock
	ids      id.Generator
	remote   timesheetout.RemoteClient
	prefs    timesheetout.PreferenceStore
	history  timesheetout.HistoryStore
	recorder timesheetout.Recorder
	logger   *slog.Logger

	defaults domain.Schedule
	backoff  backoff.BackOff
	maxTries int
	resume   bool

	session        domain.Session
	schedule       domain.Schedule
	mode           timerMode
	deadline       time.Time
	gaveUp         bool
	submitFailures int
}

func NewScheduler(
	clk clock.Clock,
	ids id.Generator,
	remote timesheetout.RemoteClient,
	prefs timesheetout.PreferenceStore,
	history timesheetout.HistoryStore,
	recorder timesheetout.Recorder,
	logger *slog.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(DefaultRetryInterval)
	}
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	if cfg.Defaults == (domain.Schedule{}) {
		cfg.Defaults = domain.DefaultSchedule()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		clock:    clk,
		ids:      ids,
		remote:   remote,
		prefs:    prefs,
		history:  history,
		recorder: recorder,
		logger:   logger,
		defaults: cfg.Defaults,
		backoff:  cfg.Backoff,
		maxTries: cfg.MaxTries,
		resume:   cfg.ResumeOnStart,
		session:  domain.NewSession(),
		schedule: cfg.Defaults,
	}
}

// Restore loads persisted preferences. With resume enabled, stored credentials
// are remembered and an immediate tick is armed to re-authenticate. An
// unreadable preference file is logged and the daemon starts from defaults.
func (s *Scheduler) Restore(ctx context.Context) {
	prefs, err := s.prefs.Load(ctx)
	if err != nil {
		s.logger.Error("load preferences, starting from defaults", "error", err)
		prefs = domain.Preferences{}
	}
	s.schedule = prefs.Schedule(s.defaults)
	s.session = domain.NewSession()
	s.disarm()

	creds, ok := prefs.Credentials()
	if ok && s.resume {
		s.session.Remember(creds)
		s.armAt(s.clock.Now(), timerRetry)
		s.logger.Info("resuming stored session", "username", creds.Username)
	}
	s.recorder.State(s.session.State)
}

// Dispatch parses and executes one command line and returns the reply.
func (s *Scheduler) Dispatch(ctx context.Context, text string) string {
	cmd, err := domain.ParseCommand(text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyCommand):
			return domain.ReplyEmpty
		case errors.Is(err, domain.ErrWrongArity):
			return fmt.Sprintf("%s Usage: %s", domain.ReplyInvalid, domain.Usage(cmd.Verb))
		default:
			return domain.ReplyInvalid
		}
	}
	defer func() { s.recorder.State(s.session.State) }()

	s.logger.Debug("command received", "verb", cmd.Verb)
	switch cmd.Verb {
	case domain.VerbLogin:
		return s.login(ctx, domain.Credentials{Username: cmd.Args[0], Password: cmd.Args[1]})
	case domain.VerbLogout:
		return s.logout(ctx)
	case domain.VerbAddEntry:
		return s.addEntry(ctx)
	case domain.VerbConfigure:
		return s.configure(ctx, cmd.Args[0], cmd.Args[1], cmd.Args[2])
	case domain.VerbStatus:
		return s.Status().Render()
	case domain.VerbHelp:
		return domain.HelpText()
	default:
		return domain.ReplyInvalid
	}
}

// OnTick runs when the armed deadline has passed.
func (s *Scheduler) OnTick(ctx context.Context) {
	defer func() { s.recorder.State(s.session.State) }()
	now := s.clock.Now()
	s.disarm()
	if s.gaveUp {
		return
	}

	switch s.session.State {
	case domain.AuthAuthenticated:
		if s.schedule.SubmittedOn(now) {
			s.armNextTrigger(now)
			return
		}
		s.submit(ctx, now)
	case domain.AuthFailed, domain.AuthLoggedOut:
		if s.session.Credentials == nil {
			return
		}
		if s.authenticate(ctx) {
			s.afterAuthenticated(ctx)
		}
	}
}

// Deadline reports when the armed timer fires.
func (s *Scheduler) Deadline() (time.Time, bool) {
	return s.deadline, s.mode != timerOff
}

func (s *Scheduler) Status() domain.Status {
	st := domain.Status{
		Now:        s.clock.Now(),
		Username:   s.session.Username(),
		State:      s.session.State,
		RetryCount: s.session.RetryCount,
		MaxTries:   s.maxTries,
		GaveUp:     s.gaveUp,
		Schedule:   s.schedule,
	}
	if s.mode != timerOff {
		st.NextTrigger = s.deadline
	}
	return st
}

func (s *Scheduler) login(ctx context.Context, creds domain.Credentials) string {
	if s.session.IsAuthenticated() {
		s.remoteLogout(ctx)
	}
	s.session.Reset()
	s.session.Remember(creds)
	s.gaveUp = false
	s.submitFailures = 0
	s.backoff.Reset()
	s.disarm()

	if !s.authenticate(ctx) {
		return domain.ReplyLoginFailed
	}
	s.afterAuthenticated(ctx)
	return domain.ReplyLoggedIn
}

func (s *Scheduler) logout(ctx context.Context) string {
	username := s.session.Username()
	if s.session.IsAuthenticated() {
		s.remoteLogout(ctx)
	}
	s.session.Reset()
	s.gaveUp = false
	s.submitFailures = 0
	s.backoff.Reset()
	s.disarm()
	s.persist(ctx)
	s.appendEvent(ctx, domain.Event{Kind: domain.EventLogout, Username: username, OK: true})
	s.logger.Info("logged out", "username", username)
	return domain.ReplyLoggedOut
}

func (s *Scheduler) addEntry(ctx context.Context) string {
	if !s.session.IsAuthenticated() {
		return domain.ReplyNotAuthenticated
	}
	now := s.clock.Now()
	if s.schedule.SubmittedOn(now) {
		return domain.ReplyEntryAlreadyDone
	}
	if s.submit(ctx, now) {
		return domain.ReplyEntryAdded
	}
	return domain.ReplyEntryFailed
}

func (s *Scheduler) configure(ctx context.Context, start, duration, trigger string) string {
	updated, err := s.schedule.Configure(start, duration, trigger)
	if err != nil {
		var formatErr *domain.TimeFormatError
		if errors.As(err, &formatErr) {
			return domain.TimeFormatReply(formatErr.Field)
		}
		return domain.ReplyInvalid
	}
	if err := s.prefs.Save(ctx, domain.Snapshot(s.session, updated)); err != nil {
		s.logger.Error("save preferences", "error", err)
		return domain.ReplyConfigFailed
	}
	s.schedule = updated
	if s.mode == timerTrigger {
		s.armNextTrigger(s.clock.Now())
	}
	s.appendEvent(ctx, domain.Event{
		Kind:     domain.EventConfigure,
		Username: s.session.Username(),
		OK:       true,
		Detail:   fmt.Sprintf("start=%s duration=%s trigger=%s", updated.EntryStart, updated.EntryDuration, updated.TriggerTime),
	})
	s.logger.Info("schedule configured",
		"entry_start", updated.EntryStart.String(),
		"entry_duration", updated.EntryDuration.String(),
		"trigger_time", updated.TriggerTime.String(),
	)
	return domain.ReplyConfigSaved
}

// authenticate runs one attempt with the remembered credentials. Failures arm
// the retry backoff until MaxTries consecutive attempts have failed.
func (s *Scheduler) authenticate(ctx context.Context) bool {
	if err := s.session.BeginAuth(); err != nil {
		return false
	}
	username := s.session.Username()
	token, err := s.remote.Authenticate(ctx, username, s.session.Credentials.Password)
	if err == nil {
		err = s.session.Authenticated(token)
	}
	s.recorder.AuthAttempt(err == nil)

	if err != nil {
		s.session.AuthFailed()
		s.logger.Warn("authentication failed", "username", username, "attempt", s.session.RetryCount, "error", err)
		s.appendEvent(ctx, domain.Event{Kind: domain.EventLogin, Username: username, Detail: err.Error()})
		if s.session.RetryCount >= s.maxTries {
			s.giveUp(ctx)
		} else {
			s.armRetry()
		}
		s.persist(ctx)
		return false
	}

	s.backoff.Reset()
	s.logger.Info("authenticated", "username", username)
	s.appendEvent(ctx, domain.Event{Kind: domain.EventLogin, Username: username, OK: true})
	s.persist(ctx)
	return true
}

func (s *Scheduler) afterAuthenticated(ctx context.Context) {
	now := s.clock.Now()
	if s.schedule.SubmittedOn(now) {
		s.armNextTrigger(now)
		return
	}
	s.submit(ctx, now)
}

// submit posts today's entry. It always leaves a timer armed: the next
// trigger on success, the backoff or the next trigger on failure.
func (s *Scheduler) submit(ctx context.Context, now time.Time) bool {
	entry := s.schedule.EntryFor(now)
	username := s.session.Username()
	err := s.remote.SubmitEntry(ctx, s.session.Token, entry)
	s.recorder.Submission(err == nil)

	if err != nil {
		s.submitFailures++
		s.logger.Warn("submission failed", "username", username, "day", domain.DateOf(now), "attempt", s.submitFailures, "error", err)
		s.appendEvent(ctx, domain.Event{Kind: domain.EventSubmit, Username: username, EntryDay: domain.DateOf(now), Detail: err.Error()})
		if s.submitFailures >= s.maxTries {
			s.submitFailures = 0
			s.session.Drop()
			s.backoff.Reset()
			s.armNextTrigger(now)
			s.logger.Error("submission keeps failing, session dropped until next trigger", "username", username, "next_trigger", s.deadline)
		} else {
			s.session.Expire()
			s.armRetry()
		}
		s.persist(ctx)
		return false
	}

	s.submitFailures = 0
	s.schedule.LastSubmission = domain.DateOf(now)
	s.armNextTrigger(now)
	s.persist(ctx)
	s.appendEvent(ctx, domain.Event{Kind: domain.EventSubmit, Username: username, OK: true, EntryDay: domain.DateOf(now)})
	s.logger.Info("entry submitted", "username", username, "day", domain.DateOf(now),
		"start", entry.Start.String(), "duration", entry.Duration.String(), "next_trigger", s.deadline)
	return true
}

func (s *Scheduler) giveUp(ctx context.Context) {
	s.gaveUp = true
	s.disarm()
	s.recorder.GaveUp()
	username := s.session.Username()
	s.logger.Error("authentication keeps failing, automatic retries stopped", "username", username, "attempts", s.session.RetryCount)
	s.appendEvent(ctx, domain.Event{
		Kind:     domain.EventGiveUp,
		Username: username,
		Detail:   fmt.Sprintf("%d consecutive authentication failures", s.session.RetryCount),
	})
}

func (s *Scheduler) remoteLogout(ctx context.Context) {
	if err := s.remote.Logout(ctx, s.session.Token); err != nil {
		s.logger.Warn("remote logout failed", "username", s.session.Username(), "error", err)
	}
}

func (s *Scheduler) armNextTrigger(now time.Time) {
	s.armAt(s.schedule.NextTrigger(now), timerTrigger)
}

func (s *Scheduler) armRetry() {
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultRetryInterval
	}
	s.armAt(s.clock.Now().Add(delay), timerRetry)
}

func (s *Scheduler) armAt(at time.Time, mode timerMode) {
	s.deadline = at
	s.mode = mode
}

func (s *Scheduler) disarm() {
	s.deadline = time.Time{}
	s.mode = timerOff
}

func (s *Scheduler) persist(ctx context.Context) {
	if err := s.prefs.Save(ctx, domain.Snapshot(s.session, s.schedule)); err != nil {
		s.logger.Error("save preferences", "error", err)
	}
}

func (s *Scheduler) appendEvent(ctx context.Context, event domain.Event) {
	if s.history == nil {
		return
	}
	event.ID = s.ids.New()
	event.OccurredAt = s.clock.Now()
	if err := s.history.Append(ctx, event); err != nil {
		s.logger.Warn("append history", "kind", event.Kind, "error", err)
	}
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(bool)       {}
func (nopRecorder) Submission(bool)        {}
func (nopRecorder) GaveUp()                {}
func (nopRecorder) State(domain.AuthState) {}
