package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimaid/internal/modules/timesheet/domain"
	"kimaid/internal/platform/clock"
)

var errRemoteDown = errors.New("remote down")

type fakeRemote struct {
	mu         sync.Mutex
	token      string
	authErr    error
	submitErr  error
	authCalls  int
	submits    []domain.Entry
	logouts    []string
	lastUser   string
	lastSecret string
}

func (f *fakeRemote) Authenticate(_ context.Context, username, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	f.lastUser, f.lastSecret = username, password
	if f.authErr != nil {
		return "", f.authErr
	}
	return f.token, nil
}

func (f *fakeRemote) SubmitEntry(_ context.Context, token string, entry domain.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" {
		return errors.New("submit without token")
	}
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, entry)
	return nil
}

func (f *fakeRemote) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return nil
}

func (f *fakeRemote) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, len(f.submits)
}

type fakePrefs struct {
	mu      sync.Mutex
	prefs   domain.Preferences
	saves   int
	saveErr error
	loadErr error
}

func (f *fakePrefs) Load(context.Context) (domain.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.Preferences{}, f.loadErr
	}
	return f.prefs, nil
}

func (f *fakePrefs) Save(_ context.Context, prefs domain.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.prefs = prefs
	f.saves++
	return nil
}

func (f *fakePrefs) snapshot() (domain.Preferences, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs, f.saves
}

type fakeHistory struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeHistory) Append(_ context.Context, event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeHistory) Tail(_ context.Context, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0, limit)
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.events[i])
	}
	return out, nil
}

func (f *fakeHistory) kinds() []domain.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeRecorder struct {
	auth, submissions, gaveUp int
	state                     domain.AuthState
}

func (f *fakeRecorder) AuthAttempt(bool)             { f.auth++ }
func (f *fakeRecorder) Submission(bool)              { f.submissions++ }
func (f *fakeRecorder) GaveUp()                      { f.gaveUp++ }
func (f *fakeRecorder) State(state domain.AuthState) { f.state = state }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("evt-%d", s.n)
}

type harness struct {
	clock    *clock.Manual
	remote   *fakeRemote
	prefs    *fakePrefs
	history  *fakeHistory
	recorder *fakeRecorder
	sched    *Scheduler
}

func localTime(day, hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", day+" "+hhmm, time.Local)
	if err != nil {
		panic(err)
	}
	return t
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewManual(now),
		remote:   &fakeRemote{token: "42"},
		prefs:    &fakePrefs{},
		history:  &fakeHistory{},
		recorder: &fakeRecorder{},
	}
	h.sched = NewScheduler(h.clock, &seqIDs{}, h.remote, h.prefs, h.history, h.recorder, nil, SchedulerConfig{
		Backoff:       backoff.NewConstantBackOff(10 * time.Second),
		MaxTries:      5,
		ResumeOnStart: true,
	})
	h.sched.Restore(context.Background())
	return h
}

func (h *harness) dispatch(text string) string {
	return h.sched.Dispatch(context.Background(), text)
}

// tick advances the clock to the armed deadline and fires it.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	deadline, ok := h.sched.Deadline()
	require.True(t, ok, "expected an armed timer")
	if deadline.After(h.clock.Now()) {
		h.clock.Set(deadline)
	}
	h.sched.OnTick(context.Background())
}

func TestLoginSubmitsTodayAndReportsStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))

	assert.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	authCalls, submits := h.remote.calls()
	assert.Equal(t, 1, authCalls)
	assert.Equal(t, 1, submits)
	assert.Equal(t, "secret", h.remote.lastSecret)

	status := h.dispatch("status")
	assert.Contains(t, status, "Logged as alice")
	assert.Contains(t, status, "State: authenticated")

	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, 23*time.Hour, deadline.Sub(h.clock.Now()))
	assert.LessOrEqual(t, deadline.Sub(h.clock.Now()), 24*time.Hour)

	prefs, _ := h.prefs.snapshot()
	assert.Equal(t, "alice", prefs.Username)
	assert.Equal(t, "42", prefs.SessionToken)
	assert.Equal(t, "2026-10-18", prefs.LastSubmission)
	assert.Equal(t, domain.AuthAuthenticated, h.recorder.state)
}

func TestSubmittedEntryUsesSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyConfigSaved, h.dispatch("configure 08:30 07:00 09:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))

	require.Len(t, h.remote.submits, 1)
	entry := h.remote.submits[0]
	assert.Equal(t, "2026-10-18", domain.DateOf(entry.Day))
	assert.Equal(t, "08:30:00", entry.Start.Clock())
	assert.Equal(t, "15:30:00", entry.End().Clock())
}

func TestAddEntryBeforeLoginMakesNoRemoteCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))

	assert.Equal(t, domain.ReplyNotAuthenticated, h.dispatch("addEntry"))
	authCalls, submits := h.remote.calls()
	assert.Zero(t, authCalls)
	assert.Zero(t, submits)
	_, armed := h.sched.Deadline()
	assert.False(t, armed)
}

func TestSubmissionIsIdempotentPerDay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "09:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))

	assert.Equal(t, domain.ReplyEntryAlreadyDone, h.dispatch("addEntry"))
	h.clock.Set(localTime("2026-10-18", "10:00"))
	h.sched.OnTick(context.Background())
	_, submits := h.remote.calls()
	assert.Equal(t, 1, submits)

	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, localTime("2026-10-19", "10:00"), deadline)

	h.tick(t)
	_, submits = h.remote.calls()
	assert.Equal(t, 2, submits)
	assert.Equal(t, "2026-10-19", domain.DateOf(h.remote.submits[1].Day))
}

func TestNextTriggerBeforeAndAfterTriggerTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-17", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))

	h.clock.Set(localTime("2026-10-18", "09:00"))
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, time.Hour, deadline.Sub(h.clock.Now()))

	h.clock.Set(localTime("2026-10-18", "11:00"))
	h.sched.OnTick(context.Background())
	deadline, ok = h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, 23*time.Hour, deadline.Sub(h.clock.Now()))
}

func TestAuthenticationRetriesAreBounded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	h.remote.authErr = errRemoteDown

	assert.Equal(t, domain.ReplyLoginFailed, h.dispatch("login alice secret"))
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, deadline.Sub(h.clock.Now()))

	for i := 0; i < 4; i++ {
		h.tick(t)
	}
	authCalls, _ := h.remote.calls()
	assert.Equal(t, 5, authCalls)

	_, armed := h.sched.Deadline()
	assert.False(t, armed, "timer must be disarmed after max tries")
	h.sched.OnTick(context.Background())
	authCalls, _ = h.remote.calls()
	assert.Equal(t, 5, authCalls, "no automatic retry after giving up")

	status := h.dispatch("status")
	assert.Contains(t, status, "Automatic retries stopped")
	assert.Contains(t, status, "Logged as alice")
	assert.Equal(t, 1, h.recorder.gaveUp)
	assert.Contains(t, h.history.kinds(), domain.EventGiveUp)

	prefs, _ := h.prefs.snapshot()
	assert.Equal(t, "alice", prefs.Username, "credentials are kept for a manual retry")

	h.remote.authErr = nil
	assert.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	assert.NotContains(t, h.dispatch("status"), "Automatic retries stopped")
}

func TestAuthenticatedNeverWithoutToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	h.remote.token = ""

	assert.Equal(t, domain.ReplyLoginFailed, h.dispatch("login alice secret"))
	st := h.sched.Status()
	assert.Equal(t, domain.AuthFailed, st.State)
	_, submits := h.remote.calls()
	assert.Zero(t, submits)
	assert.Equal(t, domain.ReplyNotAuthenticated, h.dispatch("addEntry"))
}

func TestMalformedConfigureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	before := h.sched.Status()
	beforeDeadline, _ := h.sched.Deadline()
	_, saves := h.prefs.snapshot()

	assert.Equal(t, "Wrong time format for [start].", h.dispatch("configure 25:99 1:00 10:00"))
	assert.Equal(t, "Wrong time format for [duration].", h.dispatch("configure 10:00 nope 10:00"))
	assert.Equal(t, "Wrong time format for [trigger].", h.dispatch("configure 10:00 1:00 10:99"))

	after := h.sched.Status()
	assert.Equal(t, before.Schedule, after.Schedule)
	afterDeadline, _ := h.sched.Deadline()
	assert.Equal(t, beforeDeadline, afterDeadline)
	_, savesAfter := h.prefs.snapshot()
	assert.Equal(t, saves, savesAfter)
}

func TestConfigureRearmsTrigger(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))

	assert.Equal(t, domain.ReplyConfigSaved, h.dispatch("configure 00:00 07:24 12:30"))
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, localTime("2026-10-19", "12:30"), deadline)

	prefs, _ := h.prefs.snapshot()
	require.NotNil(t, prefs.TriggerTime)
	assert.Equal(t, "12:30", prefs.TriggerTime.String())
}

func TestConfigureSaveFailureKeepsSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	h.prefs.saveErr = errors.New("disk full")

	assert.Equal(t, domain.ReplyConfigFailed, h.dispatch("configure 00:00 07:24 12:30"))
	assert.Equal(t, domain.DefaultTriggerTime, h.sched.Status().Schedule.TriggerTime)
}

func TestSubmissionFailureForcesReauthentication(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	h.remote.submitErr = errRemoteDown

	assert.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	st := h.sched.Status()
	assert.Equal(t, domain.AuthFailed, st.State)
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, deadline.Sub(h.clock.Now()))

	h.remote.submitErr = nil
	h.tick(t)
	authCalls, submits := h.remote.calls()
	assert.Equal(t, 2, authCalls)
	assert.Equal(t, 1, submits)
	assert.Equal(t, domain.AuthAuthenticated, h.sched.Status().State)
}

func TestRepeatedSubmissionFailureDropsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	h.remote.submitErr = errRemoteDown

	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	for i := 0; i < 4; i++ {
		h.tick(t)
	}

	st := h.sched.Status()
	assert.Equal(t, domain.AuthLoggedOut, st.State)
	assert.Equal(t, "alice", st.Username)
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, localTime("2026-10-19", "10:00"), deadline)

	h.remote.submitErr = nil
	h.tick(t)
	_, submits := h.remote.calls()
	assert.Equal(t, 1, submits)
	assert.Equal(t, domain.AuthAuthenticated, h.sched.Status().State)
}

func TestManualAddEntryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	h.clock.Set(localTime("2026-10-19", "08:00"))
	h.remote.submitErr = errRemoteDown

	assert.Equal(t, domain.ReplyEntryFailed, h.dispatch("addEntry"))
	assert.Equal(t, domain.AuthFailed, h.sched.Status().State)

	h.remote.submitErr = nil
	h.tick(t)
	assert.Equal(t, domain.ReplyEntryAlreadyDone, h.dispatch("addEntry"))
}

func TestLogoutClearsCredentialsKeepsSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyConfigSaved, h.dispatch("configure 01:00 06:00 09:15"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))

	assert.Equal(t, domain.ReplyLoggedOut, h.dispatch("logout"))
	assert.Equal(t, []string{"42"}, h.remote.logouts)
	_, armed := h.sched.Deadline()
	assert.False(t, armed)

	prefs, _ := h.prefs.snapshot()
	assert.Empty(t, prefs.Username)
	assert.Empty(t, prefs.Password)
	assert.Empty(t, prefs.SessionToken)
	require.NotNil(t, prefs.TriggerTime)
	assert.Equal(t, "09:15", prefs.TriggerTime.String())
	assert.Equal(t, "2026-10-18", prefs.LastSubmission)
	assert.Contains(t, h.dispatch("status"), "Not logged in.")
}

func TestLoginReplacesExistingSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	h.remote.token = "43"
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login bob hunter2"))

	assert.Equal(t, []string{"42"}, h.remote.logouts)
	assert.Contains(t, h.dispatch("status"), "Logged as bob")
	_, submits := h.remote.calls()
	assert.Equal(t, 1, submits, "entry already added today")
}

func TestRestoreResumesStoredCredentials(t *testing.T) {
	t.Parallel()
	now := localTime("2026-10-18", "11:00")
	trigger := domain.MustTimeValue("09:00")
	h := &harness{
		clock:    clock.NewManual(now),
		remote:   &fakeRemote{token: "42"},
		prefs:    &fakePrefs{prefs: domain.Preferences{Username: "alice", Password: "secret", SessionToken: "stale", TriggerTime: &trigger}},
		history:  &fakeHistory{},
		recorder: &fakeRecorder{},
	}
	h.sched = NewScheduler(h.clock, &seqIDs{}, h.remote, h.prefs, h.history, h.recorder, nil, SchedulerConfig{ResumeOnStart: true})
	h.sched.Restore(context.Background())

	st := h.sched.Status()
	assert.Equal(t, domain.AuthLoggedOut, st.State)
	assert.Equal(t, trigger, st.Schedule.TriggerTime)
	deadline, ok := h.sched.Deadline()
	require.True(t, ok)
	assert.Equal(t, now, deadline)

	h.sched.OnTick(context.Background())
	authCalls, submits := h.remote.calls()
	assert.Equal(t, 1, authCalls)
	assert.Equal(t, 1, submits)
	assert.Equal(t, domain.AuthAuthenticated, h.sched.Status().State)
}

func TestRestoreWithoutResumeStaysIdle(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{token: "42"}
	prefs := &fakePrefs{prefs: domain.Preferences{Username: "alice", Password: "secret"}}
	sched := NewScheduler(clock.NewManual(localTime("2026-10-18", "11:00")), &seqIDs{}, remote, prefs, nil, nil, nil, SchedulerConfig{})
	sched.Restore(context.Background())

	_, armed := sched.Deadline()
	assert.False(t, armed)
	assert.Contains(t, sched.Dispatch(context.Background(), "status"), "Not logged in.")
}

func TestRestoreWithCorruptPreferencesStartsFromDefaults(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{token: "42"}
	prefs := &fakePrefs{loadErr: domain.ErrCorruptPrefs}
	sched := NewScheduler(clock.NewManual(localTime("2026-10-18", "11:00")), &seqIDs{}, remote, prefs, nil, nil, nil, SchedulerConfig{ResumeOnStart: true})
	sched.Restore(context.Background())

	_, armed := sched.Deadline()
	assert.False(t, armed)
	st := sched.Status()
	assert.Equal(t, domain.AuthLoggedOut, st.State)
	assert.Equal(t, domain.DefaultSchedule(), st.Schedule)

	assert.Equal(t, domain.ReplyLoggedIn, sched.Dispatch(context.Background(), "login alice secret"))
	saved, saves := prefs.snapshot()
	assert.Positive(t, saves)
	assert.Equal(t, "alice", saved.Username)
}

func TestDispatchMalformedInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))

	assert.Equal(t, domain.ReplyEmpty, h.dispatch(""))
	assert.Equal(t, domain.ReplyEmpty, h.dispatch("   "))
	assert.Equal(t, domain.ReplyInvalid, h.dispatch("dance now"))
	assert.Equal(t, "Invalid command. Usage: login <username> <password>", h.dispatch("login alice"))
	assert.Contains(t, h.dispatch("help"), "configure <start> <duration> <trigger>")
	assert.Contains(t, h.dispatch("help"), domain.ReplyEntryAlreadyDone)

	authCalls, _ := h.remote.calls()
	assert.Zero(t, authCalls)
	_, saves := h.prefs.snapshot()
	assert.Zero(t, saves)
}

func TestHistoryRecordsOutcomes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, localTime("2026-10-18", "11:00"))
	require.Equal(t, domain.ReplyLoggedIn, h.dispatch("login alice secret"))
	require.Equal(t, domain.ReplyLoggedOut, h.dispatch("logout"))

	assert.Equal(t, []domain.EventKind{domain.EventLogin, domain.EventSubmit, domain.EventLogout}, h.history.kinds())
	events, err := h.history.Tail(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-3", events[0].ID)
	assert.Equal(t, h.clock.Now(), events[0].OccurredAt)
}
