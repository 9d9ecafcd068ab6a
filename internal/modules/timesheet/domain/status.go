package domain

import (
	"fmt"
	"strings"
	"time"
)

const statusTimeLayout = "2006-01-02 15:04:05"

// Status is a read-only view of the scheduler used for the status reply.
type Status struct {
	Now         time.Time
	Username    string
	State       AuthState
	RetryCount  int
	MaxTries    int
	GaveUp      bool
	NextTrigger time.Time
	Schedule    Schedule
}

func (s Status) Render() string {
	lines := make([]string, 0, 6)
	if s.Username == "" {
		lines = append(lines, "Not logged in.")
	} else {
		lines = append(lines, "Logged as "+s.Username)
	}

	state := "State: " + string(s.State)
	if s.State == AuthFailed && s.RetryCount > 0 {
		state += fmt.Sprintf(" (attempt %d/%d)", s.RetryCount, s.MaxTries)
	}
	lines = append(lines, state)
	if s.GaveUp {
		lines = append(lines, fmt.Sprintf(`Automatic retries stopped after %d failed attempts. Use "login" to retry.`, s.RetryCount))
	}

	if s.NextTrigger.IsZero() {
		lines = append(lines, "Next trigger: not scheduled")
	} else {
		in := s.NextTrigger.Sub(s.Now).Round(time.Second)
		if in < 0 {
			in = 0
		}
		lines = append(lines, fmt.Sprintf("Next trigger: %s (in %s)", s.NextTrigger.Format(statusTimeLayout), in))
	}

	lines = append(lines, fmt.Sprintf("Entry: start %s, duration %s, trigger %s",
		s.Schedule.EntryStart, s.Schedule.EntryDuration, s.Schedule.TriggerTime))
	if s.Schedule.LastSubmission == "" {
		lines = append(lines, "Last entry: never")
	} else {
		lines = append(lines, "Last entry: "+s.Schedule.LastSubmission)
	}
	return strings.Join(lines, "\n")
}
