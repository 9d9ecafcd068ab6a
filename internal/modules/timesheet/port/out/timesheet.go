package out

import (
	"context"

	"kimaid/internal/modules/timesheet/domain"
)

// RemoteClient talks to the timesheet web application.
type RemoteClient interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	SubmitEntry(ctx context.Context, token string, entry domain.Entry) error
	Logout(ctx context.Context, token string) error
}

type PreferenceStore interface {
	Load(ctx context.Context) (domain.Preferences, error)
	Save(ctx context.Context, prefs domain.Preferences) error
}

type HistoryStore interface {
	Append(ctx context.Context, event domain.Event) error
	Tail(ctx context.Context, limit int) ([]domain.Event, error)
}

// Recorder receives scheduler outcomes for metrics.
type Recorder interface {
	AuthAttempt(ok bool)
	Submission(ok bool)
	GaveUp()
	State(state domain.AuthState)
}

type DaemonStore interface {
	WritePID(ctx context.Context, pid int) error
	ReadPID(ctx context.Context) (int, error)
	ClearPID(ctx context.Context) error
	SocketPath() string
	LogPath() string
}

// IPCServer serves the line-command API on a local socket.
type IPCServer interface {
	Serve(ctx context.Context, socketPath string, handler IPCHandler) error
}

// IPCClient talks to a running daemon.
type IPCClient interface {
	Dispatch(ctx context.Context, socketPath, command string) (string, error)
	Stop(ctx context.Context, socketPath string) error
}

type IPCHandler interface {
	Dispatch(ctx context.Context, command string) (string, error)
	Stop(ctx context.Context) error
}

// MetricsServer exposes runtime metrics over HTTP until ctx is done.
type MetricsServer interface {
	Serve(ctx context.Context, addr string) error
}

type DaemonRuntimeStatus struct {
	Running    bool
	PID        int
	SocketPath string
	LogPath    string
	Report     string
}
