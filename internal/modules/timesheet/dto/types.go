package dto

import "time"

type ReplyOutput struct {
	Command string
	Reply   string
}

type DaemonStatusOutput struct {
	Running    bool
	PID        int
	SocketPath string
	LogPath    string
	Report     string
}

type EventOutput struct {
	ID         string
	OccurredAt time.Time
	Kind       string
	Username   string
	OK         bool
	Detail     string
	EntryDay   string
}
