package in

import (
	"context"

	"kimaid/internal/modules/timesheet/dto"
)

type Usecase interface {
	RunDaemon(ctx context.Context) error
	StartDaemon(ctx context.Context) error
	StopDaemon(ctx context.Context) error
	DaemonStatus(ctx context.Context) (dto.DaemonStatusOutput, error)
	DaemonLogs(ctx context.Context, tail int) (string, error)

	Login(ctx context.Context, username, password string) (dto.ReplyOutput, error)
	Logout(ctx context.Context) (dto.ReplyOutput, error)
	AddEntry(ctx context.Context) (dto.ReplyOutput, error)
	Configure(ctx context.Context, start, duration, trigger string) (dto.ReplyOutput, error)
	Status(ctx context.Context) (dto.ReplyOutput, error)
	Send(ctx context.Context, command string) (dto.ReplyOutput, error)
	History(ctx context.Context, limit int) ([]dto.EventOutput, error)
}
