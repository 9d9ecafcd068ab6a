package in

import (
	"context"

	"kimaid/internal/modules/timesheet/dto"
	timesheetin "kimaid/internal/modules/timesheet/port/in"
)

type CLIHandler struct {
	usecase timesheetin.Usecase
}

func NewCLIHandler(usecase timesheetin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) RunDaemon(ctx context.Context) error {
	return h.usecase.RunDaemon(ctx)
}

func (h CLIHandler) StartDaemon(ctx context.Context) error {
	return h.usecase.StartDaemon(ctx)
}

func (h CLIHandler) StopDaemon(ctx context.Context) error {
	return h.usecase.StopDaemon(ctx)
}

func (h CLIHandler) DaemonStatus(ctx context.Context) (dto.DaemonStatusOutput, error) {
	return h.usecase.DaemonStatus(ctx)
}

func (h CLIHandler) DaemonLogs(ctx context.Context, tail int) (string, error) {
	return h.usecase.DaemonLogs(ctx, tail)
}

func (h CLIHandler) Login(ctx context.Context, username, password string) (dto.ReplyOutput, error) {
	return h.usecase.Login(ctx, username, password)
}

func (h CLIHandler) Logout(ctx context.Context) (dto.ReplyOutput, error) {
	return h.usecase.Logout(ctx)
}

func (h CLIHandler) AddEntry(ctx context.Context) (dto.ReplyOutput, error) {
	return h.usecase.AddEntry(ctx)
}

func (h CLIHandler) Configure(ctx context.Context, start, duration, trigger string) (dto.ReplyOutput, error) {
	return h.usecase.Configure(ctx, start, duration, trigger)
}

func (h CLIHandler) Status(ctx context.Context) (dto.ReplyOutput, error) {
	return h.usecase.Status(ctx)
}

func (h CLIHandler) Send(ctx context.Context, command string) (dto.ReplyOutput, error) {
	return h.usecase.Send(ctx, command)
}

func (h CLIHandler) History(ctx context.Context, limit int) ([]dto.EventOutput, error) {
	return h.usecase.History(ctx, limit)
}
