package usecase

import (
	"context"
	"fmt"
	"strings"

	"kimaid/internal/modules/timesheet/domain"
	"kimaid/internal/modules/timesheet/dto"
	timesheetin "kimaid/internal/modules/timesheet/port/in"
	timesheetout "kimaid/internal/modules/timesheet/port/out"
	apperrors "kimaid/internal/platform/errors"
)

const maxHistoryLimit = 1000

type servicePort interface {
	RunDaemon(ctx context.Context) error
	StartDaemon(ctx context.Context) error
	StopDaemon(ctx context.Context) error
	DaemonStatus(ctx context.Context) (timesheetout.DaemonRuntimeStatus, error)
	DaemonLogs(ctx context.Context, tail int) (string, error)
	Send(ctx context.Context, command string) (string, error)
	History(ctx context.Context, limit int) ([]domain.Event, error)
}

type Interactor struct {
	svc servicePort
}

func NewInteractor(svc servicePort) timesheetin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) RunDaemon(ctx context.Context) error {
	return i.svc.RunDaemon(ctx)
}

func (i *Interactor) StartDaemon(ctx context.Context) error {
	return i.svc.StartDaemon(ctx)
}

func (i *Interactor) StopDaemon(ctx context.Context) error {
	return i.svc.StopDaemon(ctx)
}

func (i *Interactor) DaemonStatus(ctx context.Context) (dto.DaemonStatusOutput, error) {
	status, err := i.svc.DaemonStatus(ctx)
	if err != nil {
		return dto.DaemonStatusOutput{}, err
	}
	return dto.DaemonStatusOutput{
		Running:    status.Running,
		PID:        status.PID,
		SocketPath: status.SocketPath,
		LogPath:    status.LogPath,
		Report:     status.Report,
	}, nil
}

func (i *Interactor) DaemonLogs(ctx context.Context, tail int) (string, error) {
	return i.svc.DaemonLogs(ctx, tail)
}

// Login refuses arguments the whitespace-delimited command line cannot carry.
func (i *Interactor) Login(ctx context.Context, username, password string) (dto.ReplyOutput, error) {
	if err := singleToken("username", username); err != nil {
		return dto.ReplyOutput{}, err
	}
	if err := singleToken("password", password); err != nil {
		return dto.ReplyOutput{}, err
	}
	return i.send(ctx, string(domain.VerbLogin)+" "+username+" "+password, string(domain.VerbLogin)+" "+username+" ***")
}

func (i *Interactor) Logout(ctx context.Context) (dto.ReplyOutput, error) {
	return i.Send(ctx, string(domain.VerbLogout))
}

func (i *Interactor) AddEntry(ctx context.Context) (dto.ReplyOutput, error) {
	return i.Send(ctx, string(domain.VerbAddEntry))
}

func (i *Interactor) Configure(ctx context.Context, start, duration, trigger string) (dto.ReplyOutput, error) {
	for _, arg := range []struct{ name, value string }{{"start", start}, {"duration", duration}, {"trigger", trigger}} {
		if err := singleToken(arg.name, arg.value); err != nil {
			return dto.ReplyOutput{}, err
		}
	}
	return i.Send(ctx, strings.Join([]string{string(domain.VerbConfigure), start, duration, trigger}, " "))
}

func (i *Interactor) Status(ctx context.Context) (dto.ReplyOutput, error) {
	return i.Send(ctx, string(domain.VerbStatus))
}

func (i *Interactor) Send(ctx context.Context, command string) (dto.ReplyOutput, error) {
	return i.send(ctx, command, command)
}

func (i *Interactor) send(ctx context.Context, command, display string) (dto.ReplyOutput, error) {
	reply, err := i.svc.Send(ctx, command)
	if err != nil {
		return dto.ReplyOutput{}, err
	}
	return dto.ReplyOutput{Command: display, Reply: reply}, nil
}

func (i *Interactor) History(ctx context.Context, limit int) ([]dto.EventOutput, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrInvalidInput, maxHistoryLimit)
	}
	events, err := i.svc.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.EventOutput, 0, len(events))
	for _, event := range events {
		out = append(out, dto.EventOutput{
			ID:         event.ID,
			OccurredAt: event.OccurredAt,
			Kind:       string(event.Kind),
			Username:   event.Username,
			OK:         event.OK,
			Detail:     event.Detail,
			EntryDay:   event.EntryDay,
		})
	}
	return out, nil
}

func singleToken(name, value string) error {
	if value == "" || len(strings.Fields(value)) != 1 || strings.TrimSpace(value) != value {
		return fmt.Errorf("%w: %s must be a single word", apperrors.ErrInvalidInput, name)
	}
	return nil
}
