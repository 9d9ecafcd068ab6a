package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cenkalti/backoff/v5"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	timesheetinadapter "kimaid/internal/modules/timesheet/adapter/in"
	timesheetoutadapter "kimaid/internal/modules/timesheet/adapter/out"
	"kimaid/internal/modules/timesheet/domain"
	timesheetservice "kimaid/internal/modules/timesheet/service"
	timesheetusecase "kimaid/internal/modules/timesheet/usecase"
	"kimaid/internal/platform/clock"
	"kimaid/internal/platform/config"
	"kimaid/internal/platform/id"
	applog "kimaid/internal/platform/log"
	uishell "kimaid/internal/ui/shell"
)

type App struct {
	TimesheetCLI timesheetinadapter.CLIHandler
	Logger       *slog.Logger

	closers []io.Closer
}

// New wires the daemon and client sides. logOut receives the structured
// daemon log; the CLI passes stderr, which is the log file once detached.
func New(cfg config.Config, logOut io.Writer) (*App, error) {
	if logOut == nil {
		logOut = os.Stderr
	}
	format, err := applog.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logger := applog.New(applog.Config{Level: cfg.Log.Level, Format: format}, logOut)

	defaults, err := scheduleDefaults(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("schedule defaults: %w", err)
	}

	clk := clock.SystemClock{}
	ids := id.UUID{}

	remote, err := timesheetoutadapter.NewKimaiClient(timesheetoutadapter.KimaiConfig{
		BaseURL:       cfg.Kimai.BaseURL,
		LoginPath:     cfg.Kimai.LoginPath,
		ProcessorPath: cfg.Kimai.ProcessorPath,
		ProjectID:     cfg.Kimai.ProjectID,
		ActivityID:    cfg.Kimai.ActivityID,
		Timeout:       cfg.Kimai.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("new kimai client: %w", err)
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create home %s: %w", cfg.Home, err)
	}
	history, err := timesheetoutadapter.NewSQLiteHistoryStore(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("new history store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := timesheetoutadapter.NewPromRecorder(registry)

	scheduler := timesheetservice.NewScheduler(
		clk,
		ids,
		remote,
		timesheetoutadapter.NewFilePreferenceStore(cfg.PrefsPath()),
		history,
		recorder,
		logger.With("component", "scheduler"),
		timesheetservice.SchedulerConfig{
			Defaults:      defaults,
			Backoff:       retryPolicy(cfg.Retry),
			MaxTries:      cfg.Retry.MaxTries,
			ResumeOnStart: cfg.Daemon.ResumeOnStart,
		},
	)

	svc := timesheetservice.NewTimesheetService(
		scheduler,
		clk,
		timesheetoutadapter.NewFileDaemonStore(cfg.DaemonDir()),
		timesheetoutadapter.NewJSONRPCServer(cfg.Daemon.ConnTimeout, logger.With("component", "ipc")),
		timesheetoutadapter.NewJSONRPCClient(cfg.Daemon.DialTimeout),
		history,
		timesheetoutadapter.NewMetricsServer(registry, logger.With("component", "metrics")),
		cfg.Daemon.MetricsAddr,
		runArgs(cfg),
		logger,
	)

	return &App{
		TimesheetCLI: timesheetinadapter.NewCLIHandler(timesheetusecase.NewInteractor(svc)),
		Logger:       logger,
		closers:      []io.Closer{history},
	}, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func RunShell(app *App) error {
	model := uishell.NewModel(app.TimesheetCLI)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func scheduleDefaults(cfg config.ScheduleConfig) (domain.Schedule, error) {
	return domain.DefaultSchedule().Configure(cfg.EntryStart, cfg.EntryDuration, cfg.TriggerTime)
}

func retryPolicy(cfg config.RetryConfig) backoff.BackOff {
	if cfg.Policy == config.RetryExponential {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = cfg.Interval
		if cfg.MaxBackoff > 0 {
			policy.MaxInterval = cfg.MaxBackoff
		}
		return policy
	}
	return backoff.NewConstantBackOff(cfg.Interval)
}

// runArgs lets a detached daemon reload the same home and config file.
func runArgs(cfg config.Config) []string {
	args := []string{"--home", cfg.Home}
	if cfg.ConfigFile != "" {
		args = append(args, "--config", cfg.ConfigFile)
	}
	return args
}
