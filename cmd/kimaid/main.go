package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kimaid/internal/bootstrap"
	"kimaid/internal/platform/config"
)

type globalFlags struct {
	home       string
	configFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "kimaid",
		Short:         "Daily Kimai timesheet daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.home, "home", "", "state directory (default $KIMAID_HOME or ~/.kimaid)")
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file (default <home>/config.yaml)")

	root.AddCommand(newDaemonCmd(flags))
	root.AddCommand(newLoginCmd(flags))
	root.AddCommand(newLogoutCmd(flags))
	root.AddCommand(newAddEntryCmd(flags))
	root.AddCommand(newConfigureCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newSendCmd(flags))
	root.AddCommand(newHistoryCmd(flags))
	root.AddCommand(newShellCmd(flags))
	return root
}

func loadApp(flags *globalFlags) (*bootstrap.App, error) {
	home := flags.home
	if home == "" {
		var err error
		if home, err = config.DefaultHome(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(home, flags.configFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg, os.Stderr)
}

// withApp loads the app for one command and closes it afterwards.
func withApp(flags *globalFlags, fn func(app *bootstrap.App) error) error {
	app, err := loadApp(flags)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			app.Logger.Warn("close app", "error", closeErr)
		}
	}()
	return fn(app)
}

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	daemon := &cobra.Command{Use: "daemon", Short: "Manage the timesheet daemon"}
	daemon.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return app.TimesheetCLI.RunDaemon(ctx)
			})
		},
	})
	daemon.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				if err := app.TimesheetCLI.StartDaemon(context.Background()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "daemon started")
				return nil
			})
		},
	})
	daemon.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				if err := app.TimesheetCLI.StopDaemon(context.Background()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
				return nil
			})
		},
	})
	daemon.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon process status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				status, err := app.TimesheetCLI.DaemonStatus(context.Background())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "running=%t pid=%d socket=%s log=%s\n", status.Running, status.PID, status.SocketPath, status.LogPath)
				if status.Report != "" {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), status.Report)
				}
				return nil
			})
		},
	})
	var daemonLogTail int
	daemonLogs := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				payload, err := app.TimesheetCLI.DaemonLogs(context.Background(), daemonLogTail)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), payload)
				return nil
			})
		},
	}
	daemonLogs.Flags().IntVar(&daemonLogTail, "tail", 200, "log lines to show from the end")
	daemon.AddCommand(daemonLogs)
	return daemon
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Store credentials and submit today's entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.Login(context.Background(), args[0], args[1])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget credentials and stop the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.Logout(context.Background())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newAddEntryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add-entry",
		Short: "Submit today's entry now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.AddEntry(context.Background())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newConfigureCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <start> <duration> <trigger>",
		Short: "Set entry start, duration and daily trigger time (HH:MM[:SS])",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.Configure(context.Background(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and schedule status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.Status(context.Background())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newSendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command line>",
		Short: "Send a raw command line to the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.TimesheetCLI.Send(context.Background(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				return nil
			})
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent login and submission events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				events, err := app.TimesheetCLI.History(context.Background(), limit)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no events")
					return nil
				}
				for _, event := range events {
					outcome := "ok"
					if !event.OK {
						outcome = "failed"
					}
					line := fmt.Sprintf("%s %-9s %-6s user=%s", event.OccurredAt.Format(time.DateTime), event.Kind, outcome, event.Username)
					if event.EntryDay != "" {
						line += " day=" + event.EntryDay
					}
					if event.Detail != "" {
						line += " " + event.Detail
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "number of events to show, newest first")
	return history
}

func newShellCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt connected to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(flags, bootstrap.RunShell)
		},
	}
}
