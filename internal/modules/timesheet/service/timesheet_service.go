package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kimaid/internal/modules/timesheet/domain"
	timesheetout "kimaid/internal/modules/timesheet/port/out"
	"kimaid/internal/platform/clock"
)

const (
	daemonStartTimeout  = 5 * time.Second
	defaultLogTailLines = 200
	// maxLoopWait bounds each sleep so a suspended host re-checks the wall clock soon after resume.
	maxLoopWait = time.Minute
)

type dispatchRequest struct {
	command string
	reply   chan string
}

type runtimeState struct {
	requests chan dispatchRequest
	done     chan struct{}
	cancel   context.CancelFunc
}

// TimesheetService runs the daemon that owns the scheduler and is also the
// client used by the CLI to reach a running daemon.
type TimesheetService struct {
	scheduler   *Scheduler
	clock       clock.Clock
	daemon      timesheetout.DaemonStore
	ipcServer   timesheetout.IPCServer
	ipcClient   timesheetout.IPCClient
	history     timesheetout.HistoryStore
	metrics     timesheetout.MetricsServer
	metricsAddr string
	runArgs     []string
	logger      *slog.Logger

	mu      sync.RWMutex
	runtime *runtimeState
}

func NewTimesheetService(
	scheduler *Scheduler,
	clk clock.Clock,
	daemon timesheetout.DaemonStore,
	ipcServer timesheetout.IPCServer,
	ipcClient timesheetout.IPCClient,
	history timesheetout.HistoryStore,
	metrics timesheetout.MetricsServer,
	metricsAddr string,
	runArgs []string,
	logger *slog.Logger,
) *TimesheetService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TimesheetService{
		scheduler:   scheduler,
		clock:       clk,
		daemon:      daemon,
		ipcServer:   ipcServer,
		ipcClient:   ipcClient,
		history:     history,
		metrics:     metrics,
		metricsAddr: metricsAddr,
		runArgs:     runArgs,
		logger:      logger,
	}
}

// RunDaemon serves commands and fires the schedule until ctx is cancelled
// or Stop is called.
func (s *TimesheetService) RunDaemon(ctx context.Context) error {
	if s.ipcServer == nil {
		return fmt.Errorf("ipc server is not configured")
	}
	if err := s.cleanupStaleArtifacts(ctx); err != nil {
		return err
	}
	s.scheduler.Restore(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt := &runtimeState{
		requests: make(chan dispatchRequest),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	s.mu.Lock()
	if s.runtime != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: daemon already running in this process", domain.ErrDaemonStartFailed)
	}
	s.runtime = rt
	s.mu.Unlock()
	defer s.cleanupRuntime(context.Background())

	if err := s.daemon.WritePID(ctx, os.Getpid()); err != nil {
		return err
	}
	s.logger.Info("daemon started", "pid", os.Getpid(), "socket", s.daemon.SocketPath())

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(rt.done)
		s.loop(gctx, rt)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return s.ipcServer.Serve(gctx, s.daemon.SocketPath(), s)
	})
	if s.metrics != nil && s.metricsAddr != "" {
		g.Go(func() error {
			return s.metrics.Serve(gctx, s.metricsAddr)
		})
	}

	err := g.Wait()
	s.logger.Info("daemon stopped")
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// loop is the only goroutine touching the scheduler. Commands and timer
// fires are handled one at a time, in arrival order.
func (s *TimesheetService) loop(ctx context.Context, rt *runtimeState) {
	work := context.WithoutCancel(ctx)
	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-rt.requests:
			req.reply <- s.scheduler.Dispatch(work, req.command)
		case <-timer.C:
			if deadline, ok := s.scheduler.Deadline(); ok && !s.clock.Now().Before(deadline) {
				s.scheduler.OnTick(work)
			}
		}
		timer.Reset(s.nextWait())
	}
}

func (s *TimesheetService) nextWait() time.Duration {
	deadline, ok := s.scheduler.Deadline()
	if !ok {
		return maxLoopWait
	}
	wait := deadline.Sub(s.clock.Now())
	if wait < 0 {
		return 0
	}
	if wait > maxLoopWait {
		return maxLoopWait
	}
	return wait
}

// Dispatch hands a command to the daemon loop and waits for its reply.
func (s *TimesheetService) Dispatch(ctx context.Context, command string) (string, error) {
	s.mu.RLock()
	rt := s.runtime
	s.mu.RUnlock()
	if rt == nil {
		return "", domain.ErrDaemonNotRunning
	}

	req := dispatchRequest{command: command, reply: make(chan string, 1)}
	select {
	case rt.requests <- req:
	case <-rt.done:
		return "", domain.ErrDaemonNotRunning
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *TimesheetService) Stop(ctx context.Context) error {
	return s.StopDaemon(ctx)
}

// Send delivers a command line to the running daemon.
func (s *TimesheetService) Send(ctx context.Context, command string) (string, error) {
	if s.ipcClient == nil {
		return "", fmt.Errorf("ipc client is not configured")
	}
	if !socketReachable(s.daemon.SocketPath()) {
		return "", domain.ErrDaemonNotRunning
	}
	reply, err := s.ipcClient.Dispatch(ctx, s.daemon.SocketPath(), command)
	if err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	return reply, nil
}

func (s *TimesheetService) History(ctx context.Context, limit int) ([]domain.Event, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Tail(ctx, limit)
}

func (s *TimesheetService) StartDaemon(ctx context.Context) error {
	if err := s.cleanupStaleArtifacts(ctx); err != nil {
		return err
	}
	status, err := s.DaemonStatus(ctx)
	if err == nil && status.Running {
		if socketReachable(s.daemon.SocketPath()) {
			return nil
		}
		return fmt.Errorf("%w: daemon process is alive but socket is unavailable", domain.ErrDaemonStartFailed)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.daemon.LogPath()), 0o700); err != nil {
		return fmt.Errorf("create daemon log dir: %w", err)
	}
	if err := os.Remove(s.daemon.SocketPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale daemon socket: %w", err)
	}

	logFile, err := os.OpenFile(s.daemon.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	args := append([]string{"daemon", "run"}, s.runArgs...)
	cmd := exec.Command(execPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if err := s.daemon.WritePID(ctx, cmd.Process.Pid); err != nil {
		return err
	}
	_ = cmd.Process.Release()

	if err := waitForSocket(s.daemon.SocketPath(), daemonStartTimeout); err != nil {
		_ = s.daemon.ClearPID(ctx)
		return fmt.Errorf("%w: %v", domain.ErrDaemonStartFailed, err)
	}
	return nil
}

func (s *TimesheetService) StopDaemon(ctx context.Context) error {
	s.mu.RLock()
	rt := s.runtime
	s.mu.RUnlock()
	if rt != nil {
		rt.cancel()
		return nil
	}

	if s.ipcClient != nil && socketReachable(s.daemon.SocketPath()) {
		_ = s.ipcClient.Stop(ctx, s.daemon.SocketPath())
	}

	pid, err := s.daemon.ReadPID(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(s.daemon.SocketPath())
			return nil
		}
		return err
	}
	if pid <= 0 || !processAlive(pid) {
		_ = s.daemon.ClearPID(ctx)
		_ = os.Remove(s.daemon.SocketPath())
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("stop daemon pid=%d: %w", pid, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if processAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	if err := s.daemon.ClearPID(ctx); err != nil {
		return err
	}
	_ = os.Remove(s.daemon.SocketPath())
	return nil
}

func (s *TimesheetService) DaemonStatus(ctx context.Context) (timesheetout.DaemonRuntimeStatus, error) {
	out := timesheetout.DaemonRuntimeStatus{
		SocketPath: s.daemon.SocketPath(),
		LogPath:    s.daemon.LogPath(),
	}
	pid, err := s.daemon.ReadPID(ctx)
	if err == nil {
		out.PID = pid
		out.Running = processAlive(pid)
	}
	if out.Running && s.ipcClient != nil && socketReachable(out.SocketPath) {
		if report, err := s.ipcClient.Dispatch(ctx, out.SocketPath, string(domain.VerbStatus)); err == nil {
			out.Report = report
		}
	}
	return out, nil
}

func (s *TimesheetService) DaemonLogs(_ context.Context, tail int) (string, error) {
	if tail <= 0 {
		tail = defaultLogTailLines
	}
	file, err := os.Open(s.daemon.LogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open daemon log: %w", err)
	}
	defer file.Close()

	lines := make([]string, 0, tail)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if len(lines) < tail {
			lines = append(lines, line)
			continue
		}
		copy(lines, lines[1:])
		lines[len(lines)-1] = line
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("scan daemon log: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *TimesheetService) cleanupRuntime(ctx context.Context) {
	s.mu.Lock()
	s.runtime = nil
	s.mu.Unlock()
	_ = s.daemon.ClearPID(ctx)
	_ = os.Remove(s.daemon.SocketPath())
}

func (s *TimesheetService) cleanupStaleArtifacts(ctx context.Context) error {
	pid, err := s.daemon.ReadPID(ctx)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	} else if pid > 0 && !processAlive(pid) {
		_ = s.daemon.ClearPID(ctx)
		_ = os.Remove(s.daemon.SocketPath())
	}

	if _, statErr := os.Stat(s.daemon.SocketPath()); statErr == nil {
		if !socketReachable(s.daemon.SocketPath()) {
			if removeErr := os.Remove(s.daemon.SocketPath()); removeErr != nil && !os.IsNotExist(removeErr) {
				return fmt.Errorf("remove stale daemon socket: %w", removeErr)
			}
		}
	}
	return nil
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if socketReachable(path) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon socket not ready: %s", path)
}

func socketReachable(path string) bool {
	conn, err := net.DialTimeout("unix", path, 150*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
