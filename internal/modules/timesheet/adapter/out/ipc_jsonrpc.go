package out

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"time"

	timesheetout "kimaid/internal/modules/timesheet/port/out"
)

const (
	DefaultConnTimeout = 2 * time.Minute
	DefaultDialTimeout = time.Minute
	acceptRetryDelay   = 100 * time.Millisecond
)

// JSONRPCServer serves connections one at a time; later clients wait in the
// listener backlog.
type JSONRPCServer struct {
	connTimeout time.Duration
	logger      *slog.Logger
}

type JSONRPCClient struct {
	dialTimeout time.Duration
}

func NewJSONRPCServer(connTimeout time.Duration, logger *slog.Logger) timesheetout.IPCServer {
	if connTimeout <= 0 {
		connTimeout = DefaultConnTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JSONRPCServer{connTimeout: connTimeout, logger: logger}
}

func NewJSONRPCClient(dialTimeout time.Duration) timesheetout.IPCClient {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &JSONRPCClient{dialTimeout: dialTimeout}
}

type rpcHandler struct {
	ctx context.Context
	h   timesheetout.IPCHandler
}

// CommandRequest, CommandResponse and Empty are the wire types of the
// Timesheet RPC service; net/rpc only registers methods with exported types.
type CommandRequest struct {
	Command string
}

type CommandResponse struct {
	Response string
}

type Empty struct{}

func (s *rpcHandler) Dispatch(req CommandRequest, resp *CommandResponse) error {
	reply, err := s.h.Dispatch(s.ctx, req.Command)
	if err != nil {
		return err
	}
	resp.Response = reply
	return nil
}

func (s *rpcHandler) Stop(_ Empty, _ *Empty) error {
	return s.h.Stop(s.ctx)
}

func (s *JSONRPCServer) Serve(ctx context.Context, socketPath string, handler timesheetout.IPCHandler) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("create ipc dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale ipc socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen ipc socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod ipc socket: %w", err)
	}
	defer ln.Close()

	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName("Timesheet", &rpcHandler{ctx: ctx, h: handler}); err != nil {
		return fmt.Errorf("register ipc handler: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("ipc accept failed", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.serveConn(conn, rpcSrv)
	}
}

func (s *JSONRPCServer) serveConn(conn net.Conn, rpcSrv *rpc.Server) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(s.connTimeout)); err != nil {
		s.logger.Warn("ipc set deadline", "error", err)
		return
	}
	// ServeCodec returns when the client hangs up or the deadline expires.
	rpcSrv.ServeCodec(jsonrpc.NewServerCodec(conn))
}

func (c *JSONRPCClient) Dispatch(ctx context.Context, socketPath, command string) (string, error) {
	client, err := c.dial(ctx, socketPath)
	if err != nil {
		return "", err
	}
	defer client.Close()
	resp := CommandResponse{}
	if err := client.Call("Timesheet.Dispatch", CommandRequest{Command: command}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *JSONRPCClient) Stop(ctx context.Context, socketPath string) error {
	client, err := c.dial(ctx, socketPath)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Call("Timesheet.Stop", Empty{}, &Empty{})
}

func (c *JSONRPCClient) dial(ctx context.Context, socketPath string) (*rpc.Client, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.dialTimeout))
	return rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)), nil
}
