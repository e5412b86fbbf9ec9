// Package ipcserver implements the local IPC server (spec.md §4.10,
// C14): a process-local, object-oriented RPC surface over a Unix
// domain socket exposing get_access_token, get_device_info,
// get_registration, get_status, and ping, registered under the
// service name "wayru-agent".
//
// Grounded on original_source/apps/agent/services/ubus_server.h's
// contract: one server context holding references to the access
// token, device info, and registration, a scheduler-integrated task
// that polls connection health, and a full reinit on loss. UBUS
// itself has no Go binding anywhere in the pack, and spec.md treats
// it as an external bus daemon the agent registers against — a plain
// Unix domain socket with a line-delimited JSON request/response
// protocol is the idiomatic Go substitute for that registration.
package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"wayru-agent/internal/devicemodel"
)

// ServiceName is the name this server registers under, matching
// original_source's FRY_AGENT_SERVICE_NAME convention translated to
// this agent's own name.
const ServiceName = "wayru-agent"

// TokenSource is the subset of accesstoken.Service the IPC server
// needs.
type TokenSource interface {
	Current() devicemodel.AccessToken
}

// rpcError is the error shape every failed call returns (spec.md
// §4.10: "{error: string, code: i32}").
type rpcError struct {
	Error string `json:"error"`
	Code  int32  `json:"code"`
}

type request struct {
	Method string `json:"method"`
}

// Server serves the agent's local IPC methods over a Unix domain
// socket at socketPath.
type Server struct {
	socketPath string
	tokens     TokenSource
	device     devicemodel.DeviceInfo
	reg        devicemodel.Registration
	status     *devicemodel.StatusStore
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	broken   atomic.Bool
}

// New constructs a Server. device and reg are immutable for the
// process lifetime; tokens and status are read live on every call.
func New(socketPath string, tokens TokenSource, device devicemodel.DeviceInfo, reg devicemodel.Registration, status *devicemodel.StatusStore, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		tokens:     tokens,
		device:     device,
		reg:        reg,
		status:     status,
		logger:     logger,
	}
}

// Start binds the Unix domain socket and begins accepting
// connections in the background. Safe to call again after the
// listener has been marked broken, to reinitialise.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.broken.Store(false)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("ipc server accept failed, marking connection broken", "error", err)
			s.broken.Store(true)
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		result, rpcErr := s.dispatch(req.Method)
		if rpcErr != nil {
			_ = enc.Encode(rpcErr)
			continue
		}
		_ = enc.Encode(result)
	}
}

func (s *Server) dispatch(method string) (any, *rpcError) {
	switch method {
	case "ping":
		return s.handlePing()
	case "get_access_token":
		return s.handleGetAccessToken()
	case "get_device_info":
		return s.handleGetDeviceInfo()
	case "get_registration":
		return s.handleGetRegistration()
	case "get_status":
		return s.handleGetStatus()
	default:
		return nil, &rpcError{Error: "unknown method: " + method, Code: 1}
	}
}

// Broken reports whether the last accept failed unexpectedly.
func (s *Server) Broken() bool {
	return s.broken.Load()
}

// HealthTick is the scheduler task body that polls connection health
// and performs a full reinit on loss (spec.md §4.10).
func (s *Server) HealthTick(ctx context.Context) {
	if !s.Broken() {
		return
	}
	s.logger.Warn("ipc server connection lost, reinitialising")
	_ = s.Close()
	if err := s.Start(ctx); err != nil {
		s.logger.Error("ipc server reinit failed", "error", err)
	}
}
