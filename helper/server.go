// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/caretaker-app/caretaker/lib/codec"
	"github.com/caretaker-app/caretaker/lib/helperproto"
)

// readTimeout is how long the helper waits for a connected client to
// send its request. A well-behaved client writes immediately.
const readTimeout = 30 * time.Second

// writeTimeout is how long the helper waits for a response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. Requests are a command
// path, a short argv, and a proof; 1 MB is far beyond anything
// legitimate.
const maxRequestSize = 1024 * 1024

// Serve listens on the configured Unix socket and processes requests
// until ctx is cancelled, then stops accepting and waits for in-flight
// handlers. Each connection carries exactly one request-response
// cycle.
//
// Any stale socket file is removed before listening and the live one
// is removed on return. The socket is opened world-connectable; the
// peer checker and per-request proofs do the gating, not file modes,
// because the app runs as an ordinary user while the helper runs as
// root.
func (s *Service) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, 0o666); err != nil {
		return fmt.Errorf("setting socket mode on %s: %w", s.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("helper listening", "path", s.socketPath, "version", s.version)

	var activeConnections sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleConnection processes one request-response cycle: peer check,
// decode, dispatch, respond.
func (s *Service) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := s.peerChecker.Check(conn); err != nil {
		s.logger.Warn("connection rejected by peer check", "error", err)
		s.writeError(conn, helperproto.CodeAuthorizationDenied, "peer not permitted")
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting so no framing is needed. LimitReader
	// keeps a hostile client from exhausting memory.
	var request helperproto.Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, helperproto.CodeInvalidRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var (
		result any
		err    error
	)
	switch request.Action {
	case helperproto.ActionExecute:
		result, err = s.handleExecute(ctx, &request)
	case helperproto.ActionCancel:
		result, err = s.handleCancel(ctx, &request)
	case helperproto.ActionVersion:
		result, err = s.handleVersion(ctx, &request)
	case helperproto.ActionPing:
		result, err = s.handlePing(ctx, &request)
	case "":
		err = helperproto.Errorf(helperproto.CodeInvalidRequest, "missing required field: action")
	default:
		err = helperproto.Errorf(helperproto.CodeUnknownAction, "unknown action %q", request.Action)
	}

	if err != nil {
		var protoErr *helperproto.Error
		if errors.As(err, &protoErr) {
			s.writeError(conn, protoErr.Code, protoErr.Message)
		} else {
			s.writeError(conn, helperproto.CodeInternal, err.Error())
		}
		return
	}

	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, code, error}. Write failures are logged
// at debug level: the connection is closing regardless.
func (s *Service) writeError(conn net.Conn, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(helperproto.Response{
		OK:    false,
		Code:  code,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with the marshaled result in "data"
// when result is non-nil.
func (s *Service) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := helperproto.Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, helperproto.CodeInternal, fmt.Sprintf("marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
