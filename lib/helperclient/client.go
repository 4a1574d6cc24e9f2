// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helperclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/caretaker-app/caretaker/lib/codec"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/helperproto"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the helper's
// response after writing the request. Must exceed the helper's
// execution ceiling or long commands would look like dead sockets.
const responseReadTimeout = 6 * time.Minute

// maxResponseSize matches the helper's request cap plus captured
// output.
const maxResponseSize = 4 * 1024 * 1024

// ExecuteRequest is one elevated execution. Arguments are the final
// resolved argv; the helper never sees templates or parameters.
type ExecuteRequest struct {
	CapabilityID     string
	CommandPath      string
	Arguments        []string
	WorkingDirectory string
	Timeout          time.Duration
	Proof            []byte
	Requester        string
}

// Client sends requests to the helper socket. Each call opens a fresh
// connection, matching the helper's one-request-per-connection model.
// The zero value is not usable; construct with NewClient.
type Client struct {
	socketPath string
}

// NewClient returns a client for the helper socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Execute runs an allowlisted command through the helper. Errors are
// drawn from the lib/execute taxonomy: ErrChannelUnavailable when the
// socket cannot be reached, ErrPermissionDenied when the proof is
// rejected, ErrCommandNotAllowed and ErrCommandMissing for allowlist
// failures, ErrTimeout when the helper killed the command at its
// deadline, and *ExecError for a nonzero exit.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (execute.Result, error) {
	startedAt := time.Now()
	response, err := c.send(ctx, helperproto.Request{
		Action:           helperproto.ActionExecute,
		CapabilityID:     req.CapabilityID,
		CommandPath:      req.CommandPath,
		Arguments:        req.Arguments,
		WorkingDirectory: req.WorkingDirectory,
		TimeoutMillis:    req.Timeout.Milliseconds(),
		Proof:            req.Proof,
		Requester:        req.Requester,
	})
	if err != nil {
		return execute.Result{}, err
	}

	if !response.OK {
		return execute.Result{}, mapCode(response, req.CapabilityID)
	}

	var data helperproto.ExecuteData
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		return execute.Result{}, fmt.Errorf("helperclient: decoding execute response: %w", err)
	}

	result := execute.Result{
		ExitCode:   data.ExitCode,
		Stdout:     data.Stdout,
		Stderr:     data.Stderr,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		TimedOut:   data.TimedOut,
	}
	if data.TimedOut {
		return result, fmt.Errorf("%w: %s", execute.ErrTimeout, req.CapabilityID)
	}
	if data.ExitCode != 0 {
		return result, &execute.ExecError{CapabilityID: req.CapabilityID, Result: result}
	}
	return result, nil
}

// Cancel kills running executions authorized by the same proof key.
// Returns how many were affected.
func (c *Client) Cancel(ctx context.Context, proof []byte) (int, error) {
	response, err := c.send(ctx, helperproto.Request{
		Action: helperproto.ActionCancel,
		Proof:  proof,
	})
	if err != nil {
		return 0, err
	}
	if !response.OK {
		return 0, mapCode(response, "")
	}

	var data helperproto.CancelData
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		return 0, fmt.Errorf("helperclient: decoding cancel response: %w", err)
	}
	return data.Cancelled, nil
}

// Version asks the running helper for its build version.
// Unauthenticated.
func (c *Client) Version(ctx context.Context) (string, error) {
	response, err := c.send(ctx, helperproto.Request{Action: helperproto.ActionVersion})
	if err != nil {
		return "", err
	}
	if !response.OK {
		return "", mapCode(response, "")
	}

	var data helperproto.VersionData
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		return "", fmt.Errorf("helperclient: decoding version response: %w", err)
	}
	return data.Version, nil
}

// Ping checks that the helper is alive. Unauthenticated.
func (c *Client) Ping(ctx context.Context) error {
	response, err := c.send(ctx, helperproto.Request{Action: helperproto.ActionPing})
	if err != nil {
		return err
	}
	if !response.OK {
		return mapCode(response, "")
	}
	return nil
}

// mapCode converts a failure envelope into the shared error taxonomy.
func mapCode(response *helperproto.Response, capabilityID string) error {
	switch response.Code {
	case helperproto.CodeAuthorizationDenied:
		return fmt.Errorf("%w: %s", execute.ErrPermissionDenied, response.Error)
	case helperproto.CodeCommandNotAllowed:
		return fmt.Errorf("%w: %s", execute.ErrCommandNotAllowed, response.Error)
	case helperproto.CodeCommandMissing:
		return fmt.Errorf("%w: %s", execute.ErrCommandMissing, response.Error)
	}
	if capabilityID != "" {
		return fmt.Errorf("helperclient: %s: %s (%s)", capabilityID, response.Error, response.Code)
	}
	return fmt.Errorf("helperclient: %s (%s)", response.Error, response.Code)
}

// send opens a connection, writes one request, and reads one response.
// Dial failures become ErrChannelUnavailable: the helper is not
// installed or not running, which is an install-flow problem rather
// than a protocol error.
func (c *Client) send(ctx context.Context, request helperproto.Request) (*helperproto.Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", execute.ErrChannelUnavailable, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("helperclient: writing request: %w", err)
	}

	// Half-close so the helper's read side sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response helperproto.Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("helperclient: reading response: %w", err)
	}
	return &response, nil
}
