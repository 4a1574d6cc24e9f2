// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/clock"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/helperproto"
)

// Config assembles the helper service. PublicKey and Store are
// required.
type Config struct {
	// SocketPath is where Serve listens.
	SocketPath string

	// PublicKey verifies authorization proofs. In a shipped helper
	// this is compiled into the binary; the variable exists so tests
	// can mint with a throwaway key.
	PublicKey ed25519.PublicKey

	// Allowlist defaults to DefaultAllowlist.
	Allowlist Allowlist

	// Store is the helper's own system-level audit store. The caller
	// never writes elevated records.
	Store *audit.Store

	// Spawner defaults to execute.SystemSpawner.
	Spawner execute.Spawner

	Clock  clock.Clock
	Logger *slog.Logger

	// PeerChecker defaults to UIDPeerChecker{AllowedUID}.
	PeerChecker PeerChecker

	// AllowedUID is the non-root uid admitted by the default peer
	// checker.
	AllowedUID uint32

	// DefaultTimeout applies when a request carries no timeout.
	// Defaults to two minutes.
	DefaultTimeout time.Duration

	// MaxTimeout is the compiled-in ceiling; caller timeouts are
	// clamped to it. Defaults to five minutes.
	MaxTimeout time.Duration

	// MaxOutputBytes caps captured output per stream. Defaults to
	// 1 MiB.
	MaxOutputBytes int64

	// Version is reported by the version action.
	Version string
}

// runningExecution is one in-flight spawn, cancellable by proof key
// ID.
type runningExecution struct {
	keyID  string
	cancel context.CancelFunc
}

// Service is the privileged helper. Construct with New, run with
// Serve.
type Service struct {
	socketPath     string
	publicKey      ed25519.PublicKey
	allowlist      Allowlist
	store          *audit.Store
	spawner        execute.Spawner
	clock          clock.Clock
	logger         *slog.Logger
	peerChecker    PeerChecker
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxOutputBytes int64
	version        string

	mu      sync.Mutex
	nextID  uint64
	running map[uint64]runningExecution
}

// New validates the configuration and constructs the service.
func New(cfg Config) (*Service, error) {
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("helper: Config.PublicKey is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("helper: Config.Store is required")
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("helper: Config.SocketPath is required")
	}

	service := &Service{
		socketPath:     cfg.SocketPath,
		publicKey:      cfg.PublicKey,
		allowlist:      cfg.Allowlist,
		store:          cfg.Store,
		spawner:        cfg.Spawner,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		peerChecker:    cfg.PeerChecker,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
		version:        cfg.Version,
		running:        make(map[uint64]runningExecution),
	}
	if service.allowlist == nil {
		service.allowlist = DefaultAllowlist()
	}
	if service.spawner == nil {
		service.spawner = execute.SystemSpawner{}
	}
	if service.clock == nil {
		service.clock = clock.Real()
	}
	if service.logger == nil {
		service.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if service.peerChecker == nil {
		service.peerChecker = UIDPeerChecker{AllowedUID: cfg.AllowedUID}
	}
	if service.defaultTimeout <= 0 {
		service.defaultTimeout = 2 * time.Minute
	}
	if service.maxTimeout <= 0 {
		service.maxTimeout = 5 * time.Minute
	}
	if service.maxOutputBytes <= 0 {
		service.maxOutputBytes = 1 << 20
	}
	return service, nil
}

// handleExecute walks the request state machine. Exactly one audit
// record is appended per request, before the response goes out.
func (s *Service) handleExecute(ctx context.Context, req *helperproto.Request) (any, error) {
	id := s.nextRequestID()
	state := stateReceived
	s.logState(id, state, req)

	now := s.clock.Now()
	proof, err := authproof.VerifyAt(s.publicKey, req.Proof, authproof.RightExecute, now)
	if err != nil {
		state = stateRejected
		s.logState(id, state, req)
		s.logger.Warn("execute rejected: authorization",
			"request", id, "capability", req.CapabilityID, "error", err)
		if auditErr := s.appendRejection(ctx, req, audit.StatusRejectedAuthorization); auditErr != nil {
			return nil, auditErr
		}
		return nil, helperproto.Errorf(helperproto.CodeAuthorizationDenied, "authorization proof rejected")
	}
	state = stateAuthorizationChecked
	s.logState(id, state, req)

	if !s.allowlist.Contains(req.CommandPath) {
		state = stateRejected
		s.logState(id, state, req)
		s.logger.Error("execute rejected: command not in allowlist",
			"request", id, "capability", req.CapabilityID, "path", req.CommandPath)
		if auditErr := s.appendRejection(ctx, req, audit.StatusRejectedAllowlist); auditErr != nil {
			return nil, auditErr
		}
		return nil, helperproto.Errorf(helperproto.CodeCommandNotAllowed, "command %s is not allowlisted", req.CommandPath)
	}
	state = stateAllowlistChecked
	s.logState(id, state, req)

	if _, err := os.Stat(req.CommandPath); err != nil {
		state = stateRejected
		s.logState(id, state, req)
		s.logger.Warn("execute rejected: command binary missing",
			"request", id, "capability", req.CapabilityID, "path", req.CommandPath)
		if auditErr := s.appendRejection(ctx, req, audit.StatusRejectedMissing); auditErr != nil {
			return nil, auditErr
		}
		return nil, helperproto.Errorf(helperproto.CodeCommandMissing, "command %s not present on disk", req.CommandPath)
	}

	timeout := s.defaultTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}
	if timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.trackExecution(id, proof.KeyID, cancel)
	defer s.untrackExecution(id)

	state = stateExecuting
	s.logState(id, state, req)

	startedAt := s.clock.Now()
	outcome, spawnErr := s.spawner.Spawn(runCtx, execute.SpawnRequest{
		Path:           req.CommandPath,
		Args:           req.Arguments,
		Dir:            req.WorkingDirectory,
		MaxOutputBytes: s.maxOutputBytes,
	})
	finishedAt := s.clock.Now()

	data := helperproto.ExecuteData{
		ExitCode: outcome.ExitCode,
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
	}

	var status audit.Status
	switch {
	case spawnErr == nil && outcome.ExitCode == 0:
		status = audit.StatusCompleted
	case spawnErr == nil:
		status = audit.StatusFailed
	case runCtx.Err() != nil:
		// Deadline expiry or a cancel action killed the process group.
		data.TimedOut = true
		status = audit.StatusTimeout
	default:
		s.logger.Error("spawn failed",
			"request", id, "capability", req.CapabilityID, "error", spawnErr)
		status = audit.StatusFailed
	}

	exitCode := outcome.ExitCode
	record := audit.Record{
		CapabilityID: req.CapabilityID,
		TrustTier:    catalog.TierElevated,
		Arguments:    req.Arguments,
		Status:       status,
		ExitCode:     &exitCode,
		Stdout:       outcome.Stdout,
		Stderr:       outcome.Stderr,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Requester:    req.Requester,
	}
	if err := s.store.Append(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("audit append failed", "request", id, "error", err)
		return nil, helperproto.Errorf(helperproto.CodeInternal, "recording execution: %v", err)
	}

	state = stateCompleted
	s.logState(id, state, req)
	s.logger.Info("execute finished",
		"request", id,
		"capability", req.CapabilityID,
		"status", status,
		"exit_code", outcome.ExitCode,
		"duration", finishedAt.Sub(startedAt))

	return data, nil
}

// handleCancel kills in-flight executions whose proof was minted by
// the same key as the cancel request's proof. The killed executions
// write their own audit records (status timeout) from their execute
// handlers; cancel itself records nothing.
func (s *Service) handleCancel(ctx context.Context, req *helperproto.Request) (any, error) {
	proof, err := authproof.VerifyAt(s.publicKey, req.Proof, authproof.RightExecute, s.clock.Now())
	if err != nil {
		s.logger.Warn("cancel rejected: authorization", "error", err)
		return nil, helperproto.Errorf(helperproto.CodeAuthorizationDenied, "authorization proof rejected")
	}

	s.mu.Lock()
	var cancels []context.CancelFunc
	for _, execution := range s.running {
		if execution.keyID == proof.KeyID {
			cancels = append(cancels, execution.cancel)
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	s.logger.Info("cancel processed", "key_id", proof.KeyID, "cancelled", len(cancels))
	return helperproto.CancelData{Cancelled: len(cancels)}, nil
}

func (s *Service) handleVersion(context.Context, *helperproto.Request) (any, error) {
	return helperproto.VersionData{Version: s.version}, nil
}

func (s *Service) handlePing(context.Context, *helperproto.Request) (any, error) {
	return nil, nil
}

// appendRejection writes the audit record for a request that was
// refused before anything spawned. Rejection records carry no exit
// code.
func (s *Service) appendRejection(ctx context.Context, req *helperproto.Request, status audit.Status) error {
	now := s.clock.Now()
	record := audit.Record{
		CapabilityID: req.CapabilityID,
		TrustTier:    catalog.TierElevated,
		Arguments:    req.Arguments,
		Status:       status,
		StartedAt:    now,
		FinishedAt:   now,
		Requester:    req.Requester,
	}
	if err := s.store.Append(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("audit append failed for rejection", "status", status, "error", err)
		return helperproto.Errorf(helperproto.CodeInternal, "recording rejection: %v", err)
	}
	return nil
}

func (s *Service) nextRequestID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Service) trackExecution(id uint64, keyID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = runningExecution{keyID: keyID, cancel: cancel}
}

func (s *Service) untrackExecution(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func (s *Service) logState(id uint64, state requestState, req *helperproto.Request) {
	s.logger.Debug("request state",
		"request", id, "state", state.String(), "capability", req.CapabilityID)
}
