// Package agent runs the host side of the reconciliation loop: it gets the
// host admitted, polls the server for the desired version and applies it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
)

// Server is the part of the signed API the agent talks to.
type Server interface {
	IsHostVerified(ctx context.Context) (bool, error)
	AddVerificationAttempt(ctx context.Context, attempt dto.VerificationAttempt) (uint32, error)
	SystemCheck(ctx context.Context, storePath string) (hosts.AgentAction, error)
	IsDetachAllowed(ctx context.Context) (bool, error)
	Detach(ctx context.Context, action dto.DetachAction) error
}

type Updater interface {
	Apply(ctx context.Context, version hosts.RemoteVersion) error
	Switch(ctx context.Context, storePath string) error
}

type Config struct {
	Server    string        `json:"server"`
	KeyFile   string        `json:"key_file"`
	Interval  time.Duration `json:"interval"`
	Facter    bool          `json:"facter"`
	StateFile string        `json:"state_file"`
}

type Option func(*Agent)

// WithVersionSource replaces the lookup of the running system's store path.
func WithVersionSource(fn func() (string, error)) Option {
	return func(a *Agent) { a.activeVersion = fn }
}

func WithFacts(fn func(context.Context) (string, error)) Option {
	return func(a *Agent) { a.facts = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

type Agent struct {
	cfg     Config
	key     keys.PublicKey
	server  Server
	updater Updater
	state   *StateFile

	activeVersion func() (string, error)
	facts         func(context.Context) (string, error)
	now           func() time.Time

	mu     sync.Mutex
	local  State
	status Status
}

// New loads the persisted agent state. Without WithVersionSource every
// cycle fails.
func New(cfg Config, key keys.PublicKey, server Server, updater Updater, opts ...Option) (*Agent, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("agent interval must be positive, got %s", cfg.Interval)
	}
	a := &Agent{
		cfg:     cfg,
		key:     key,
		server:  server,
		updater: updater,
		state:   NewStateFile(cfg.StateFile),
		now:     time.Now,
		activeVersion: func() (string, error) {
			return "", errors.New("no version source configured")
		},
		facts: func(context.Context) (string, error) {
			return "", errors.New("no facts source configured")
		},
		status: Status{Mode: ModeStarting, UpToDate: UpToDateUnknown, Server: cfg.Server},
	}
	for _, opt := range opts {
		opt(a)
	}

	local, err := a.state.Load()
	if err != nil {
		return nil, err
	}
	a.local = local
	if local.Pending != nil {
		a.status.PendingCode = local.Pending.Code
	}
	return a, nil
}

func (a *Agent) Config() Config { return a.cfg }

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Run retries the agent cycle every interval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("Agent started", "server", a.cfg.Server, "key", a.key.KeyID(), "interval", a.cfg.Interval)

	policy := backoff.WithContext(backoff.NewConstantBackOff(a.cfg.Interval), ctx)
	err := backoff.RetryNotify(func() error {
		err := a.cycle(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, next time.Duration) {
		a.recordError(err)
		var awaiting *AwaitingApprovalError
		if errors.As(err, &awaiting) {
			slog.Info("Waiting for an admin to accept this host", "code", awaiting.Code, "retry_in", next)
			return
		}
		slog.Error("Agent cycle failed", "error", err, "retry_in", next)
	})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("Agent stopped")
		return nil
	}
	return err
}

// cycle only returns with an error; a verified host polls until something
// fails.
func (a *Agent) cycle(ctx context.Context) error {
	verified, err := a.server.IsHostVerified(ctx)
	if err != nil {
		a.setMode(ModeNetworkError, UpToDateUnknown)
		return fmt.Errorf("failed to query verification status: %w", err)
	}
	if !verified {
		return a.requestVerification(ctx)
	}

	if err := a.clearPending(); err != nil {
		return err
	}
	slog.Info("Host verified", "server", a.cfg.Server)

	timer := time.NewTimer(a.cfg.Interval)
	defer timer.Stop()
	for {
		if err := a.poll(ctx); err != nil {
			return err
		}
		timer.Reset(a.cfg.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Agent) requestVerification(ctx context.Context) error {
	a.setMode(ModeUnverified, UpToDateUnknown)

	a.mu.Lock()
	pending := a.local.Pending
	a.mu.Unlock()
	if pending != nil && a.now().Sub(pending.RequestedAt) < registry.AttemptTTL {
		return &AwaitingApprovalError{Code: pending.Code}
	}

	version, err := a.activeVersion()
	if err != nil {
		return err
	}
	attempt := dto.VerificationAttempt{Key: a.key, StorePath: version}
	if a.cfg.Facter {
		facts, err := a.facts(ctx)
		if err != nil {
			slog.Warn("Failed to collect hardware facts", "error", err)
		} else {
			attempt.NixosFacter = &facts
		}
	}

	code, err := a.server.AddVerificationAttempt(ctx, attempt)
	if err != nil {
		a.setMode(ModeNetworkError, UpToDateUnknown)
		return fmt.Errorf("failed to submit verification attempt: %w", err)
	}
	slog.Info("Verification requested", "code", code)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.local.Pending = &PendingCode{Code: code, RequestedAt: a.now()}
	a.status.PendingCode = code
	if err := a.state.Save(a.local); err != nil {
		slog.Warn("Failed to persist verification code", "error", err)
	}
	return &AwaitingApprovalError{Code: code}
}

func (a *Agent) clearPending() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.local.Pending == nil {
		return nil
	}
	a.local.Pending = nil
	a.status.PendingCode = 0
	return a.state.Save(a.local)
}

func (a *Agent) poll(ctx context.Context) error {
	version, err := a.activeVersion()
	if err != nil {
		return err
	}
	action, err := a.server.SystemCheck(ctx, version)
	if err != nil {
		a.setMode(ModeNetworkError, UpToDateUnknown)
		return fmt.Errorf("system check failed: %w", err)
	}
	slog.Debug("Received action", "action", action.Kind, "version", version)
	a.checked(version)
	return a.dispatch(ctx, action)
}

func (a *Agent) dispatch(ctx context.Context, action hosts.AgentAction) error {
	switch action.Kind {
	case hosts.ActionNothing:
		a.setMode(ModeProvisioned, UpToDateYes)
	case hosts.ActionDetach:
		a.setMode(ModeDetached, UpToDateDetached)
	case hosts.ActionSwitchTo:
		a.setMode(ModeProvisioned, UpToDateNo)
		if err := a.updater.Apply(ctx, *action.Version); err != nil {
			return err
		}
		a.checked(action.Version.StorePath)
		a.setMode(ModeProvisioned, UpToDateYes)
	default:
		return fmt.Errorf("unknown agent action %s", action.Kind)
	}
	return nil
}

// Detach tells the server this host leaves fleet management and optionally
// switches to a locally built version. force skips the server entirely; the
// next successful poll then reverts the host to the server's version.
func (a *Agent) Detach(ctx context.Context, version string, force bool) error {
	if !force {
		allowed, err := a.server.IsDetachAllowed(ctx)
		if err != nil {
			return fmt.Errorf("failed to query detach permission: %w", err)
		}
		if !allowed {
			return ErrDetachNotPermitted
		}
		if err := a.server.Detach(ctx, dto.DetachAction{Kind: dto.DetachSelf}); err != nil {
			return fmt.Errorf("failed to detach: %w", err)
		}
	}
	slog.Info("Host detached", "force", force)

	if version != "" {
		if err := a.updater.Switch(ctx, version); err != nil {
			return err
		}
		a.checked(version)
	}
	a.setMode(ModeDetached, UpToDateDetached)
	return nil
}

// Attach hands the host back to the server; the next poll switches to the
// server's version.
func (a *Agent) Attach(ctx context.Context) error {
	if err := a.server.Detach(ctx, dto.DetachAction{Kind: dto.AttachSelf}); err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	slog.Info("Host attached")
	a.setMode(ModeProvisioned, UpToDateUnknown)
	return nil
}

func (a *Agent) setMode(mode Mode, upToDate UpToDate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.Mode = mode
	a.status.UpToDate = upToDate
	if mode != ModeNetworkError {
		a.status.LastError = ""
	}
}

func (a *Agent) checked(version string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.Version = version
	a.status.LastCheck = a.now()
}

func (a *Agent) recordError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.LastError = err.Error()
}
