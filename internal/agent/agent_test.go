package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/client"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/httpsig"
	"github.com/yeetme/yeet/internal/keys"
)

// MockServer is a mock implementation of Server
type MockServer struct {
	mock.Mock
}

func (m *MockServer) IsHostVerified(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockServer) AddVerificationAttempt(ctx context.Context, attempt dto.VerificationAttempt) (uint32, error) {
	args := m.Called(ctx, attempt)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *MockServer) SystemCheck(ctx context.Context, storePath string) (hosts.AgentAction, error) {
	args := m.Called(ctx, storePath)
	return args.Get(0).(hosts.AgentAction), args.Error(1)
}

func (m *MockServer) IsDetachAllowed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockServer) Detach(ctx context.Context, action dto.DetachAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

// MockUpdater is a mock implementation of Updater
type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) Apply(ctx context.Context, version hosts.RemoteVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockUpdater) Switch(ctx context.Context, storePath string) error {
	args := m.Called(ctx, storePath)
	return args.Error(0)
}

const activeVersion = "/nix/store/aaa-system"

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func testKey(t *testing.T) keys.PublicKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keys.Public(priv)
}

func newTestAgent(t *testing.T, statePath string, server Server, updater Updater, clock *testClock, opts ...Option) *Agent {
	t.Helper()
	cfg := Config{Server: "http://yeet.test", Interval: time.Millisecond, StateFile: statePath}
	opts = append([]Option{
		WithVersionSource(func() (string, error) { return activeVersion, nil }),
		WithClock(clock.now),
	}, opts...)
	a, err := New(cfg, testKey(t), server, updater, opts...)
	require.NoError(t, err)
	return a
}

func TestUnverifiedHostRequestsVerificationOnce(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(false, nil)
	server.On("AddVerificationAttempt", mock.Anything, mock.MatchedBy(func(a dto.VerificationAttempt) bool {
		return a.StorePath == activeVersion && a.NixosFacter == nil
	})).Return(uint32(123456), nil).Once()

	a := newTestAgent(t, statePath, server, new(MockUpdater), clock)

	var awaiting *AwaitingApprovalError
	require.ErrorAs(t, a.cycle(context.Background()), &awaiting)
	assert.Equal(t, uint32(123456), awaiting.Code)

	clock.t = clock.t.Add(5 * time.Minute)
	require.ErrorAs(t, a.cycle(context.Background()), &awaiting)
	assert.Equal(t, uint32(123456), awaiting.Code)

	server.AssertNumberOfCalls(t, "AddVerificationAttempt", 1)
	assert.Equal(t, ModeUnverified, a.Status().Mode)
	assert.Equal(t, uint32(123456), a.Status().PendingCode)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "code: 123456")
	assert.Contains(t, string(data), "requested_at:")
}

func TestPendingCodeSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, NewStateFile(statePath).Save(State{Pending: &PendingCode{Code: 424242, RequestedAt: clock.t}}))

	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(false, nil)
	a := newTestAgent(t, statePath, server, new(MockUpdater), clock)

	var awaiting *AwaitingApprovalError
	require.ErrorAs(t, a.cycle(context.Background()), &awaiting)
	assert.Equal(t, uint32(424242), awaiting.Code)
	server.AssertNotCalled(t, "AddVerificationAttempt", mock.Anything, mock.Anything)
}

func TestStalePendingCodeIsResubmitted(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, NewStateFile(statePath).Save(State{Pending: &PendingCode{Code: 111111, RequestedAt: clock.t.Add(-15 * time.Minute)}}))

	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(false, nil)
	server.On("AddVerificationAttempt", mock.Anything, mock.Anything).Return(uint32(222222), nil).Once()
	a := newTestAgent(t, statePath, server, new(MockUpdater), clock)

	var awaiting *AwaitingApprovalError
	require.ErrorAs(t, a.cycle(context.Background()), &awaiting)
	assert.Equal(t, uint32(222222), awaiting.Code)

	state, err := NewStateFile(statePath).Load()
	require.NoError(t, err)
	require.NotNil(t, state.Pending)
	assert.Equal(t, uint32(222222), state.Pending.Code)
	assert.True(t, state.Pending.RequestedAt.Equal(clock.t))
}

func TestRejectedSignatureDoesNotResubmitVerification(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "key already in use"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": httpsig.ErrSignatureExpired.Error()})
	}))
	defer srv.Close()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	server, err := client.New(srv.URL, priv)
	require.NoError(t, err)

	clock := &testClock{t: time.Now()}
	a := newTestAgent(t, "", server, new(MockUpdater), clock)
	for range 3 {
		err := a.cycle(context.Background())
		require.Error(t, err)
		assert.True(t, client.IsStatus(err, http.StatusUnauthorized))
	}

	assert.Zero(t, attempts.Load())
	assert.Equal(t, ModeNetworkError, a.Status().Mode)
	assert.Zero(t, a.Status().PendingCode)
}

func TestFactsAreAttachedWhenEnabled(t *testing.T) {
	clock := &testClock{t: time.Now()}
	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(false, nil)
	server.On("AddVerificationAttempt", mock.Anything, mock.MatchedBy(func(a dto.VerificationAttempt) bool {
		return a.NixosFacter != nil && *a.NixosFacter == `{"hardware":{}}`
	})).Return(uint32(100000), nil).Once()

	cfg := Config{Server: "http://yeet.test", Interval: time.Millisecond, Facter: true}
	a, err := New(cfg, testKey(t), server, new(MockUpdater),
		WithVersionSource(func() (string, error) { return activeVersion, nil }),
		WithFacts(func(context.Context) (string, error) { return `{"hardware":{}}`, nil }),
		WithClock(clock.now),
	)
	require.NoError(t, err)

	var awaiting *AwaitingApprovalError
	require.ErrorAs(t, a.cycle(context.Background()), &awaiting)
	server.AssertExpectations(t)
}

func TestVerifiedHostAppliesSwitchAndClearsPending(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	clock := &testClock{t: time.Now()}
	require.NoError(t, NewStateFile(statePath).Save(State{Pending: &PendingCode{Code: 123456, RequestedAt: clock.t}}))

	target := hosts.RemoteVersion{StorePath: "/nix/store/bbb-system", Substitutor: "https://cache", PublicKey: "cache-1:k"}
	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(true, nil)
	server.On("SystemCheck", mock.Anything, activeVersion).Return(hosts.SwitchTo(target), nil).Once()
	server.On("SystemCheck", mock.Anything, activeVersion).Return(hosts.AgentAction{}, errors.New("connection reset")).Once()
	updater := new(MockUpdater)
	updater.On("Apply", mock.Anything, target).Return(nil).Once()

	a := newTestAgent(t, statePath, server, updater, clock)
	err := a.cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	updater.AssertExpectations(t)
	server.AssertExpectations(t)
	assert.Equal(t, ModeNetworkError, a.Status().Mode)
	assert.Zero(t, a.Status().PendingCode)

	state, err := NewStateFile(statePath).Load()
	require.NoError(t, err)
	assert.Nil(t, state.Pending)
}

func TestNothingAndDetachAreNoOps(t *testing.T) {
	clock := &testClock{t: time.Now()}
	updater := new(MockUpdater)
	a := newTestAgent(t, "", new(MockServer), updater, clock)

	require.NoError(t, a.dispatch(context.Background(), hosts.Nothing()))
	assert.Equal(t, Status{Mode: ModeProvisioned, UpToDate: UpToDateYes, Server: "http://yeet.test"}, a.Status())

	require.NoError(t, a.dispatch(context.Background(), hosts.Detach()))
	assert.Equal(t, ModeDetached, a.Status().Mode)
	assert.Equal(t, UpToDateDetached, a.Status().UpToDate)

	updater.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestFailedApplyEndsCycle(t *testing.T) {
	clock := &testClock{t: time.Now()}
	target := hosts.RemoteVersion{StorePath: "/nix/store/bbb-system"}
	updater := new(MockUpdater)
	updater.On("Apply", mock.Anything, target).Return(errors.New("nix-store: exit status 1"))
	a := newTestAgent(t, "", new(MockServer), updater, clock)

	assert.Error(t, a.dispatch(context.Background(), hosts.SwitchTo(target)))
	assert.Equal(t, UpToDateNo, a.Status().UpToDate)
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := &testClock{t: time.Now()}
	attempted := make(chan struct{}, 1)
	server := new(MockServer)
	server.On("IsHostVerified", mock.Anything).Return(false, errors.New("connection refused")).Run(func(mock.Arguments) {
		select {
		case attempted <- struct{}{}:
		default:
		}
	})
	a := newTestAgent(t, "", server, new(MockUpdater), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never contacted the server")
	}
	<-attempted
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Contains(t, a.Status().LastError, "connection refused")
}

func TestDetach(t *testing.T) {
	clock := &testClock{t: time.Now()}

	t.Run("not permitted", func(t *testing.T) {
		server := new(MockServer)
		server.On("IsDetachAllowed", mock.Anything).Return(false, nil)
		a := newTestAgent(t, "", server, new(MockUpdater), clock)

		assert.ErrorIs(t, a.Detach(context.Background(), "", false), ErrDetachNotPermitted)
		server.AssertNotCalled(t, "Detach", mock.Anything, mock.Anything)
	})

	t.Run("permitted with version", func(t *testing.T) {
		server := new(MockServer)
		server.On("IsDetachAllowed", mock.Anything).Return(true, nil)
		server.On("Detach", mock.Anything, dto.DetachAction{Kind: dto.DetachSelf}).Return(nil).Once()
		updater := new(MockUpdater)
		updater.On("Switch", mock.Anything, "/nix/store/local-system").Return(nil).Once()
		a := newTestAgent(t, "", server, updater, clock)

		require.NoError(t, a.Detach(context.Background(), "/nix/store/local-system", false))
		server.AssertExpectations(t)
		updater.AssertExpectations(t)
		assert.Equal(t, ModeDetached, a.Status().Mode)
		assert.Equal(t, "/nix/store/local-system", a.Status().Version)
	})

	t.Run("forced skips the server", func(t *testing.T) {
		server := new(MockServer)
		a := newTestAgent(t, "", server, new(MockUpdater), clock)

		require.NoError(t, a.Detach(context.Background(), "", true))
		assert.Empty(t, server.Calls)
		assert.Equal(t, ModeDetached, a.Status().Mode)
	})
}

func TestAttach(t *testing.T) {
	server := new(MockServer)
	server.On("Detach", mock.Anything, dto.DetachAction{Kind: dto.AttachSelf}).Return(nil).Once()
	a := newTestAgent(t, "", server, new(MockUpdater), &testClock{t: time.Now()})

	require.NoError(t, a.Attach(context.Background()))
	server.AssertExpectations(t)
}

func TestNewRejectsBadState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(statePath, []byte("pending: [oops"), 0o600))

	_, err := New(Config{Interval: time.Second, StateFile: statePath}, testKey(t), new(MockServer), new(MockUpdater))
	assert.Error(t, err)

	_, err = New(Config{}, testKey(t), new(MockServer), new(MockUpdater))
	assert.Error(t, err)
}
