package ipc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/agent"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDaemon is a mock implementation of Daemon
type MockDaemon struct {
	mock.Mock
}

func (m *MockDaemon) Status() agent.Status {
	return m.Called().Get(0).(agent.Status)
}

func (m *MockDaemon) Config() agent.Config {
	return m.Called().Get(0).(agent.Config)
}

func (m *MockDaemon) Detach(ctx context.Context, version string, force bool) error {
	return m.Called(ctx, version, force).Error(0)
}

func (m *MockDaemon) Attach(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func serve(t *testing.T, daemon Daemon, allowed ...uint32) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "yeet-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "agent.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(socket, allowed, daemon).Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return NewClient(socket)
}

func TestStatusAndConfigOverSocket(t *testing.T) {
	daemon := new(MockDaemon)
	daemon.On("Status").Return(agent.Status{Mode: agent.ModeProvisioned, UpToDate: agent.UpToDateYes, Server: "http://yeet.test"})
	daemon.On("Config").Return(agent.Config{Server: "http://yeet.test", Interval: 30 * time.Second})
	client := serve(t, daemon)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.ModeProvisioned, status.Mode)
	assert.Equal(t, agent.UpToDateYes, status.UpToDate)

	cfg, err := client.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Interval)
}

func TestPrivilegedCallsFromAllowedUser(t *testing.T) {
	daemon := new(MockDaemon)
	daemon.On("Detach", mock.Anything, "/nix/store/local-system", true).Return(nil).Once()
	daemon.On("Attach", mock.Anything).Return(nil).Once()
	client := serve(t, daemon, uint32(os.Getuid()))

	require.NoError(t, client.Detach(context.Background(), "/nix/store/local-system", true))
	require.NoError(t, client.Attach(context.Background()))
	daemon.AssertExpectations(t)
}

func TestDetachNotPermittedByServer(t *testing.T) {
	daemon := new(MockDaemon)
	daemon.On("Detach", mock.Anything, "", false).Return(agent.ErrDetachNotPermitted)
	client := serve(t, daemon, uint32(os.Getuid()))

	err := client.Detach(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "does not permit")
}

func TestPrivilegedRoutesNeedPeerCredentials(t *testing.T) {
	daemon := new(MockDaemon)
	handler := NewServer("", nil, daemon).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/detach", strings.NewReader(`{"force":true}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)
	daemon.AssertNotCalled(t, "Detach", mock.Anything, mock.Anything, mock.Anything)
}

func TestPermits(t *testing.T) {
	s := NewServer("", []uint32{1000}, new(MockDaemon))
	assert.True(t, s.permits(0))
	assert.True(t, s.permits(1000))
	assert.False(t, s.permits(1001))
}

func TestClientReportsUnreachableAgent(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := client.Status(context.Background())
	assert.ErrorContains(t, err, "agent is not reachable")
}
