package tests

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/agent"
	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/client"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

const (
	cacheURL = "https://cache.yeet.test"
	cacheKey = "cache.yeet.test-1:Zm9vYmFy"
)

// Env is a running server together with clients for each credential level.
type Env struct {
	BaseURL string
	Admin   *client.Client
	Builder *client.Client
}

func NewHostClient(t *testing.T, baseURL string) (*client.Client, keys.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := client.New(baseURL, priv)
	require.NoError(t, err)
	return c, keys.Public(priv)
}

// fakeSystem stands in for the nix store: applying a version makes it the
// active one.
type fakeSystem struct {
	mu      sync.Mutex
	active  string
	applied []string
}

func (s *fakeSystem) ActiveVersion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *fakeSystem) Apply(_ context.Context, version hosts.RemoteVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = version.StorePath
	s.applied = append(s.applied, version.StorePath)
	return nil
}

func (s *fakeSystem) Switch(_ context.Context, storePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = storePath
	return nil
}

func (s *fakeSystem) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func findHost(env *Env, name string) (hosts.Host, bool) {
	list, err := env.Admin.Status(context.Background())
	if err != nil {
		return hosts.Host{}, false
	}
	for _, h := range list {
		if h.Name == name {
			return h, true
		}
	}
	return hosts.Host{}, false
}

func hostByName(t *testing.T, env *Env, name string) hosts.Host {
	t.Helper()
	h, ok := findHost(env, name)
	require.True(t, ok, "host %s not found", name)
	return h
}

// TestFleetLifecycle admits db1 through a running agent, rolls out a version,
// detaches and re-attaches it.
func TestFleetLifecycle(t *testing.T, env *Env) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostClient, hostKey := NewHostClient(t, env.BaseURL)
	system := &fakeSystem{active: "/nix/store/aaa-system"}
	a, err := agent.New(agent.Config{
		Server:    env.BaseURL,
		Interval:  20 * time.Millisecond,
		StateFile: t.TempDir() + "/agent.yaml",
	}, hostKey, hostClient, system, agent.WithVersionSource(system.ActiveVersion))
	require.NoError(t, err)

	require.NoError(t, env.Builder.RegisterHost(ctx, "db1", hosts.NotSetState()))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var code uint32
	require.Eventually(t, func() bool {
		code = a.Status().PendingCode
		return code != 0
	}, 5*time.Second, 10*time.Millisecond, "agent never requested verification")

	pending, err := env.Admin.PendingAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, code, pending[0].Code)
	assert.Equal(t, "/nix/store/aaa-system", pending[0].StorePath)

	_, err = env.Admin.AcceptVerification(ctx, code, "db1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := a.Status()
		return st.Mode == agent.ModeProvisioned && st.PendingCode == 0
	}, 5*time.Second, 10*time.Millisecond, "agent never became verified")

	require.Eventually(t, func() bool {
		h, ok := findHost(env, "db1")
		return ok && h.LastPing != nil
	}, 5*time.Second, 10*time.Millisecond, "agent never polled")

	t.Run("rollout", func(t *testing.T) {
		require.NoError(t, env.Builder.UpdateHosts(ctx, dto.HostUpdateRequest{
			Hosts:       map[string]string{"db1": "/nix/store/bbb-system"},
			PublicKey:   cacheKey,
			Substitutor: cacheURL,
		}))

		require.Eventually(t, func() bool {
			return system.current() == "/nix/store/bbb-system"
		}, 5*time.Second, 10*time.Millisecond, "agent never switched")

		require.Eventually(t, func() bool {
			h, ok := findHost(env, "db1")
			return ok && h.LatestStorePath() == "/nix/store/bbb-system"
		}, 5*time.Second, 10*time.Millisecond)

		h := hostByName(t, env, "db1")
		require.Len(t, h.VersionHistory, 2)
		assert.Equal(t, "/nix/store/aaa-system", h.VersionHistory[0].StorePath)
		assert.Equal(t, hosts.Provisioned, h.ProvisionState.Kind)
	})

	t.Run("detach requires permission", func(t *testing.T) {
		assert.ErrorIs(t, a.Detach(ctx, "", false), agent.ErrDetachNotPermitted)

		allowed := true
		require.NoError(t, env.Admin.SetDetachPermission(ctx, dto.SetDetachPermission{Global: &allowed}))
		require.NoError(t, a.Detach(ctx, "/nix/store/local-system", false))
		assert.Equal(t, "/nix/store/local-system", system.current())
		assert.Equal(t, hosts.Detached, hostByName(t, env, "db1").ProvisionState.Kind)
	})

	t.Run("detached host ignores rollouts", func(t *testing.T) {
		require.NoError(t, env.Builder.UpdateHosts(ctx, dto.HostUpdateRequest{
			Hosts:       map[string]string{"db1": "/nix/store/ccc-system"},
			PublicKey:   cacheKey,
			Substitutor: cacheURL,
		}))
		require.Eventually(t, func() bool {
			return a.Status().Mode == agent.ModeDetached
		}, 5*time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, "/nix/store/local-system", system.current())
	})

	t.Run("attach restores the previous target", func(t *testing.T) {
		require.NoError(t, a.Attach(ctx))
		require.Eventually(t, func() bool {
			return system.current() == "/nix/store/bbb-system"
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestAdminRoutesRequireAdmin(t *testing.T, env *Env) {
	ctx := context.Background()

	_, err := env.Builder.Status(ctx)
	assert.True(t, client.IsStatus(err, http.StatusForbidden), "builder must not list hosts: %v", err)

	stranger, strangerKey := NewHostClient(t, env.BaseURL)
	_, err = stranger.Status(ctx)
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized), "unknown key: %v", err)

	require.NoError(t, env.Admin.AddKey(ctx, strangerKey, keys.LevelBuild))
	err = stranger.AddKey(ctx, strangerKey, keys.LevelAdmin)
	assert.True(t, client.IsStatus(err, http.StatusForbidden), "build key must not grant admin: %v", err)

	require.NoError(t, env.Admin.RemoveKey(ctx, strangerKey))
	_, err = stranger.Status(ctx)
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized), "removed key: %v", err)
}
