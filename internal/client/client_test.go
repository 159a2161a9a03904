package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/yeetme/yeet/internal/api/http"
	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/httpsig"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newPrivateKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func startServer(t *testing.T, admin ed25519.PrivateKey) *httptest.Server {
	t.Helper()
	reg := registry.New()
	reg.Bootstrap([]keys.PublicKey{keys.Public(admin)}, nil)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{Registry: reg})
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", nil)
	assert.Error(t, err)
	_, err = New("://", nil)
	assert.Error(t, err)
}

func TestAdmissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	adminKey := newPrivateKey(t)
	srv := startServer(t, adminKey)

	admin, err := New(srv.URL, adminKey)
	require.NoError(t, err)
	agentKey := newPrivateKey(t)
	agent, err := New(srv.URL+"/", agentKey)
	require.NoError(t, err)

	verified, err := agent.IsHostVerified(ctx)
	require.NoError(t, err)
	assert.False(t, verified)

	require.NoError(t, admin.RegisterHost(ctx, "db1", hosts.NotSetState()))

	code, err := agent.AddVerificationAttempt(ctx, dto.VerificationAttempt{Key: keys.Public(agentKey), StorePath: "/nix/store/v0"})
	require.NoError(t, err)

	pending, err := admin.PendingAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, code, pending[0].Code)

	_, err = admin.AcceptVerification(ctx, code, "db1")
	require.NoError(t, err)

	verified, err = agent.IsHostVerified(ctx)
	require.NoError(t, err)
	assert.True(t, verified)

	action, err := agent.SystemCheck(ctx, "/nix/store/v0")
	require.NoError(t, err)
	assert.Equal(t, hosts.Nothing(), action)

	all, err := admin.Status(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "db1", all[0].Name)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t, newPrivateKey(t))

	stranger, err := New(srv.URL, newPrivateKey(t))
	require.NoError(t, err)

	_, err = stranger.Status(ctx)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "keyid is not registered")
}

func TestSignedCallWithoutKey(t *testing.T) {
	c, err := New("http://127.0.0.1:1", nil)
	require.NoError(t, err)
	_, err = c.Status(context.Background())
	assert.ErrorContains(t, err, "no signing key")
}

func TestServerErrorIsNotNotVerified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(srv.URL, newPrivateKey(t))
	require.NoError(t, err)
	_, err = c.IsHostVerified(context.Background())
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Contains(t, err.Error(), "down for maintenance")
}

func TestTimeoutFollowsPollInterval(t *testing.T) {
	c, err := New("http://yeet.test", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)

	c, err = New("http://yeet.test", nil, WithTimeout(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, c.http.Timeout)

	c, err = New("http://yeet.test", nil, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
}

func TestIsHostVerifiedClassifiesRejections(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		message      string
		wantVerified bool
		wantErr      bool
	}{
		{"no host", http.StatusNotFound, registry.ErrHostNotFound.Error(), false, false},
		{"unknown key", http.StatusUnauthorized, httpsig.ErrUnknownKeyID.Error(), false, false},
		{"clock skew", http.StatusUnauthorized, httpsig.ErrSignatureExpired.Error(), false, true},
		{"bad signature", http.StatusUnauthorized, httpsig.ErrInvalidSignature.Error(), false, true},
		{"malformed signature", http.StatusBadRequest, httpsig.ErrMalformedSignature.Error(), false, true},
		{"verified", http.StatusOK, "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				if tt.message != "" {
					_ = json.NewEncoder(w).Encode(map[string]string{"error": tt.message})
				}
			}))
			defer srv.Close()

			c, err := New(srv.URL, newPrivateKey(t))
			require.NoError(t, err)
			verified, err := c.IsHostVerified(context.Background())
			assert.Equal(t, tt.wantVerified, verified)
			if tt.wantErr {
				assert.True(t, IsStatus(err, tt.status))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
