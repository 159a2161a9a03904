// Package ipc exposes the running agent to local tools over a unix socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/agent"
)

const DefaultSocket = "/run/yeet/agent.sock"

type Daemon interface {
	Status() agent.Status
	Config() agent.Config
	Detach(ctx context.Context, version string, force bool) error
	Attach(ctx context.Context) error
}

type DetachRequest struct {
	Version string `json:"version,omitempty"`
	Force   bool   `json:"force"`
}

type connKey struct{}

type Server struct {
	socket  string
	allowed map[uint32]struct{}
	daemon  Daemon
}

// NewServer serves daemon on socket. Root and allowedUIDs may detach and
// attach; anyone who can reach the socket may read status and config.
func NewServer(socket string, allowedUIDs []uint32, daemon Daemon) *Server {
	allowed := make(map[uint32]struct{}, len(allowedUIDs))
	for _, uid := range allowedUIDs {
		allowed[uid] = struct{}{}
	}
	return &Server{socket: socket, allowed: allowed, daemon: daemon}
}

func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.daemon.Status())
	})
	engine.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.daemon.Config())
	})

	privileged := engine.Group("/", s.requirePrivilege)
	privileged.POST("/detach", s.detach)
	privileged.POST("/attach", s.attach)
	return engine
}

// Serve listens on the socket until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socket, err)
	}
	if err := os.Chmod(s.socket, 0o666); err != nil {
		listener.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connKey{}, c)
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("IPC server forced to shutdown", "error", err)
		}
	}()

	slog.Info("IPC server listening", "socket", s.socket)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requirePrivilege(c *gin.Context) {
	conn, ok := c.Request.Context().Value(connKey{}).(*net.UnixConn)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unable to determine peer credentials"})
		return
	}
	uid, err := peerUID(conn)
	if err != nil {
		slog.Warn("Failed to read peer credentials", "error", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unable to determine peer credentials"})
		return
	}
	if !s.permits(uid) {
		slog.Warn("Rejected unprivileged IPC caller", "uid", uid, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "root or an allowed user is required"})
		return
	}
	c.Next()
}

func (s *Server) permits(uid uint32) bool {
	if uid == 0 {
		return true
	}
	_, ok := s.allowed[uid]
	return ok
}

func (s *Server) detach(c *gin.Context) {
	var req DetachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.daemon.Detach(c.Request.Context(), req.Version, req.Force); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) attach(c *gin.Context) {
	if err := s.daemon.Attach(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, agent.ErrDetachNotPermitted) {
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
