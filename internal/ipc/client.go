package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/yeetme/yeet/internal/agent"
)

// ErrPermissionDenied is returned when the agent refused a privileged call.
var ErrPermissionDenied = errors.New("permission denied")

type Client struct {
	http *http.Client
}

func NewClient(socket string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}
	return &Client{http: &http.Client{Transport: transport}}
}

func (c *Client) Status(ctx context.Context) (agent.Status, error) {
	var status agent.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &status)
	return status, err
}

func (c *Client) Config(ctx context.Context) (agent.Config, error) {
	var cfg agent.Config
	err := c.do(ctx, http.MethodGet, "/config", nil, &cfg)
	return cfg, err
}

func (c *Client) Detach(ctx context.Context, version string, force bool) error {
	return c.do(ctx, http.MethodPost, "/detach", DetachRequest{Version: version, Force: force}, nil)
}

func (c *Client) Attach(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/attach", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://agent"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent is not reachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var msg struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &msg)
		if resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg.Error)
		}
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, msg.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
