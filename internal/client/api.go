package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/httpsig"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
)

// IsHostVerified reports whether the client's key belongs to a verified host.
// Only an unknown key or a missing host mean "not verified". Rejected
// signatures (clock skew, malformed headers) and every other failure are
// returned so the agent does not mistake them for a lost admission.
func (c *Client) IsHostVerified(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/system/verify", true, nil, nil)
	if err == nil {
		return true, nil
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false, err
	}
	switch {
	case se.StatusCode == http.StatusNotFound:
		return false, nil
	case se.StatusCode == http.StatusUnauthorized && se.Message == httpsig.ErrUnknownKeyID.Error():
		return false, nil
	}
	return false, err
}

// AddVerificationAttempt is unsigned: the key is not known to the server yet.
func (c *Client) AddVerificationAttempt(ctx context.Context, attempt dto.VerificationAttempt) (uint32, error) {
	var code uint32
	err := c.do(ctx, http.MethodPost, "/system/verify", false, attempt, &code)
	return code, err
}

func (c *Client) AcceptVerification(ctx context.Context, code uint32, hostName string) (dto.VerificationArtifacts, error) {
	var artifacts dto.VerificationArtifacts
	err := c.do(ctx, http.MethodPost, "/system/verify/accept", true,
		dto.VerificationAcceptance{Code: code, HostName: hostName}, &artifacts)
	return artifacts, err
}

func (c *Client) PendingAttempts(ctx context.Context) ([]registry.PendingAttempt, error) {
	var attempts []registry.PendingAttempt
	err := c.do(ctx, http.MethodGet, "/system/verify/pending", true, nil, &attempts)
	return attempts, err
}

func (c *Client) SystemCheck(ctx context.Context, storePath string) (hosts.AgentAction, error) {
	var action hosts.AgentAction
	err := c.do(ctx, http.MethodPost, "/system/check", true, dto.VersionRequest{StorePath: storePath}, &action)
	return action, err
}

func (c *Client) RegisterHost(ctx context.Context, name string, state hosts.ProvisionState) error {
	return c.do(ctx, http.MethodPost, "/system/register", true, dto.RegisterHost{Name: name, ProvisionState: state}, nil)
}

func (c *Client) UpdateHosts(ctx context.Context, req dto.HostUpdateRequest) error {
	return c.do(ctx, http.MethodPost, "/system/update", true, req, nil)
}

func (c *Client) Detach(ctx context.Context, action dto.DetachAction) error {
	return c.do(ctx, http.MethodPost, "/system/detach", true, action, nil)
}

func (c *Client) IsDetachAllowed(ctx context.Context) (bool, error) {
	var allowed bool
	err := c.do(ctx, http.MethodGet, "/system/detach/permission", true, nil, &allowed)
	return allowed, err
}

func (c *Client) GlobalDetachPermission(ctx context.Context) (bool, error) {
	var allowed bool
	err := c.do(ctx, http.MethodGet, "/system/detach/permission/global", true, nil, &allowed)
	return allowed, err
}

func (c *Client) SetDetachPermission(ctx context.Context, perm dto.SetDetachPermission) error {
	return c.do(ctx, http.MethodPost, "/system/detach/permission", true, perm, nil)
}

func (c *Client) AddKey(ctx context.Context, key keys.PublicKey, level keys.Level) error {
	return c.do(ctx, http.MethodPost, "/key/add", true, dto.AddKey{Key: key, Level: level}, nil)
}

func (c *Client) RemoveKey(ctx context.Context, key keys.PublicKey) error {
	return c.do(ctx, http.MethodPost, "/key/remove", true, key, nil)
}

func (c *Client) RemoveHost(ctx context.Context, name string) (hosts.Host, error) {
	var removed hosts.Host
	err := c.do(ctx, http.MethodPost, "/host/remove", true, dto.HostRemoveRequest{Hostname: name}, &removed)
	return removed, err
}

func (c *Client) RenameHost(ctx context.Context, oldName, newName string) error {
	return c.do(ctx, http.MethodPost, "/host/rename", true, dto.HostRenameRequest{OldName: oldName, NewName: newName}, nil)
}

func (c *Client) Status(ctx context.Context) ([]hosts.Host, error) {
	var all []hosts.Host
	err := c.do(ctx, http.MethodGet, "/status", true, nil, &all)
	return all, err
}
