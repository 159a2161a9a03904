package dto

import "github.com/yeetme/yeet/internal/hosts"

type VersionRequest struct {
	StorePath string `json:"store_path" binding:"required"`
}

type RegisterHost struct {
	Name           string               `json:"name" binding:"required"`
	ProvisionState hosts.ProvisionState `json:"provision_state"`
}

// HostUpdateRequest maps host names to the store path each should switch to.
// All hosts share one substitutor and signing key.
type HostUpdateRequest struct {
	Hosts       map[string]string `json:"hosts" binding:"required"`
	PublicKey   string            `json:"public_key" binding:"required"`
	Substitutor string            `json:"substitutor" binding:"required"`
	Netrc       string            `json:"netrc,omitempty"`
}
