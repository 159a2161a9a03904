package dto

import "github.com/yeetme/yeet/internal/keys"

type VerificationAttempt struct {
	Key         keys.PublicKey `json:"key" binding:"required"`
	StorePath   string         `json:"store_path" binding:"required"`
	NixosFacter *string        `json:"nixos_facter,omitempty"`
}

type VerificationAcceptance struct {
	Code     uint32 `json:"code" binding:"required"`
	HostName string `json:"host_name" binding:"required"`
}

type VerificationArtifacts struct {
	NixosFacter *string `json:"nixos_facter,omitempty"`
}
