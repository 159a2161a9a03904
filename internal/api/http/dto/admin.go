package dto

import "github.com/yeetme/yeet/internal/keys"

type AddKey struct {
	Key   keys.PublicKey `json:"key" binding:"required"`
	Level keys.Level     `json:"level" binding:"required"`
}

type HostRemoveRequest struct {
	Hostname string `json:"hostname" binding:"required"`
}

type HostRenameRequest struct {
	OldName string `json:"old_name" binding:"required"`
	NewName string `json:"new_name" binding:"required"`
}
