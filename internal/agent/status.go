package agent

import "time"

type Mode string

const (
	ModeStarting     Mode = "Starting"
	ModeUnverified   Mode = "Unverified"
	ModeProvisioned  Mode = "Provisioned"
	ModeDetached     Mode = "Detached"
	ModeNetworkError Mode = "NetworkError"
)

type UpToDate string

const (
	UpToDateUnknown  UpToDate = "Unknown"
	UpToDateYes      UpToDate = "Yes"
	UpToDateNo       UpToDate = "No"
	UpToDateDetached UpToDate = "Detached"
)

// Status is what the agent reports over the local socket.
type Status struct {
	Mode        Mode      `json:"mode"`
	UpToDate    UpToDate  `json:"up_to_date"`
	Server      string    `json:"server"`
	Version     string    `json:"version,omitempty"`
	PendingCode uint32    `json:"pending_code,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastCheck   time.Time `json:"last_check,omitzero"`
}
