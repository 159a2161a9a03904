package hosts

import (
	"time"

	"github.com/yeetme/yeet/internal/keys"
)

// RemoteVersion is a deployable store path together with the substitutor it
// can be fetched from.
type RemoteVersion struct {
	StorePath   string `json:"store_path"`
	Substitutor string `json:"substitutor"`
	PublicKey   string `json:"public_key"`
	Netrc       string `json:"netrc,omitempty"`
}

type VersionEntry struct {
	StorePath string    `json:"store_path"`
	Timestamp time.Time `json:"timestamp"`
}

type Host struct {
	Name           string         `json:"name"`
	Key            keys.PublicKey `json:"key"`
	LastPing       *time.Time     `json:"last_ping,omitempty"`
	ProvisionState ProvisionState `json:"provision_state"`
	VersionHistory []VersionEntry `json:"version_history"`
	DetachedFrom   *RemoteVersion `json:"detached_from,omitempty"`
}

// LatestStorePath returns the most recently recorded store path, or an empty
// string for a host without history.
func (h *Host) LatestStorePath() string {
	if len(h.VersionHistory) == 0 {
		return ""
	}
	return h.VersionHistory[len(h.VersionHistory)-1].StorePath
}

// RecordVersion appends storePath to the history unless it already is the
// latest entry. It reports whether the history grew.
func (h *Host) RecordVersion(storePath string, now time.Time) bool {
	if len(h.VersionHistory) > 0 && h.LatestStorePath() == storePath {
		return false
	}
	h.VersionHistory = append(h.VersionHistory, VersionEntry{StorePath: storePath, Timestamp: now})
	return true
}

func (h *Host) Ping(now time.Time) {
	t := now
	h.LastPing = &t
}

// PushUpdate sets a new target. Detached hosts ignore pushed targets until
// they are attached again. It reports whether the target was applied.
func (h *Host) PushUpdate(version RemoteVersion) bool {
	switch h.ProvisionState.Kind {
	case NotSet, Provisioned:
		h.ProvisionState = ProvisionedTo(version)
		return true
	case Detached:
		return false
	default:
		return false
	}
}

// Detach moves the host to the detached state, remembering the current target.
func (h *Host) Detach() {
	if h.ProvisionState.Kind == Detached {
		return
	}
	if h.ProvisionState.Kind == Provisioned && h.ProvisionState.Version != nil {
		v := *h.ProvisionState.Version
		h.DetachedFrom = &v
	}
	h.ProvisionState = DetachedState()
}

// Attach leaves the detached state, restoring the target remembered at detach.
func (h *Host) Attach() {
	if h.ProvisionState.Kind != Detached {
		return
	}
	if h.DetachedFrom != nil {
		h.ProvisionState = ProvisionedTo(*h.DetachedFrom)
		h.DetachedFrom = nil
		return
	}
	h.ProvisionState = NotSetState()
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (h *Host) Clone() Host {
	c := *h
	if h.LastPing != nil {
		t := *h.LastPing
		c.LastPing = &t
	}
	if h.ProvisionState.Version != nil {
		v := *h.ProvisionState.Version
		c.ProvisionState.Version = &v
	}
	if h.DetachedFrom != nil {
		v := *h.DetachedFrom
		c.DetachedFrom = &v
	}
	c.VersionHistory = append([]VersionEntry(nil), h.VersionHistory...)
	return c
}
