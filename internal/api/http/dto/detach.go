package dto

import (
	"encoding/json"
	"fmt"

	"github.com/yeetme/yeet/internal/hosts"
)

type DetachKind int

const (
	DetachSelf DetachKind = iota
	AttachSelf
	DetachHost
	AttachHost
)

func (k DetachKind) String() string {
	switch k {
	case DetachSelf:
		return "DetachSelf"
	case AttachSelf:
		return "AttachSelf"
	case DetachHost:
		return "DetachHost"
	case AttachHost:
		return "AttachHost"
	default:
		return fmt.Sprintf("DetachKind(%d)", int(k))
	}
}

// DetachAction detaches or attaches either the calling host or, for admins,
// a named host. Wire form: "DetachSelf", "AttachSelf",
// {"DetachHost": "<name>"} or {"AttachHost": "<name>"}.
type DetachAction struct {
	Kind DetachKind
	Host string
}

func (a DetachAction) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case DetachSelf, AttachSelf:
		return json.Marshal(a.Kind.String())
	case DetachHost, AttachHost:
		return json.Marshal(map[string]string{a.Kind.String(): a.Host})
	default:
		return nil, fmt.Errorf("unknown detach action %d", int(a.Kind))
	}
}

func (a *DetachAction) UnmarshalJSON(data []byte) error {
	tag, payload, err := hosts.DecodeTagged(data)
	if err != nil {
		return fmt.Errorf("detach action: %w", err)
	}
	switch tag {
	case "DetachSelf":
		*a = DetachAction{Kind: DetachSelf}
	case "AttachSelf":
		*a = DetachAction{Kind: AttachSelf}
	case "DetachHost", "AttachHost":
		if payload == nil {
			return fmt.Errorf("detach action: %s requires a host name", tag)
		}
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			return fmt.Errorf("detach action: %w", err)
		}
		if name == "" {
			return fmt.Errorf("detach action: %s requires a host name", tag)
		}
		kind := DetachHost
		if tag == "AttachHost" {
			kind = AttachHost
		}
		*a = DetachAction{Kind: kind, Host: name}
	default:
		return fmt.Errorf("detach action: unknown variant %q", tag)
	}
	return nil
}

// SetDetachPermission either sets the global default or per-host overrides.
// Wire form: {"Global": true} or {"PerHost": {"<name>": false}}.
type SetDetachPermission struct {
	Global  *bool
	PerHost map[string]bool
}

func (p SetDetachPermission) MarshalJSON() ([]byte, error) {
	if p.Global != nil {
		return json.Marshal(map[string]bool{"Global": *p.Global})
	}
	return json.Marshal(map[string]map[string]bool{"PerHost": p.PerHost})
}

func (p *SetDetachPermission) UnmarshalJSON(data []byte) error {
	tag, payload, err := hosts.DecodeTagged(data)
	if err != nil {
		return fmt.Errorf("detach permission: %w", err)
	}
	if payload == nil {
		return fmt.Errorf("detach permission: %s requires a value", tag)
	}
	switch tag {
	case "Global":
		var allowed bool
		if err := json.Unmarshal(payload, &allowed); err != nil {
			return fmt.Errorf("detach permission: %w", err)
		}
		*p = SetDetachPermission{Global: &allowed}
	case "PerHost":
		var perHost map[string]bool
		if err := json.Unmarshal(payload, &perHost); err != nil {
			return fmt.Errorf("detach permission: %w", err)
		}
		*p = SetDetachPermission{PerHost: perHost}
	default:
		return fmt.Errorf("detach permission: unknown variant %q", tag)
	}
	return nil
}
