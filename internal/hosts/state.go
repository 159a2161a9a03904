package hosts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ProvisionKind int

const (
	NotSet ProvisionKind = iota
	Detached
	Provisioned
)

func (k ProvisionKind) String() string {
	switch k {
	case NotSet:
		return "NotSet"
	case Detached:
		return "Detached"
	case Provisioned:
		return "Provisioned"
	default:
		return fmt.Sprintf("ProvisionKind(%d)", int(k))
	}
}

// ProvisionState is the server's declared intent for a host. Version is only
// set for the Provisioned kind.
//
// On the wire it is externally tagged: "NotSet", "Detached" or
// {"Provisioned": {...}}.
type ProvisionState struct {
	Kind    ProvisionKind
	Version *RemoteVersion
}

func NotSetState() ProvisionState   { return ProvisionState{Kind: NotSet} }
func DetachedState() ProvisionState { return ProvisionState{Kind: Detached} }

func ProvisionedTo(v RemoteVersion) ProvisionState {
	return ProvisionState{Kind: Provisioned, Version: &v}
}

func (s ProvisionState) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case NotSet, Detached:
		return json.Marshal(s.Kind.String())
	case Provisioned:
		if s.Version == nil {
			return nil, fmt.Errorf("provisioned state without version")
		}
		return json.Marshal(map[string]RemoteVersion{"Provisioned": *s.Version})
	default:
		return nil, fmt.Errorf("unknown provision state %d", int(s.Kind))
	}
}

func (s *ProvisionState) UnmarshalJSON(data []byte) error {
	tag, payload, err := DecodeTagged(data)
	if err != nil {
		return fmt.Errorf("provision state: %w", err)
	}
	switch tag {
	case "NotSet":
		*s = NotSetState()
	case "Detached":
		*s = DetachedState()
	case "Provisioned":
		var v RemoteVersion
		if payload == nil {
			return fmt.Errorf("provision state: Provisioned requires a version")
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("provision state: %w", err)
		}
		*s = ProvisionedTo(v)
	default:
		return fmt.Errorf("provision state: unknown variant %q", tag)
	}
	return nil
}

type ActionKind int

const (
	ActionNothing ActionKind = iota
	ActionDetach
	ActionSwitchTo
)

func (k ActionKind) String() string {
	switch k {
	case ActionNothing:
		return "Nothing"
	case ActionDetach:
		return "Detach"
	case ActionSwitchTo:
		return "SwitchTo"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// AgentAction is what the server tells a polling agent to do. Version is only
// set for SwitchTo.
type AgentAction struct {
	Kind    ActionKind
	Version *RemoteVersion
}

func Nothing() AgentAction { return AgentAction{Kind: ActionNothing} }
func Detach() AgentAction  { return AgentAction{Kind: ActionDetach} }

func SwitchTo(v RemoteVersion) AgentAction {
	return AgentAction{Kind: ActionSwitchTo, Version: &v}
}

func (a AgentAction) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActionNothing, ActionDetach:
		return json.Marshal(a.Kind.String())
	case ActionSwitchTo:
		if a.Version == nil {
			return nil, fmt.Errorf("switch action without version")
		}
		return json.Marshal(map[string]RemoteVersion{"SwitchTo": *a.Version})
	default:
		return nil, fmt.Errorf("unknown agent action %d", int(a.Kind))
	}
}

func (a *AgentAction) UnmarshalJSON(data []byte) error {
	tag, payload, err := DecodeTagged(data)
	if err != nil {
		return fmt.Errorf("agent action: %w", err)
	}
	switch tag {
	case "Nothing":
		*a = Nothing()
	case "Detach":
		*a = Detach()
	case "SwitchTo":
		var v RemoteVersion
		if payload == nil {
			return fmt.Errorf("agent action: SwitchTo requires a version")
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("agent action: %w", err)
		}
		*a = SwitchTo(v)
	default:
		return fmt.Errorf("agent action: unknown variant %q", tag)
	}
	return nil
}

// DecodeTagged splits an externally tagged enum value into its tag and
// optional payload.
func DecodeTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(obj))
	}
	for tag, payload := range obj {
		if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
			payload = nil
		}
		return tag, payload, nil
	}
	return "", nil, fmt.Errorf("empty variant")
}
