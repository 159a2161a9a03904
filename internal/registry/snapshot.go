package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

// snapshotVersion is bumped whenever the persisted layout changes.
const snapshotVersion = 1

// Snapshot is the persisted form of the registry. Its JSON encoding is
// deterministic: map keys are sorted by encoding/json and key sets are
// stored as sorted slices.
type Snapshot struct {
	Version       int                             `json:"version"`
	Hosts         map[string]hosts.Host           `json:"hosts"`
	AdminKeys     []keys.PublicKey                `json:"admin_keys"`
	BuildKeys     []keys.PublicKey                `json:"build_keys"`
	PreRegistered map[string]hosts.ProvisionState `json:"pre_registered"`
	Attempts      map[uint32]pendingAttempt       `json:"verification_attempts"`
	DetachGlobal  bool                            `json:"detach_global"`
	DetachPerHost map[string]bool                 `json:"detach_per_host"`
}

// Snapshot serializes the registry under the read lock.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	s := Snapshot{
		Version:       snapshotVersion,
		Hosts:         make(map[string]hosts.Host, len(r.hosts)),
		AdminKeys:     sortedKeys(r.admins),
		BuildKeys:     sortedKeys(r.builders),
		PreRegistered: make(map[string]hosts.ProvisionState, len(r.preRegistered)),
		Attempts:      make(map[uint32]pendingAttempt, len(r.attempts)),
		DetachGlobal:  r.detachGlobal,
		DetachPerHost: make(map[string]bool, len(r.detachPerHost)),
	}
	for name, h := range r.hosts {
		s.Hosts[name] = h.Clone()
	}
	for name, state := range r.preRegistered {
		s.PreRegistered[name] = state
	}
	for code, a := range r.attempts {
		s.Attempts[code] = *a
	}
	for name, allowed := range r.detachPerHost {
		s.DetachPerHost[name] = allowed
	}
	r.mu.RUnlock()

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the registry contents with a snapshot produced by
// Snapshot. Derived indexes are rebuilt from the hosts and key sets.
func (r *Registry) Restore(data []byte) error {
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return fmt.Errorf("failed to decode registry snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported registry snapshot version %d", s.Version)
	}

	for name, h := range s.Hosts {
		if h.Name != name {
			return fmt.Errorf("snapshot host %q is stored under %q", h.Name, name)
		}
		if len(h.VersionHistory) == 0 {
			return fmt.Errorf("snapshot host %q has no version history", name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.hosts = make(map[string]*hosts.Host, len(s.Hosts))
	r.hostByKey = make(map[keys.PublicKey]string, len(s.Hosts))
	r.keyIDs = make(map[string]keys.PublicKey)
	r.admins = make(map[keys.PublicKey]struct{}, len(s.AdminKeys))
	r.builders = make(map[keys.PublicKey]struct{}, len(s.BuildKeys))
	r.preRegistered = make(map[string]hosts.ProvisionState, len(s.PreRegistered))
	r.attempts = make(map[uint32]*pendingAttempt, len(s.Attempts))
	r.detachPerHost = make(map[string]bool, len(s.DetachPerHost))
	r.detachGlobal = s.DetachGlobal

	for name, h := range s.Hosts {
		host := h
		r.hosts[name] = &host
		r.hostByKey[h.Key] = name
		r.keyIDs[h.Key.KeyID()] = h.Key
	}
	for _, k := range s.BuildKeys {
		r.grant(k, keys.LevelBuild)
	}
	for _, k := range s.AdminKeys {
		r.grant(k, keys.LevelAdmin)
	}
	for name, state := range s.PreRegistered {
		r.preRegistered[name] = state
	}
	for code, a := range s.Attempts {
		attempt := a
		r.attempts[code] = &attempt
	}
	for name, allowed := range s.DetachPerHost {
		r.detachPerHost[name] = allowed
	}
	return nil
}

func sortedKeys(set map[keys.PublicKey]struct{}) []keys.PublicKey {
	result := make([]keys.PublicKey, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i][:], result[j][:]) < 0
	})
	return result
}
