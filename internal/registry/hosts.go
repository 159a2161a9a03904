package registry

import (
	"log/slog"
	"sort"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

// PreRegister declares the provision state a host will start with once a
// verification attempt is accepted under its name. It reports whether a
// previous pre-registration was replaced.
func (r *Registry) PreRegister(caller keys.PublicKey, name string, state hosts.ProvisionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireBuild(caller); err != nil {
		return false, err
	}
	if _, exists := r.hosts[name]; exists {
		return false, ErrHostAlreadyRegistered
	}

	_, replaced := r.preRegistered[name]
	r.preRegistered[name] = state
	slog.Info("Host pre-registered", "host", name, "state", state.Kind, "replaced", replaced)
	return replaced, nil
}

// UpdateHosts sets a new target for every named host. The batch is rejected
// with a *HostsNotFoundError before anything changes if any name is unknown.
// Detached hosts keep their state.
func (r *Registry) UpdateHosts(caller keys.PublicKey, targets map[string]string, publicKey, substitutor, netrc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireBuild(caller); err != nil {
		return err
	}

	var unknown []string
	for name := range targets {
		if _, ok := r.hosts[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &HostsNotFoundError{Names: unknown}
	}

	for name, storePath := range targets {
		applied := r.hosts[name].PushUpdate(hosts.RemoteVersion{
			StorePath:   storePath,
			Substitutor: substitutor,
			PublicKey:   publicKey,
			Netrc:       netrc,
		})
		if applied {
			slog.Info("Host target updated", "host", name, "store_path", storePath)
		} else {
			slog.Info("Host is detached, update ignored", "host", name)
		}
	}
	return nil
}

// RemoveHost deletes a verified host and unbinds its key.
func (r *Registry) RemoveHost(caller keys.PublicKey, name string) (hosts.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return hosts.Host{}, err
	}
	h, ok := r.hosts[name]
	if !ok {
		return hosts.Host{}, ErrHostNotFound
	}
	removed := h.Clone()
	r.dropHost(name)
	slog.Info("Host removed", "host", name)
	return removed, nil
}

// RenameHost moves a host, and its per-host detach override, to a new name.
func (r *Registry) RenameHost(caller keys.PublicKey, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	h, ok := r.hosts[oldName]
	if !ok {
		return ErrHostNotFound
	}
	if oldName == newName {
		return nil
	}
	if _, exists := r.hosts[newName]; exists {
		return ErrHostAlreadyRegistered
	}

	delete(r.hosts, oldName)
	h.Name = newName
	r.hosts[newName] = h
	r.hostByKey[h.Key] = newName
	if allowed, ok := r.detachPerHost[oldName]; ok {
		delete(r.detachPerHost, oldName)
		r.detachPerHost[newName] = allowed
	}
	slog.Info("Host renamed", "old_name", oldName, "new_name", newName)
	return nil
}

// Status returns a copy of every verified host sorted by name.
func (r *Registry) Status(caller keys.PublicKey) ([]hosts.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}

	result := make([]hosts.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		result = append(result, h.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// IsVerified reports whether key is bound to a verified host.
func (r *Registry) IsVerified(key keys.PublicKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hostByKey[key]
	return ok
}

// hostFor must be called with the lock held.
func (r *Registry) hostFor(key keys.PublicKey) (*hosts.Host, error) {
	name, ok := r.hostByKey[key]
	if !ok {
		return nil, ErrHostNotFound
	}
	return r.hosts[name], nil
}

// dropHost must be called with the write lock held.
func (r *Registry) dropHost(name string) {
	h, ok := r.hosts[name]
	if !ok {
		return
	}
	delete(r.hosts, name)
	delete(r.hostByKey, h.Key)
	delete(r.detachPerHost, name)
	if !r.isCredential(h.Key) {
		delete(r.keyIDs, h.Key.KeyID())
	}
}

func (r *Registry) isCredential(key keys.PublicKey) bool {
	_, admin := r.admins[key]
	_, build := r.builders[key]
	return admin || build
}
