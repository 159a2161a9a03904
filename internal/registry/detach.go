package registry

import (
	"log/slog"
	"sort"

	"github.com/yeetme/yeet/internal/keys"
)

// detachAllowed must be called with the lock held. A per-host override always
// wins over the global default.
func (r *Registry) detachAllowed(name string) bool {
	if allowed, ok := r.detachPerHost[name]; ok {
		return allowed
	}
	return r.detachGlobal
}

// IsDetachAllowed reports whether the host bound to key may detach itself.
func (r *Registry) IsDetachAllowed(key keys.PublicKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, err := r.hostFor(key)
	if err != nil {
		return false, err
	}
	return r.detachAllowed(host.Name), nil
}

func (r *Registry) GlobalDetachPermission(caller keys.PublicKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.requireAdmin(caller); err != nil {
		return false, err
	}
	return r.detachGlobal, nil
}

func (r *Registry) SetGlobalDetachPermission(caller keys.PublicKey, allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	r.detachGlobal = allowed
	slog.Info("Global detach permission changed", "allowed", allowed)
	return nil
}

// SetDetachPermissions sets per-host overrides. Unknown hosts reject the
// whole batch.
func (r *Registry) SetDetachPermissions(caller keys.PublicKey, perHost map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}

	var unknown []string
	for name := range perHost {
		if _, ok := r.hosts[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &HostsNotFoundError{Names: unknown}
	}
	for name, allowed := range perHost {
		r.detachPerHost[name] = allowed
		slog.Info("Host detach permission changed", "host", name, "allowed", allowed)
	}
	return nil
}

// DetachSelf detaches the host bound to key if it is permitted to.
func (r *Registry) DetachSelf(key keys.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, err := r.hostFor(key)
	if err != nil {
		return err
	}
	if !r.detachAllowed(host.Name) {
		return ErrDetachNotAllowed
	}
	host.Detach()
	slog.Info("Host detached itself", "host", host.Name)
	return nil
}

// AttachSelf is always permitted for the host itself.
func (r *Registry) AttachSelf(key keys.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, err := r.hostFor(key)
	if err != nil {
		return err
	}
	host.Attach()
	slog.Info("Host attached itself", "host", host.Name, "state", host.ProvisionState.Kind)
	return nil
}

func (r *Registry) DetachHost(caller keys.PublicKey, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	host, ok := r.hosts[name]
	if !ok {
		return ErrHostNotFound
	}
	host.Detach()
	slog.Info("Host detached", "host", name)
	return nil
}

func (r *Registry) AttachHost(caller keys.PublicKey, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	host, ok := r.hosts[name]
	if !ok {
		return ErrHostNotFound
	}
	host.Attach()
	slog.Info("Host attached", "host", name, "state", host.ProvisionState.Kind)
	return nil
}
