package registry

import (
	"log/slog"

	"github.com/yeetme/yeet/internal/keys"
)

// KeyByID resolves a signature keyid to a registered key. It satisfies
// httpsig.KeyResolver.
func (r *Registry) KeyByID(keyID string) (keys.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keyIDs[keyID]
	return k, ok
}

func (r *Registry) requireAdmin(key keys.PublicKey) error {
	if _, ok := r.admins[key]; !ok {
		return ErrMissingAdminCredential
	}
	return nil
}

func (r *Registry) requireBuild(key keys.PublicKey) error {
	if _, ok := r.admins[key]; ok {
		return nil
	}
	if _, ok := r.builders[key]; ok {
		return nil
	}
	return ErrMissingBuildCredential
}

// grant must be called with the write lock held.
func (r *Registry) grant(key keys.PublicKey, level keys.Level) {
	switch level {
	case keys.LevelAdmin:
		r.admins[key] = struct{}{}
	case keys.LevelBuild:
		r.builders[key] = struct{}{}
	}
	r.keyIDs[key.KeyID()] = key
}

// Bootstrap grants credentials without an authorization check. It is used at
// start-up for the keys listed in the server configuration.
func (r *Registry) Bootstrap(adminKeys, buildKeys []keys.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range buildKeys {
		r.grant(k, keys.LevelBuild)
	}
	for _, k := range adminKeys {
		r.grant(k, keys.LevelAdmin)
	}
	slog.Info("Bootstrapped credentials", "admin_keys", len(adminKeys), "build_keys", len(buildKeys))
}

// AddKey registers key with the given level. Re-adding a key moves it to the
// new level.
func (r *Registry) AddKey(caller, key keys.PublicKey, level keys.Level) error {
	if _, err := keys.ParseLevel(string(level)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	r.grant(key, level)
	slog.Info("Key added", "key_id", key.KeyID(), "level", level)
	return nil
}

// RemoveKey revokes every credential of key. A host bound to the key is
// removed as well since it can no longer authenticate.
func (r *Registry) RemoveKey(caller, key keys.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}

	delete(r.admins, key)
	delete(r.builders, key)
	delete(r.keyIDs, key.KeyID())
	if name, ok := r.hostByKey[key]; ok {
		r.dropHost(name)
		slog.Info("Host removed with its key", "host", name)
	}
	slog.Info("Key removed", "key_id", key.KeyID())
	return nil
}
