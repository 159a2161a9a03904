package registry

import (
	"log/slog"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

// SystemCheck records the store path a host reports as active and decides
// what the agent should do next.
func (r *Registry) SystemCheck(key keys.PublicKey, storePath string) (hosts.AgentAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, err := r.hostFor(key)
	if err != nil {
		return hosts.AgentAction{}, err
	}
	now := r.now()
	host.Ping(now)

	switch host.ProvisionState.Kind {
	case hosts.NotSet:
		return hosts.Nothing(), nil
	case hosts.Detached:
		if host.RecordVersion(storePath, now) {
			slog.Info("Detached host reported a new version", "host", host.Name, "store_path", storePath)
		}
		return hosts.Detach(), nil
	case hosts.Provisioned:
		if host.RecordVersion(storePath, now) {
			slog.Info("Host reported a new version", "host", host.Name, "store_path", storePath)
		}
		target := *host.ProvisionState.Version
		if target.StorePath == storePath {
			return hosts.Nothing(), nil
		}
		return hosts.SwitchTo(target), nil
	default:
		return hosts.Nothing(), nil
	}
}
