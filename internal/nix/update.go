package nix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/yeetme/yeet/internal/hosts"
)

const (
	DefaultNixConf       = "/etc/nix/nix.conf"
	DefaultSystemProfile = "/nix/var/nix/profiles/system"
	DefaultTrustedKey    = "cache.nixos.org-1:6NCHdD59X431o0gWypbMrAURkbJ16ZPMQFGspcDShjY="
)

// Updater fetches a store path from its substitutor and activates it as the
// running system.
type Updater struct {
	runner  Runner
	nixConf string
	profile string
	goos    string
	tempDir string
}

func NewUpdater(runner Runner) *Updater {
	return &Updater{
		runner:  runner,
		nixConf: DefaultNixConf,
		profile: DefaultSystemProfile,
		goos:    runtime.GOOS,
	}
}

// Apply realises version.StorePath, points the system profile at it and runs
// the activation script. It does not retry.
func (u *Updater) Apply(ctx context.Context, version hosts.RemoteVersion) error {
	if err := u.fetch(ctx, version); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", version.StorePath, err)
	}
	if err := u.activate(ctx, version.StorePath); err != nil {
		return fmt.Errorf("failed to activate %s: %w", version.StorePath, err)
	}
	slog.Info("System updated", "store_path", version.StorePath)
	return nil
}

// Switch activates a store path that is already present in the local store.
func (u *Updater) Switch(ctx context.Context, storePath string) error {
	if err := u.activate(ctx, storePath); err != nil {
		return fmt.Errorf("failed to activate %s: %w", storePath, err)
	}
	return nil
}

func (u *Updater) fetch(ctx context.Context, version hosts.RemoteVersion) error {
	trusted, err := u.TrustedPublicKeys()
	if err != nil {
		return err
	}
	trusted = mergeKeys(trusted, version.PublicKey)

	args := []string{
		"--realise", version.StorePath,
		"--option", "extra-substituters", version.Substitutor,
		"--option", "trusted-public-keys", strings.Join(trusted, " "),
		"--option", "narinfo-cache-negative-ttl", "0",
	}

	if version.Netrc != "" {
		netrc, err := os.CreateTemp(u.tempDir, "yeet-netrc-*")
		if err != nil {
			return fmt.Errorf("failed to create netrc file: %w", err)
		}
		defer os.Remove(netrc.Name())
		if _, err := netrc.WriteString(version.Netrc); err != nil {
			netrc.Close()
			return fmt.Errorf("failed to write netrc file: %w", err)
		}
		if err := netrc.Close(); err != nil {
			return fmt.Errorf("failed to write netrc file: %w", err)
		}
		args = append(args, "--option", "netrc-file", netrc.Name())
	}

	slog.Info("Downloading system", "store_path", version.StorePath, "substitutor", version.Substitutor)
	_, err = u.runner.Run(ctx, "nix-store", args...)
	return err
}

func (u *Updater) activate(ctx context.Context, storePath string) error {
	slog.Info("Setting system profile", "profile", u.profile, "store_path", storePath)
	if _, err := u.runner.Run(ctx, "nix-env", "--profile", u.profile, "--set", storePath); err != nil {
		return err
	}

	slog.Info("Activating system", "store_path", storePath)
	switch u.goos {
	case "darwin":
		_, err := u.runner.Run(ctx, filepath.Join(storePath, "activate"))
		return err
	default:
		_, err := u.runner.Run(ctx, filepath.Join(storePath, "bin", "switch-to-configuration"), "switch")
		return err
	}
}

// TrustedPublicKeys reads the trusted-public-keys setting from nix.conf,
// falling back to the cache.nixos.org key.
func (u *Updater) TrustedPublicKeys() ([]string, error) {
	f, err := os.Open(u.nixConf)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{DefaultTrustedKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u.nixConf, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || strings.TrimSpace(name) != "trusted-public-keys" {
			continue
		}
		if found := strings.Fields(value); len(found) > 0 {
			return found, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u.nixConf, err)
	}
	return []string{DefaultTrustedKey}, nil
}

// mergeKeys appends extra to keys, drops duplicates and sorts the result.
func mergeKeys(keys []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(keys)+len(extra))
	merged := make([]string, 0, len(keys)+len(extra))
	for _, k := range append(append([]string(nil), keys...), extra...) {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, k)
	}
	sort.Strings(merged)
	return merged
}
