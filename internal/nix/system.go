package nix

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const CurrentSystemLink = "/run/current-system"

// ActiveVersion returns the store path the running system was activated from.
func ActiveVersion() (string, error) {
	return readVersionLink(CurrentSystemLink)
}

func readVersionLink(link string) (string, error) {
	target, err := os.Readlink(link)
	if err != nil {
		return "", fmt.Errorf("current system has no %s: %w", link, err)
	}
	return target, nil
}

// Facts runs nixos-facter and returns its JSON report.
func Facts(ctx context.Context, runner Runner) (string, error) {
	dir, err := os.MkdirTemp("", "yeet-facter-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "facter.json")
	if _, err := runner.Run(ctx, "nixos-facter", "-o", out); err != nil {
		return "", fmt.Errorf("nixos-facter failed: %w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("nixos-facter produced no report: %w", err)
	}
	return string(data), nil
}

// BuildHosts builds the system closure of every host in the flake at
// flakePath and returns host name to store path.
func BuildHosts(ctx context.Context, runner Runner, flakePath string, hostNames []string, darwin bool) (map[string]string, error) {
	closures := make(map[string]string, len(hostNames))
	for _, host := range hostNames {
		attr := fmt.Sprintf("nixosConfigurations.%s.config.system.build.toplevel", host)
		if darwin {
			attr = fmt.Sprintf("darwinConfigurations.%s.system", host)
		}
		stdout, err := runner.Run(ctx, "nix", "build", "--json", "--no-link", "-f", flakePath, attr)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", host, err)
		}

		var builds []struct {
			Outputs map[string]string `json:"outputs"`
		}
		if err := json.Unmarshal(stdout, &builds); err != nil {
			return nil, fmt.Errorf("failed to parse build output for %s: %w", host, err)
		}
		if len(builds) == 0 || strings.TrimSpace(builds[0].Outputs["out"]) == "" {
			return nil, fmt.Errorf("build output for %s did not contain a closure", host)
		}
		closures[host] = builds[0].Outputs["out"]
	}
	return closures, nil
}
