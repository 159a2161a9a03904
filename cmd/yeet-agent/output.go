package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yeetme/yeet/internal/hosts"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHosts(list []hosts.Host, full bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tTARGET\tCURRENT\tLAST PING")
	for _, h := range list {
		target := "-"
		if h.ProvisionState.Version != nil {
			target = shortPath(h.ProvisionState.Version.StorePath, full)
		}
		current := "-"
		if p := h.LatestStorePath(); p != "" {
			current = shortPath(p, full)
		}
		ping := "never"
		if h.LastPing != nil {
			ping = time.Since(*h.LastPing).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.Name, h.ProvisionState.Kind, target, current, ping)
	}
	return w.Flush()
}

// shortPath trims a store path to its hash prefix unless full is set.
func shortPath(path string, full bool) string {
	if full {
		return path
	}
	base := strings.TrimPrefix(path, "/nix/store/")
	if hash, _, ok := strings.Cut(base, "-"); ok && len(hash) > 8 {
		return hash[:8]
	}
	return base
}
