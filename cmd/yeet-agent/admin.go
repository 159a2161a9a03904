package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/nix"
)

func createApproveCmd() *cobra.Command {
	var (
		code         uint32
		hostName     string
		facterOutput string
	)
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Accept a host's verification code and bind its key to a host name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			artifacts, err := c.AcceptVerification(cmd.Context(), code, hostName)
			if err != nil {
				return err
			}
			fmt.Printf("Host %s verified\n", hostName)

			if facterOutput == "" {
				return nil
			}
			if artifacts.NixosFacter == nil {
				fmt.Println("The host did not send a nixos-facter report")
				return nil
			}
			if err := os.WriteFile(facterOutput, []byte(*artifacts.NixosFacter), 0o644); err != nil {
				return fmt.Errorf("failed to write facter report: %w", err)
			}
			fmt.Printf("Wrote nixos-facter report to %s\n", facterOutput)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&code, "code", 0, "Verification code shown by the host")
	cmd.Flags().StringVar(&hostName, "host", "", "Name of the pre-registered host")
	cmd.Flags().StringVar(&facterOutput, "facter-output", "", "Write the host's nixos-facter report to this file")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func createPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List verification attempts waiting for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			attempts, err := c.PendingAttempts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(attempts)
		},
	}
}

type versionFlags struct {
	substitutor string
	publicKey   string
	netrcFile   string
}

func (f *versionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.substitutor, "substitutor", "", "Binary cache the hosts fetch from")
	cmd.Flags().StringVar(&f.publicKey, "public-key", "", "Public key of the binary cache")
	cmd.Flags().StringVar(&f.netrcFile, "netrc-file", "", "netrc file with credentials for the binary cache")
}

func (f *versionFlags) netrc() (string, error) {
	if f.netrcFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(f.netrcFile)
	if err != nil {
		return "", fmt.Errorf("failed to read netrc file: %w", err)
	}
	return string(data), nil
}

func createRegisterCmd() *cobra.Command {
	var (
		storePath string
		version   versionFlags
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Pre-register a host name so a verification code can be accepted for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := hosts.NotSetState()
			if storePath != "" {
				if version.substitutor == "" || version.publicKey == "" {
					return errors.New("--substitutor and --public-key are required with --store-path")
				}
				netrc, err := version.netrc()
				if err != nil {
					return err
				}
				state = hosts.ProvisionedTo(hosts.RemoteVersion{
					StorePath:   storePath,
					Substitutor: version.substitutor,
					PublicKey:   version.publicKey,
					Netrc:       netrc,
				})
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.RegisterHost(cmd.Context(), args[0], state); err != nil {
				return err
			}
			fmt.Printf("Host %s registered (%s)\n", args[0], state.Kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store-path", "", "Initial target store path")
	version.register(cmd)
	return cmd
}

func createPublishCmd() *cobra.Command {
	var (
		paths     []string
		flake     string
		hostNames []string
		darwin    bool
		version   versionFlags
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Set new target versions for hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseAssignments(paths)
			if err != nil {
				return err
			}
			if flake != "" {
				if len(hostNames) == 0 {
					return errors.New("--host is required with --flake")
				}
				built, err := nix.BuildHosts(cmd.Context(), nix.ExecRunner{}, flake, hostNames, darwin)
				if err != nil {
					return err
				}
				for name, path := range built {
					targets[name] = path
				}
			}
			if len(targets) == 0 {
				return errors.New("nothing to publish: use --path or --flake")
			}
			netrc, err := version.netrc()
			if err != nil {
				return err
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			err = c.UpdateHosts(cmd.Context(), dto.HostUpdateRequest{
				Hosts:       targets,
				PublicKey:   version.publicKey,
				Substitutor: version.substitutor,
				Netrc:       netrc,
			})
			if err != nil {
				return err
			}
			for name, path := range targets {
				fmt.Printf("%s -> %s\n", name, path)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&paths, "path", nil, "host=store-path assignment, repeatable")
	cmd.Flags().StringVar(&flake, "flake", "", "Build the hosts' systems from this flake")
	cmd.Flags().StringSliceVar(&hostNames, "host", nil, "Host to build from the flake, repeatable")
	cmd.Flags().BoolVar(&darwin, "darwin", false, "Build darwinConfigurations instead of nixosConfigurations")
	version.register(cmd)
	_ = cmd.MarkFlagRequired("substitutor")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func parseAssignments(values []string) (map[string]string, error) {
	result := make(map[string]string, len(values))
	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected host=value", v)
		}
		result[name] = path
	}
	return result, nil
}

func createHostsCmd() *cobra.Command {
	var (
		asJSON bool
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Show all hosts known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			list, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(list)
			}
			return printHosts(list, full)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&full, "full", false, "Print full store paths")
	return cmd
}

func createKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage admin and build credentials",
	}

	var level string
	add := &cobra.Command{
		Use:   "add <public-key>",
		Short: "Grant a key admin or build rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			lvl, err := keys.ParseLevel(level)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.AddKey(cmd.Context(), key, lvl); err != nil {
				return err
			}
			fmt.Printf("Added %s key %s\n", lvl, key.KeyID())
			return nil
		},
	}
	add.Flags().StringVar(&level, "level", string(keys.LevelBuild), "admin or build")

	remove := &cobra.Command{
		Use:   "remove <public-key>",
		Short: "Revoke a key and unbind any host using it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.RemoveKey(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Printf("Removed key %s\n", key.KeyID())
			return nil
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func createHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Rename or remove hosts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "rename <old-name> <new-name>",
			Short: "Rename an existing host",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				if err := c.RenameHost(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Renamed %s to %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a host and unbind its key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				removed, err := c.RemoveHost(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Removed %s (%s)\n", removed.Name, removed.ProvisionState.Kind)
				return nil
			},
		},
	)
	return cmd
}

func createDetachPermissionCmd() *cobra.Command {
	var (
		global  string
		perHost []string
	)
	cmd := &cobra.Command{
		Use:   "detach-permission",
		Short: "Show or change which hosts may detach themselves",
		Long: `Without flags the global default is printed.
--global sets the default, --host name=true|false overrides it for single hosts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if global != "" && len(perHost) > 0 {
				return errors.New("--global and --host are mutually exclusive")
			}
			c, err := newClient()
			if err != nil {
				return err
			}

			switch {
			case global != "":
				allowed, err := strconv.ParseBool(global)
				if err != nil {
					return fmt.Errorf("--global: %w", err)
				}
				return c.SetDetachPermission(cmd.Context(), dto.SetDetachPermission{Global: &allowed})
			case len(perHost) > 0:
				assignments, err := parseAssignments(perHost)
				if err != nil {
					return err
				}
				overrides := make(map[string]bool, len(assignments))
				for name, v := range assignments {
					allowed, err := strconv.ParseBool(v)
					if err != nil {
						return fmt.Errorf("--host %s: %w", name, err)
					}
					overrides[name] = allowed
				}
				return c.SetDetachPermission(cmd.Context(), dto.SetDetachPermission{PerHost: overrides})
			default:
				allowed, err := c.GlobalDetachPermission(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Hosts may detach by default: %t\n", allowed)
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&global, "global", "", "Set the default for all hosts (true or false)")
	cmd.Flags().StringSliceVar(&perHost, "host", nil, "name=true|false override, repeatable")
	return cmd
}
