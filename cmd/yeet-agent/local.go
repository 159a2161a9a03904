package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yeetme/yeet/internal/ipc"
	"github.com/yeetme/yeet/internal/nix"
)

func createStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local agent's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ipc.NewClient(config.Ipc.Socket).Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(status)
			}
			fmt.Printf("Mode:       %s\n", status.Mode)
			fmt.Printf("Up to date: %s\n", status.UpToDate)
			fmt.Printf("Server:     %s\n", status.Server)
			if status.Version != "" {
				fmt.Printf("Version:    %s\n", status.Version)
			}
			if status.PendingCode != 0 {
				fmt.Printf("Code:       %d (waiting for approval)\n", status.PendingCode)
			}
			if !status.LastCheck.IsZero() {
				fmt.Printf("Last check: %s\n", status.LastCheck.Local().Format("2006-01-02 15:04:05"))
			}
			if status.LastError != "" {
				fmt.Printf("Last error: %s\n", status.LastError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func createDetachCmd() *cobra.Command {
	var (
		version string
		flake   string
		darwin  bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Detach this system from the server",
		Long: `Detach this system so the server stops pushing versions to it.

--force skips the server and its permission check. Use it only when the
server is unreachable: once the agent reaches the server again it switches
back to the server's version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" && flake != "" {
				hostname, err := os.Hostname()
				if err != nil {
					return err
				}
				built, err := nix.BuildHosts(cmd.Context(), nix.ExecRunner{}, flake, []string{hostname}, darwin)
				if err != nil {
					return err
				}
				version = built[hostname]
			}

			err := ipc.NewClient(config.Ipc.Socket).Detach(cmd.Context(), version, force)
			if errors.Is(err, ipc.ErrPermissionDenied) && !force {
				return fmt.Errorf("%w\nuse --force to detach without the server's permission", err)
			}
			if err != nil {
				return err
			}
			fmt.Println("Detached successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Store path to switch to after detaching")
	cmd.Flags().StringVar(&flake, "flake", "", "Build this host's system from the flake and switch to it")
	cmd.Flags().BoolVar(&darwin, "darwin", false, "Build darwinConfigurations instead of nixosConfigurations")
	cmd.Flags().BoolVar(&force, "force", false, "Detach without telling the server")
	return cmd
}

func createAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Hand this system back to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.NewClient(config.Ipc.Socket).Attach(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Attached; the server's version is applied on the next poll")
			return nil
		},
	}
}
