package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yeetme/yeet/internal/agent"
	"github.com/yeetme/yeet/internal/client"
	"github.com/yeetme/yeet/internal/ipc"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/nix"
)

func createRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent: get admitted, then keep the system at the server's version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
	cmd.Flags().Duration("interval", 0, "Time between polls")
	cmd.Flags().Bool("facter", false, "Send a nixos-facter report with the verification request")
	_ = viper.BindPFlag("agent.interval", cmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("agent.facter", cmd.Flags().Lookup("facter"))
	return cmd
}

func runAgent(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Yeet Agent", "version", AppVersion)

	signingKey, err := keys.LoadSigningKey(config.Agent.KeyFile)
	if err != nil {
		return err
	}
	if config.Server.Url == "" {
		return errors.New("server.url is not configured (use --server)")
	}
	server, err := client.New(config.Server.Url, signingKey, client.WithTimeout(config.Agent.Interval))
	if err != nil {
		return err
	}

	runner := nix.ExecRunner{}
	a, err := agent.New(agent.Config{
		Server:    config.Server.Url,
		KeyFile:   config.Agent.KeyFile,
		Interval:  config.Agent.Interval,
		Facter:    config.Agent.Facter,
		StateFile: config.Agent.StateFile,
	}, keys.Public(signingKey), server, nix.NewUpdater(runner),
		agent.WithVersionSource(nix.ActiveVersion),
		agent.WithFacts(func(ctx context.Context) (string, error) {
			return nix.Facts(ctx, runner)
		}),
	)
	if err != nil {
		return err
	}

	ipcDone := make(chan struct{})
	go func() {
		defer close(ipcDone)
		if err := ipc.NewServer(config.Ipc.Socket, config.Ipc.AllowedUids, a).Serve(ctx); err != nil {
			slog.Error("IPC server stopped", "error", err)
		}
	}()

	err = a.Run(ctx)
	stop()
	<-ipcDone
	return err
}
