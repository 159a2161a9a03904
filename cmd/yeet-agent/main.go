package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var AppVersion string

func main() {
	rootCmd := &cobra.Command{
		Use:           "yeet-agent",
		Short:         "Pull based NixOS deployments",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return InitConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "", "URL of the yeet server")
	flags.String("key", "", "Ed25519 private key used to sign requests")
	flags.String("log-level", "", "ERROR, WARNING, INFO or DEBUG")
	flags.String("socket", "", "Path of the agent's local socket")
	_ = viper.BindPFlag("server.url", flags.Lookup("server"))
	_ = viper.BindPFlag("agent.key_file", flags.Lookup("key"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("ipc.socket", flags.Lookup("socket"))

	rootCmd.AddCommand(
		createRunCmd(),
		createApproveCmd(),
		createPendingCmd(),
		createRegisterCmd(),
		createPublishCmd(),
		createHostsCmd(),
		createKeyCmd(),
		createHostCmd(),
		createDetachCmd(),
		createAttachCmd(),
		createStatusCmd(),
		createDetachPermissionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
