package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yeetme/yeet/internal/client"
	"github.com/yeetme/yeet/internal/ipc"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/logging"
)

type Config struct {
	Log    logging.Config
	Server ServerConfig
	Agent  AgentConfig
	Ipc    IpcConfig
}

type ServerConfig struct {
	Url string `mapstructure:"url"`
}

type AgentConfig struct {
	KeyFile   string        `mapstructure:"key_file"`
	Interval  time.Duration `mapstructure:"interval"`
	Facter    bool          `mapstructure:"facter"`
	StateFile string        `mapstructure:"state_file"`
}

type IpcConfig struct {
	Socket      string   `mapstructure:"socket"`
	AllowedUids []uint32 `mapstructure:"allowed_uids"`
}

var config Config

func InitConfig() error {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/yeet-agent")
	viper.AddConfigPath("/etc/yeet")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", logging.LevelInfo)
	viper.SetDefault("agent.key_file", "/etc/ssh/ssh_host_ed25519_key")
	viper.SetDefault("agent.interval", "30s")
	viper.SetDefault("agent.state_file", "/var/lib/yeet/agent.yaml")
	viper.SetDefault("ipc.socket", ipc.DefaultSocket)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// Initialize logger with configured log level
	logging.Init(config.Log, os.Stderr)

	// Pretty print config as JSON (only at DEBUG level)
	if config.Log.Debug() {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, "Config loaded:")
			fmt.Fprintln(os.Stderr, string(configJSON))
		}
	}
	return nil
}

// newClient returns a client signing with the configured key.
func newClient() (*client.Client, error) {
	if config.Server.Url == "" {
		return nil, errors.New("server.url is not configured (use --server)")
	}
	key, err := keys.LoadSigningKey(config.Agent.KeyFile)
	if err != nil {
		return nil, err
	}
	return client.New(config.Server.Url, key)
}
