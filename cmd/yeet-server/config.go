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

	"github.com/yeetme/yeet/internal/api/http"
	"github.com/yeetme/yeet/internal/db"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/logging"
)

const (
	STATE_BACKEND_FILE     = "file"
	STATE_BACKEND_POSTGRES = "postgres"
)

type Config struct {
	Log           logging.Config
	Http          http.Config
	State         StateConfig
	Db            db.Config
	AdminKeys     []string      `mapstructure:"admin_keys"`
	BuildKeys     []string      `mapstructure:"build_keys"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/yeet-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", logging.LevelInfo)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("state.backend", STATE_BACKEND_FILE)
	viper.SetDefault("state.path", "/var/lib/yeet/state.json")
	viper.SetDefault("db.schema", "public")
	viper.SetDefault("sweep_interval", "500ms")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Initialize logger with configured log level
	logging.Init(config.Log, os.Stdout)

	// Pretty print config as JSON (only at DEBUG level)
	if config.Log.Debug() {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func parseKeys(values []string) ([]keys.PublicKey, error) {
	parsed := make([]keys.PublicKey, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key, err := keys.ParsePublicKey(v)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: %w", v, err)
		}
		parsed = append(parsed, key)
	}
	return parsed, nil
}
