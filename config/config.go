package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	ProverAddress  string   `toml:"prover_address"`
	MetricsAddress string   `toml:"metrics_address"`
	CORSOrigins    []string `toml:"cors_origins"`
}

type QueueConfig struct {
	RedisURL string `toml:"redis_url"`
	Workers  int    `toml:"workers"`
}

type DownloadConfig struct {
	Auto       bool   `toml:"auto"`
	BaseURL    string `toml:"base_url"`
	MaxRetries int    `toml:"max_retries"`
}

// Config is the prover service configuration file.
type Config struct {
	KeysDir     string         `toml:"keys_dir"`
	Depths      []uint32       `toml:"depths"`
	Preload     bool           `toml:"preload"`
	LogLevel    string         `toml:"log_level"`
	JSONLogs    bool           `toml:"json_logs"`
	AirdropFile string         `toml:"airdrop_configuration"`
	Server      ServerConfig   `toml:"server"`
	Queue       QueueConfig    `toml:"queue"`
	Download    DownloadConfig `toml:"download"`
}

func Default() Config {
	return Config{
		KeysDir:  "./proving-keys/",
		Depths:   []uint32{32},
		LogLevel: "info",
		Server: ServerConfig{
			ProverAddress:  "0.0.0.0:3001",
			MetricsAddress: "0.0.0.0:9998",
			CORSOrigins:    []string{"*"},
		},
		Queue: QueueConfig{
			Workers: 1,
		},
		Download: DownloadConfig{
			MaxRetries: 10,
		},
	}
}

// ReadConfig overlays the file on the defaults.
func ReadConfig(file string) (Config, error) {
	cfg := Default()
	configFileData, err := os.ReadFile(file)
	if err != nil {
		return cfg, err
	}
	if err := Parse(configFileData, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", file, err)
	}
	return cfg, nil
}

func Parse(data []byte, cfg *Config) error {
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	return nil
}
