package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/curator/pkg/log"
)

// serverConfig is the on-disk shape for `curator serve --config`. Most
// fields have a flag equivalent, and an explicitly set flag wins over the
// file. CoordinatorWaitSeconds and ApplyTimeoutSeconds are file-only, and
// logJson: true in the file enables JSON logs regardless of --log-json.
type serverConfig struct {
	NodeID   string `yaml:"nodeId"`
	BindAddr string `yaml:"bindAddr"`
	GRPCAddr string `yaml:"grpcAddr"`
	HTTPAddr string `yaml:"httpAddr"`
	DataDir  string `yaml:"dataDir"`

	Join string `yaml:"join"`

	CoordinatorWaitSeconds int `yaml:"coordinatorWaitSeconds"`
	ApplyTimeoutSeconds    int `yaml:"applyTimeoutSeconds"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
}

func loadServerConfig(path string) (*serverConfig, error) {
	cfg := &serverConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *serverConfig) coordinatorWait() time.Duration {
	if c.CoordinatorWaitSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CoordinatorWaitSeconds) * time.Second
}

func (c *serverConfig) applyTimeout() time.Duration {
	if c.ApplyTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ApplyTimeoutSeconds) * time.Second
}

func initLogging(levelStr string, jsonOutput bool) {
	level := log.InfoLevel
	switch levelStr {
	case "debug":
		level = log.DebugLevel
	case "warn":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: jsonOutput})
}
