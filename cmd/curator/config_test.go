package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_MissingPathReturnsZeroValue(t *testing.T) {
	cfg, err := loadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.NodeID)
}

func TestLoadServerConfig_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodeId: node-a\nbindAddr: 127.0.0.1:9300\ncoordinatorWaitSeconds: 10\n"), 0644))

	cfg, err := loadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:9300", cfg.BindAddr)
	assert.Equal(t, 10*time.Second, cfg.coordinatorWait())
}

func TestServerConfig_DefaultsWhenUnset(t *testing.T) {
	cfg := &serverConfig{}
	assert.Equal(t, 30*time.Second, cfg.coordinatorWait())
	assert.Equal(t, 5*time.Second, cfg.applyTimeout())
}

func TestFlagOrConfig_FlagChangedWins(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("node-id", "", "")
	require.NoError(t, cmd.Flags().Set("node-id", "from-flag"))
	assert.Equal(t, "from-flag", flagOrConfig(cmd, "node-id", "from-config"))
}

func TestFlagOrConfig_ConfigWinsOverDefaultWhenFlagUnset(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("bind-addr", "default-addr", "")
	assert.Equal(t, "from-config", flagOrConfig(cmd, "bind-addr", "from-config"))
}

func TestFlagOrConfig_DefaultWhenNeitherSet(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("bind-addr", "default-addr", "")
	assert.Equal(t, "default-addr", flagOrConfig(cmd, "bind-addr", ""))
}
