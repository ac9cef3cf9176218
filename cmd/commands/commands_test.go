package commands

import (
	cfg "daomonitor/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmos "github.com/tendermint/tendermint/libs/os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitFiles(t *testing.T) {
	conf := cfg.TestConfig().SetRoot(t.TempDir())

	require.NoError(t, initFilesWithConfig(conf))
	assert.True(t, tmos.FileExists(conf.NodeKeyFile()))
	assert.True(t, tmos.FileExists(filepath.Join(conf.RootDir, cfg.DefaultConfigDir, cfg.DefaultConfigFileName)))
	assert.Equal(t, filepath.Join(conf.RootDir, cfg.DefaultConfigDir, cfg.DefaultConfigFileName), conf.ConfigFile())

	// 再次执行不会覆盖node key
	require.NoError(t, initFilesWithConfig(conf))
}

func TestParseConfig(t *testing.T) {
	defer viper.Reset()
	root := t.TempDir()

	viper.Set("home", root)
	viper.Set("monitor", map[string]interface{}{
		"poll_interval": "5s",
		"seed_nodes":    []string{},
	})

	conf, err := ParseConfig()
	require.NoError(t, err)
	assert.Equal(t, root, conf.RootDir)
	assert.Equal(t, 5*time.Second, conf.Monitor.PollInterval)
	assert.Equal(t, cfg.DefaultMonitorConfig().RequestTimeout, conf.Monitor.RequestTimeout)
	assert.Equal(t, filepath.Join(root, "data", cfg.DefaultMonitorDirName), conf.MonitorDBDir())
}

func TestParseConfig_Invalid(t *testing.T) {
	defer viper.Reset()

	viper.Set("home", t.TempDir())
	viper.Set("monitor", map[string]interface{}{
		"request_timeout": "0s",
	})

	_, err := ParseConfig()
	assert.Error(t, err)
}
