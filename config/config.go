package config

import (
	"daomonitor/types"
	"encoding/hex"
	"errors"
	"fmt"
	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/p2p"
	"path/filepath"
	"time"
)

const (
	DefaultMonitorDirName = "monitor"
	DefaultDBName         = "statehash"

	// 和tendermint的默认布局一致，node_key.json也在这个目录下
	DefaultConfigDir      = "config"
	DefaultConfigFileName = "config.toml"
)

// Config 在tendermint的配置(base/p2p/rpc)之外增加[monitor]部分
type Config struct {
	*cfg.Config

	Monitor *MonitorConfig
}

func DefaultConfig() *Config {
	return &Config{
		Config:  cfg.DefaultConfig(),
		Monitor: DefaultMonitorConfig(),
	}
}

func TestConfig() *Config {
	return &Config{
		Config:  cfg.TestConfig(),
		Monitor: TestMonitorConfig(),
	}
}

func (c *Config) SetRoot(root string) *Config {
	c.Config.SetRoot(root)
	return c
}

func (c *Config) ValidateBasic() error {
	if err := c.Config.ValidateBasic(); err != nil {
		return err
	}
	if err := c.Monitor.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [monitor] section: %w", err)
	}
	return nil
}

// ConfigFile config.toml的绝对路径
func (c *Config) ConfigFile() string {
	return filepath.Join(c.RootDir, DefaultConfigDir, DefaultConfigFileName)
}

// MonitorDBDir 相对路径基于RootDir
func (c *Config) MonitorDBDir() string {
	if filepath.IsAbs(c.Monitor.DBPath) {
		return c.Monitor.DBPath
	}
	return filepath.Join(c.RootDir, c.Monitor.DBPath)
}

// MonitorConfig 状态hash监控的配置
type MonitorConfig struct {
	// 等待peer回复的时间
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// 定期向所有peer请求hash chain的间隔
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// 本地生成新的StateHash后延迟广播，避免所有节点同时广播
	BroadcastDelayMin time.Duration `mapstructure:"broadcast_delay_min"`
	BroadcastDelayMax time.Duration `mapstructure:"broadcast_delay_max"`

	MaxHashesPerResponse int `mapstructure:"max_hashes_per_response"`

	// 每次请求都从本地tail往前RecheckDepth个高度开始，0表示只请求新的高度
	RecheckDepth int64 `mapstructure:"recheck_depth"`

	GenesisHeight int64 `mapstructure:"genesis_height"`

	// 种子节点的p2p ID，仅用于区分冲突来源
	SeedNodes []string `mapstructure:"seed_nodes"`

	// height:hexhash
	Checkpoints []string `mapstructure:"checkpoints"`

	DBBackend string `mapstructure:"db_backend"`
	DBPath    string `mapstructure:"db_dir"`
}

func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		RequestTimeout:       120 * time.Second,
		PollInterval:         60 * time.Second,
		BroadcastDelayMin:    1 * time.Second,
		BroadcastDelayMax:    6 * time.Second,
		MaxHashesPerResponse: 2000,
		RecheckDepth:         10,
		GenesisHeight:        0,
		SeedNodes:            []string{},
		Checkpoints:          []string{},
		DBBackend:            "goleveldb",
		DBPath:               filepath.Join("data", DefaultMonitorDirName),
	}
}

func TestMonitorConfig() *MonitorConfig {
	conf := DefaultMonitorConfig()
	conf.RequestTimeout = 2 * time.Second
	conf.PollInterval = 500 * time.Millisecond
	conf.BroadcastDelayMin = 0
	conf.BroadcastDelayMax = 10 * time.Millisecond
	conf.MaxHashesPerResponse = 100
	conf.DBBackend = "memdb"
	return conf
}

func (mc *MonitorConfig) ValidateBasic() error {
	if mc.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if mc.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if mc.BroadcastDelayMin < 0 || mc.BroadcastDelayMax < mc.BroadcastDelayMin {
		return errors.New("broadcast delay must satisfy 0 <= broadcast_delay_min <= broadcast_delay_max")
	}
	if mc.MaxHashesPerResponse <= 0 {
		return errors.New("max_hashes_per_response must be positive")
	}
	if mc.RecheckDepth < 0 {
		return errors.New("recheck_depth can't be negative")
	}
	switch mc.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unknown db_backend %q, expected goleveldb or memdb", mc.DBBackend)
	}
	if mc.GenesisHeight < 0 {
		return errors.New("genesis_height can't be negative")
	}
	for _, id := range mc.SeedNodes {
		if err := validateID(id); err != nil {
			return fmt.Errorf("invalid seed node %q: %w", id, err)
		}
	}
	if _, err := mc.ParseCheckpoints(); err != nil {
		return err
	}
	return nil
}

// validateID 和p2p.ID的格式一致：20字节的hex
func validateID(id string) error {
	bz, err := hex.DecodeString(id)
	if err != nil {
		return err
	}
	if len(bz) != p2p.IDByteLength {
		return fmt.Errorf("expected %d bytes, got %d", p2p.IDByteLength, len(bz))
	}
	return nil
}

func (mc *MonitorConfig) SeedNodeIDs() []p2p.ID {
	ids := make([]p2p.ID, 0, len(mc.SeedNodes))
	for _, id := range mc.SeedNodes {
		ids = append(ids, p2p.ID(id))
	}
	return ids
}

func (mc *MonitorConfig) ParseCheckpoints() ([]types.Checkpoint, error) {
	res := make([]types.Checkpoint, 0, len(mc.Checkpoints))
	for _, s := range mc.Checkpoints {
		cp, err := types.ParseCheckpoint(s)
		if err != nil {
			return nil, err
		}
		res = append(res, cp)
	}
	return res, nil
}
