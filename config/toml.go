package config

import (
	"bytes"
	"fmt"
	"github.com/pkg/errors"
	cfg "github.com/tendermint/tendermint/config"
	tmos "github.com/tendermint/tendermint/libs/os"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var monitorConfigTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("monitorConfigFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
		"QuoteAll":    quoteAll,
	})
	if monitorConfigTemplate, err = tmpl.Parse(monitorTemplate); err != nil {
		panic(err)
	}
}

// WriteConfigFile 先写tendermint的配置，再在末尾追加[monitor]部分
func WriteConfigFile(configFilePath string, config *Config) error {
	cfg.WriteConfigFile(configFilePath, config.Config)

	var buffer bytes.Buffer
	if err := monitorConfigTemplate.Execute(&buffer, config); err != nil {
		return errors.Wrap(err, "render monitor config")
	}

	f, err := os.OpenFile(configFilePath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "open %s", configFilePath)
	}
	defer f.Close()
	if _, err := f.Write(buffer.Bytes()); err != nil {
		return errors.Wrapf(err, "write %s", configFilePath)
	}
	return nil
}

// EnsureRoot 创建root目录以及默认配置文件
func EnsureRoot(rootDir string) error {
	if err := tmos.EnsureDir(rootDir, cfg.DefaultDirPerm); err != nil {
		return err
	}
	conf := DefaultConfig().SetRoot(rootDir)
	if err := tmos.EnsureDir(conf.MonitorDBDir(), cfg.DefaultDirPerm); err != nil {
		return err
	}
	configFilePath := conf.ConfigFile()
	if err := tmos.EnsureDir(filepath.Dir(configFilePath), cfg.DefaultDirPerm); err != nil {
		return err
	}

	if !tmos.FileExists(configFilePath) {
		return WriteConfigFile(configFilePath, conf)
	}
	return nil
}

func quoteAll(ss []string) []string {
	res := make([]string, 0, len(ss))
	for _, s := range ss {
		res = append(res, fmt.Sprintf("%q", s))
	}
	return res
}

const monitorTemplate = `

#######################################################
###       State Hash Monitor Configuration Options  ###
#######################################################
[monitor]

# How long to wait for a peer to answer a hashes request
request_timeout = "{{ .Monitor.RequestTimeout }}"

# How often all connected peers are polled for their hash chains
poll_interval = "{{ .Monitor.PollInterval }}"

# Random delay before broadcasting a newly created local state hash
broadcast_delay_min = "{{ .Monitor.BroadcastDelayMin }}"
broadcast_delay_max = "{{ .Monitor.BroadcastDelayMax }}"

# Maximum number of state hashes served in a single response
max_hashes_per_response = {{ .Monitor.MaxHashesPerResponse }}

# Every poll re-requests this many heights below the local tip
recheck_depth = {{ .Monitor.RecheckDepth }}

# Height of the first state hash of every chain
genesis_height = {{ .Monitor.GenesisHeight }}

# Comma separated list of seed node IDs
seed_nodes = [{{ StringsJoin (QuoteAll .Monitor.SeedNodes) ", " }}]

# Hard coded "height:hexhash" pairs the local chain must match
checkpoints = [{{ StringsJoin (QuoteAll .Monitor.Checkpoints) ", " }}]

db_backend = "{{ .Monitor.DBBackend }}"
db_dir = "{{ .Monitor.DBPath }}"
`
