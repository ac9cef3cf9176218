package node

import (
	"daomonitor/config"
	"daomonitor/libs/metric"
	"daomonitor/monitor"
	"daomonitor/rpc"
	"daomonitor/store"
	"daomonitor/types"
	"fmt"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"github.com/tendermint/tendermint/version"
	"net"
	"net/http"
	"strings"
)

const networkName = "dao-state-monitor"

type Provider func(*config.Config, log.Logger) (*Node, error)

type Node struct {
	service.BaseService

	// config
	config *config.Config

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// service
	store          *store.KVStore
	monitorReactor *monitor.Reactor
	metricSet      *metric.MetricSet
	rebuilder      monitor.StateRebuilder
	rpcListeners   []net.Listener
}

type Option func(*Node)

// WithStateRebuilder 设置resync时使用的状态构建器，需要在NewNode里创建monitor之前生效
func WithStateRebuilder(r monitor.StateRebuilder) Option {
	return func(n *Node) {
		n.rebuilder = r
	}
}

func DefaultNewNode(conf *config.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(conf.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", conf.NodeKeyFile(), err)
	}

	return NewNode(conf, nodeKey, logger)
}

func createTransport(
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)
	return transport
}

func createSwitch(conf *config.Config,
	transport p2p.Transport,
	monitorReactor *monitor.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		conf.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("MONITOR", monitorReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", conf.NodeKeyFile())
	return sw
}

func makeNodeInfo(
	conf *config.Config,
	nodeKey *p2p.NodeKey,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			8, // global
			11,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       networkName,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			monitor.StateHashChannel,
		},
		Moniker: conf.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: conf.RPC.ListenAddress,
		},
	}

	lAddr := conf.P2P.ExternalAddress

	if lAddr == "" {
		lAddr = conf.P2P.ListenAddress
	}

	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

// createMonitorReactor 每种StateType一个monitor，共用一个store
func createMonitorReactor(
	conf *config.Config,
	kvStore *store.KVStore,
	rebuilder monitor.StateRebuilder,
	metricSet *metric.MetricSet,
	logger log.Logger,
) (*monitor.Reactor, error) {
	checkpoints, err := conf.Monitor.ParseCheckpoints()
	if err != nil {
		return nil, err
	}

	reactor := monitor.NewReactor(conf.Monitor)
	for _, st := range types.AllStateTypes() {
		opts := []monitor.MonitorOption{
			monitor.WithStore(kvStore),
			monitor.WithSeedNodes(conf.Monitor.SeedNodeIDs()),
			monitor.WithCheckpoints(checkpoints),
		}
		if rebuilder != nil {
			opts = append(opts, monitor.WithRebuilder(rebuilder))
		}

		m := monitor.NewMonitor(st, conf.Monitor, reactor.NewRequester(st), opts...)
		if err := reactor.AddMonitor(m); err != nil {
			return nil, err
		}
		if err := metricSet.SetMetrics("monitor/"+st.String(), m); err != nil {
			return nil, err
		}
		if err := metricSet.SetMetrics("requester/"+st.String(), m.Requester()); err != nil {
			return nil, err
		}
	}
	reactor.SetLogger(logger)
	return reactor, nil
}

func NewNode(conf *config.Config, nodekey *p2p.NodeKey, logger log.Logger, options ...Option) (*Node, error) {
	node := &Node{
		config:    conf,
		nodeKey:   nodekey,
		metricSet: metric.NewMetricSet(),
	}
	for _, option := range options {
		option(node)
	}

	kvStore, err := store.NewKVStore(config.DefaultDBName, conf.Monitor.DBBackend, conf.MonitorDBDir(),
		logger.With("module", "store"))
	if err != nil {
		return nil, err
	}

	monitorReactor, err := createMonitorReactor(conf, kvStore, node.rebuilder, node.metricSet,
		logger.With("module", "monitor"))
	if err != nil {
		return nil, err
	}

	p2pLogger := logger.With("module", "p2p")

	// setup node identity
	nodeinfo, err := makeNodeInfo(conf, nodekey)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(nodeinfo, nodekey)

	// Setup Switch.
	sw := createSwitch(
		conf, transport, monitorReactor, nodeinfo, nodekey, p2pLogger,
	)

	node.transport = transport
	node.sw = sw
	node.nodeInfo = nodeinfo
	node.store = kvStore
	node.monitorReactor = monitorReactor

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	return node, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) MonitorReactor() *monitor.Reactor {
	return n.monitorReactor
}

func (n *Node) MetricSet() *metric.MetricSet {
	return n.metricSet
}

func (n *Node) OnStart() error {
	// start the rpc server before p2p, the state builder may push hashes right away
	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	err = n.sw.Start()
	if err != nil {
		return err
	}

	// seed node也需要连接，否则无法比较
	peers := splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " ")
	n.Logger.Info("dialing peers", "peers", peers)
	err = n.sw.DialPeersAsync(peers)
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("Error closing switch", "err", err)
	}

	if err := n.transport.Close(); err != nil {
		n.Logger.Error("Error closing transport", "err", err)
	}

	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("Error closing listener", "listener", l, "err", err)
		}
	}

	if err := n.store.Close(); err != nil {
		n.Logger.Error("Error closing store", "err", err)
	}
}

func (n *Node) startRPC() ([]net.Listener, error) {
	rpc.SetEnvironment(&rpc.Environment{
		Reactor:   n.monitorReactor,
		MetricSet: n.metricSet,
	})

	rpcConfig := rpcserver.DefaultConfig()
	rpcConfig.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	rpcConfig.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	rpcConfig.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcLogger := n.Logger.With("module", "rpc-server")
		wm := rpcserver.NewWebsocketManager(rpc.Routes)
		wm.SetLogger(rpcLogger.With("protocol", "websocket"))
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		listener, err := rpcserver.Listen(listenAddr, rpcConfig)
		if err != nil {
			return nil, err
		}

		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, rpcConfig); err != nil {
				rpcLogger.Error("Error serving server", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}
	return listeners, nil
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
