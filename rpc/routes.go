package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"consensus_status": rpc.NewRPCFunc(ConsensusStatus, ""),
	"local_chain":      rpc.NewRPCFunc(LocalChain, "state_type,from_height"),
	"peer_views":       rpc.NewRPCFunc(PeerViews, "state_type"),
	"conflicts":        rpc.NewRPCFunc(Conflicts, "state_type"),
	"state_blocks":     rpc.NewRPCFunc(StateBlocks, "state_type,from_height"),
	"new_state_hash":   rpc.NewRPCFunc(NewStateHash, "state_type,height,state"),
	"poll_peers":       rpc.NewRPCFunc(PollPeers, ""),
	"resync":           rpc.NewRPCFunc(Resync, "state_type"),
	"metrics":          rpc.NewRPCFunc(JSONMetrics, "label"),
}
