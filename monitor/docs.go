package monitor

//
//   state builder                          peers
//        |                                   ^  |
//        | OnNewLocalStateHash               |  | HashesResponse / NewHashPush
//        v                                   |  v
//  +-----------+  EventNewLocalStateHash  +---------+  msgQueue   +----------------+
//  |  Monitor  | -----------------------> | Reactor | ----------> | receiveRoutine |
//  +-----------+      (delayed push)      +---------+             +----------------+
//        ^                                     ^                       |
//        |  OnPeerChainReceived                | HashesRequest          | HandleResponse
//        +-------------------------------------|------------------------+ HandleTimeout
//                                              |                         poll ticker
//                                       served directly from HashesFrom

//Monitor - 某一种StateType的一致性监控，DaoState/Proposal/BlindVote各一个
//	- StateHashChain - 本地的hash chain，只能追加，断裂时monitor halted，直到操作员resync
//	- PeerStateView - 每个peer最近一次汇报的chain以及比较结果(Unknown/InSync/InConflict)
//	- ConflictRecord - 当前与本地冲突的peer，只表示当前状态
//	- StateBlock - 每个本地高度上所有peer汇报的hash，供操作员查看
//	- Requester - 请求/回复协议，nonce匹配、超时、回复校验
//Reactor - 绑定到tendermint p2p.Switch，StateHashChannel上收发消息
//	- 回复和超时在同一个routine中处理，一个请求只会完成一次
//	- 冲突只报告给操作员，从不自动处理
