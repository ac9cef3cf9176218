package monitor

import (
	"daomonitor/types"
	"fmt"
	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/tendermint/tendermint/p2p"
	"time"
)

// PeerStatus 本地chain与某个peer比较的结果
type PeerStatus string

const (
	PeerStatusUnknown    = PeerStatus("Unknown")
	PeerStatusInSync     = PeerStatus("InSync")
	PeerStatusInConflict = PeerStatus("InConflict")
)

// PeerStateView 本地记录的某个peer最近一次汇报的hash chain
type PeerStateView struct {
	Peer           p2p.ID            `json:"peer"`
	ReportedChain  []types.StateHash `json:"reported_chain"`
	LastUpdate     time.Time         `json:"last_update"`
	Status         PeerStatus        `json:"status"`
	ComparedHeight int64             `json:"compared_height"`
	IsSeedNode     bool              `json:"is_seed_node"`
}

func newPeerStateView(peer p2p.ID, isSeed bool) *PeerStateView {
	return &PeerStateView{
		Peer:           peer,
		ReportedChain:  []types.StateHash{},
		Status:         PeerStatusUnknown,
		ComparedHeight: -1,
		IsSeedNode:     isSeed,
	}
}

func (v *PeerStateView) IsEmpty() bool {
	return len(v.ReportedChain) == 0
}

// FirstHeight/TailHeight 在chain为空时返回-1
func (v *PeerStateView) FirstHeight() int64 {
	if v.IsEmpty() {
		return -1
	}
	return v.ReportedChain[0].Height
}

func (v *PeerStateView) TailHeight() int64 {
	if v.IsEmpty() {
		return -1
	}
	return v.ReportedChain[len(v.ReportedChain)-1].Height
}

// At ReportedChain经过ValidateChain校验，高度连续
func (v *PeerStateView) At(height int64) (types.StateHash, bool) {
	if v.IsEmpty() {
		return types.StateHash{}, false
	}
	idx := height - v.ReportedChain[0].Height
	if idx < 0 || idx >= int64(len(v.ReportedChain)) {
		return types.StateHash{}, false
	}
	return v.ReportedChain[idx], true
}

func (v *PeerStateView) Copy() PeerStateView {
	cp := *v
	cp.ReportedChain = make([]types.StateHash, 0, len(v.ReportedChain))
	for _, sh := range v.ReportedChain {
		cp.ReportedChain = append(cp.ReportedChain, sh.Copy())
	}
	return cp
}

func (v *PeerStateView) String() string {
	return fmt.Sprintf("PeerStateView{%v %v heights:[%d,%d] compared:%d}",
		v.Peer, v.Status, v.FirstHeight(), v.TailHeight(), v.ComparedHeight)
}

// ConflictRecord 只表示当前状态，每次比较都会重新计算
// 两边的hash可能相同而PrevHash不同，所以保存完整的StateHash
type ConflictRecord struct {
	Peer          p2p.ID          `json:"peer"`
	Height        int64           `json:"height"`
	MyStateHash   types.StateHash `json:"my_state_hash"`
	PeerStateHash types.StateHash `json:"peer_state_hash"`
	IsSeedNode    bool            `json:"is_seed_node"`
	DetectedAt    time.Time       `json:"detected_at"`
}

func (cr ConflictRecord) String() string {
	return fmt.Sprintf("Conflict{%v at %d local:%v peer:%v seed:%v}",
		cr.Peer, cr.Height, cr.MyStateHash, cr.PeerStateHash, cr.IsSeedNode)
}

// StateBlock 某个本地高度上所有peer汇报的hash
type StateBlock struct {
	Height        int64                      `json:"height"`
	MyStateHash   types.StateHash            `json:"my_state_hash"`
	PeersMap      map[p2p.ID]types.StateHash `json:"peers_map"`
	InConflictMap map[p2p.ID]types.StateHash `json:"in_conflict_map"`
}

func newStateBlock(my types.StateHash) *StateBlock {
	return &StateBlock{
		Height:        my.Height,
		MyStateHash:   my,
		PeersMap:      make(map[p2p.ID]types.StateHash),
		InConflictMap: make(map[p2p.ID]types.StateHash),
	}
}

// putPeerHash 同一个peer的记录直接覆盖
func (sb *StateBlock) putPeerHash(peer p2p.ID, sh types.StateHash) {
	sb.PeersMap[peer] = sh
	if sb.MyStateHash.Equal(sh) {
		delete(sb.InConflictMap, peer)
	} else {
		sb.InConflictMap[peer] = sh
	}
}

func (sb *StateBlock) NumPeers() int {
	return len(sb.PeersMap)
}

func (sb *StateBlock) NumConflicts() int {
	return len(sb.InConflictMap)
}

func (sb *StateBlock) Copy() StateBlock {
	cp := StateBlock{
		Height:        sb.Height,
		MyStateHash:   sb.MyStateHash.Copy(),
		PeersMap:      make(map[p2p.ID]types.StateHash, len(sb.PeersMap)),
		InConflictMap: make(map[p2p.ID]types.StateHash, len(sb.InConflictMap)),
	}
	for k, v := range sb.PeersMap {
		cp.PeersMap[k] = v.Copy()
	}
	for k, v := range sb.InConflictMap {
		cp.InConflictMap[k] = v.Copy()
	}
	return cp
}

// stateBlocks 按高度排序的StateBlock
type stateBlocks struct {
	tree *treemap.Map
}

func newStateBlocks() *stateBlocks {
	return &stateBlocks{tree: treemap.NewWith(godsutils.Int64Comparator)}
}

func (sbs *stateBlocks) get(height int64) (*StateBlock, bool) {
	v, found := sbs.tree.Get(height)
	if !found {
		return nil, false
	}
	return v.(*StateBlock), true
}

func (sbs *stateBlocks) getOrCreate(my types.StateHash) *StateBlock {
	if sb, ok := sbs.get(my.Height); ok {
		return sb
	}
	sb := newStateBlock(my)
	sbs.tree.Put(my.Height, sb)
	return sb
}

// from 返回高度>=fromHeight的所有StateBlock的拷贝
func (sbs *stateBlocks) from(fromHeight int64) []StateBlock {
	res := make([]StateBlock, 0)
	it := sbs.tree.Iterator()
	for it.Next() {
		if it.Key().(int64) < fromHeight {
			continue
		}
		res = append(res, it.Value().(*StateBlock).Copy())
	}
	return res
}

func (sbs *stateBlocks) size() int {
	return sbs.tree.Size()
}

func (sbs *stateBlocks) clear() {
	sbs.tree.Clear()
}
