package types

import "fmt"

// StateType 区分被监控的三种DAO状态，每种状态维护独立的hash chain
type StateType uint8

const (
	UnknownStateType   = StateType(0)
	DaoStateType       = StateType(1)
	ProposalStateType  = StateType(2)
	BlindVoteStateType = StateType(3)
)

// AllStateTypes returns the monitored state types in a stable order.
func AllStateTypes() []StateType {
	return []StateType{DaoStateType, ProposalStateType, BlindVoteStateType}
}

func (st StateType) String() string {
	switch st {
	case DaoStateType:
		return "DaoState"
	case ProposalStateType:
		return "Proposal"
	case BlindVoteStateType:
		return "BlindVote"
	default:
		return "UnknownState"
	}
}

func (st StateType) IsValid() bool {
	return st == DaoStateType || st == ProposalStateType || st == BlindVoteStateType
}

// ParseStateType accepts the String() form or the short aliases used on the
// command line and in rpc params.
func ParseStateType(s string) (StateType, error) {
	switch s {
	case "DaoState", "dao", "dao_state", "daostate":
		return DaoStateType, nil
	case "Proposal", "proposal":
		return ProposalStateType, nil
	case "BlindVote", "blind_vote", "blindvote":
		return BlindVoteStateType, nil
	default:
		return UnknownStateType, fmt.Errorf("unknown state type %q", s)
	}
}
