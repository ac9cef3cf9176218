package protocol

import (
	"daomonitor/types"
	"fmt"
	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"math"
)

func init() {
	tmjson.RegisterType(&HashesRequest{}, "daomonitor/HashesRequest")
	tmjson.RegisterType(&HashesResponse{}, "daomonitor/HashesResponse")
	tmjson.RegisterType(&NewHashPush{}, "daomonitor/NewHashPush")
}

// ------ Message ------
// 所有消息都带有StateType，三种状态共用同一套消息
type Message interface {
	ValidateBasic() error
	GetStateType() types.StateType
}

// HashesRequest 请求对方从FromHeight开始的hash chain
type HashesRequest struct {
	StateType  types.StateType `json:"state_type"`
	FromHeight int64           `json:"from_height"`
	Nonce      int32           `json:"nonce"`
}

func (msg *HashesRequest) ValidateBasic() error {
	if !msg.StateType.IsValid() {
		return fmt.Errorf("invalid state type %d", msg.StateType)
	}
	if msg.FromHeight < 0 || msg.FromHeight > math.MaxInt32 {
		return ErrInvalidFromHeight
	}
	return nil
}

func (msg *HashesRequest) GetStateType() types.StateType {
	return msg.StateType
}

func (msg *HashesRequest) String() string {
	return fmt.Sprintf("[HashesRequest %v from:%d nonce:%d]", msg.StateType, msg.FromHeight, msg.Nonce)
}

// HashesResponse 对HashesRequest的回复，RequestNonce必须与请求中的Nonce一致
type HashesResponse struct {
	StateType    types.StateType   `json:"state_type"`
	StateHashes  []types.StateHash `json:"state_hashes"`
	RequestNonce int32             `json:"request_nonce"`
}

// ValidateBasic 不检查StateHashes，元素和连续性由Requester在匹配到请求后校验，
// 这样对应的请求可以立即以ErrMalformedChain结束而不是等到超时
func (msg *HashesResponse) ValidateBasic() error {
	if !msg.StateType.IsValid() {
		return fmt.Errorf("invalid state type %d", msg.StateType)
	}
	return nil
}

func (msg *HashesResponse) GetStateType() types.StateType {
	return msg.StateType
}

func (msg *HashesResponse) String() string {
	return fmt.Sprintf("[HashesResponse %v hashes:%d nonce:%d]", msg.StateType, len(msg.StateHashes), msg.RequestNonce)
}

// NewHashPush 本地chain增长后主动广播的最新StateHash
type NewHashPush struct {
	StateType types.StateType `json:"state_type"`
	StateHash types.StateHash `json:"state_hash"`
}

func (msg *NewHashPush) ValidateBasic() error {
	if !msg.StateType.IsValid() {
		return fmt.Errorf("invalid state type %d", msg.StateType)
	}
	return msg.StateHash.ValidateBasic()
}

func (msg *NewHashPush) GetStateType() types.StateType {
	return msg.StateType
}

func (msg *NewHashPush) String() string {
	return fmt.Sprintf("[NewHashPush %v %v]", msg.StateType, msg.StateHash)
}

// --------------------------
func EncodeMsg(msg Message) ([]byte, error) {
	bz, err := tmjson.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %T", msg)
	}
	return bz, nil
}

// DecodeMsg 解码并执行ValidateBasic
func DecodeMsg(bz []byte) (Message, error) {
	var msg Message
	if err := tmjson.Unmarshal(bz, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}
	if msg == nil {
		return nil, errors.New("empty message")
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, errors.Wrapf(err, "invalid %T", msg)
	}
	return msg, nil
}
