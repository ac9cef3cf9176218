package types

import (
	"bytes"
	"fmt"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"golang.org/x/crypto/ripemd160"
	"math"
)

// StateHashSize is the size of the digests produced by ComputeStateHash.
const StateHashSize = ripemd160.Size

// StateHash 某个区块高度上完整状态的摘要，通过PrevHash与前一个StateHash相连
type StateHash struct {
	Height   int64            `json:"height"`
	Hash     tmbytes.HexBytes `json:"hash"`
	PrevHash tmbytes.HexBytes `json:"prev_hash"`
}

func NewStateHash(height int64, hash, prevHash []byte) StateHash {
	return StateHash{
		Height:   height,
		Hash:     copyBytes(hash),
		PrevHash: copyBytes(prevHash),
	}
}

// ComputeStateHash hashes prevHash||state so that matching the latest hash
// implies the whole history matches as well.
func ComputeStateHash(height int64, prevHash, state []byte) StateHash {
	combined := make([]byte, 0, len(prevHash)+len(state))
	combined = append(combined, prevHash...)
	combined = append(combined, state...)

	hasher := ripemd160.New()
	hasher.Write(tmhash.Sum(combined)) // nolint: errcheck
	return NewStateHash(height, hasher.Sum(nil), prevHash)
}

// ValidateBasic 只检查单个StateHash自身是否合法，不涉及链的连续性
func (sh StateHash) ValidateBasic() error {
	if sh.Height < 0 {
		return fmt.Errorf("%w: negative height %d", ErrInvalidStateHash, sh.Height)
	}
	if sh.Height > math.MaxInt32 {
		return fmt.Errorf("%w: height %d overflows int32", ErrInvalidStateHash, sh.Height)
	}
	if len(sh.Hash) == 0 {
		return fmt.Errorf("%w: empty hash at height %d", ErrInvalidStateHash, sh.Height)
	}
	return nil
}

// Equal compares height, hash and prevHash byte by byte. A length mismatch is
// simply unequal.
func (sh StateHash) Equal(other StateHash) bool {
	return sh.Height == other.Height &&
		bytes.Equal(sh.Hash, other.Hash) &&
		bytes.Equal(sh.PrevHash, other.PrevHash)
}

func (sh StateHash) HasEqualHash(other StateHash) bool {
	return bytes.Equal(sh.Hash, other.Hash)
}

// IsGenesis reports whether sh carries no previous hash.
func (sh StateHash) IsGenesis() bool {
	return len(sh.PrevHash) == 0
}

// Links reports whether next directly follows sh.
func (sh StateHash) Links(next StateHash) bool {
	return next.Height == sh.Height+1 && bytes.Equal(next.PrevHash, sh.Hash)
}

func (sh StateHash) Copy() StateHash {
	return NewStateHash(sh.Height, sh.Hash, sh.PrevHash)
}

func (sh StateHash) String() string {
	return fmt.Sprintf("StateHash{%d %X prev:%X}", sh.Height, []byte(sh.Hash), []byte(sh.PrevHash))
}

// ValidateChain 校验peer发来的hash序列：逐个ValidateBasic，高度连续，且PrevHash指向前一个Hash
// 第一个元素的PrevHash无法校验
func ValidateChain(hashes []StateHash) error {
	for i, sh := range hashes {
		if err := sh.ValidateBasic(); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		if !hashes[i-1].Links(sh) {
			return fmt.Errorf("%w: entry at height %d does not follow height %d",
				ErrChainDiscontinuity, sh.Height, hashes[i-1].Height)
		}
	}
	return nil
}

func copyBytes(src []byte) tmbytes.HexBytes {
	if src == nil {
		return tmbytes.HexBytes{}
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
