package types

import (
	"bytes"
	"fmt"
)

// StateHashChain 本地维护的某种状态的hash chain
// 只能追加，不能修改或删除已有元素；高度从genesisHeight开始连续
// NOTE: 不是线程安全的，由Monitor负责加锁
type StateHashChain struct {
	genesisHeight int64
	hashes        []StateHash
}

func NewStateHashChain(genesisHeight int64) *StateHashChain {
	return &StateHashChain{
		genesisHeight: genesisHeight,
		hashes:        []StateHash{},
	}
}

// Append adds sh at the tail. The chain is left unchanged on error.
func (c *StateHashChain) Append(sh StateHash) error {
	if err := sh.ValidateBasic(); err != nil {
		return err
	}

	if c.IsEmpty() {
		// 只有创世高度允许空的PrevHash
		if sh.Height != c.genesisHeight {
			return fmt.Errorf("%w: first entry must be at genesis height %d, got %d",
				ErrChainDiscontinuity, c.genesisHeight, sh.Height)
		}
		if !sh.IsGenesis() {
			return fmt.Errorf("%w: genesis entry must not carry a previous hash", ErrChainDiscontinuity)
		}
		c.hashes = append(c.hashes, sh.Copy())
		return nil
	}

	tail := c.hashes[len(c.hashes)-1]
	if sh.Height != tail.Height+1 {
		return fmt.Errorf("%w: expected height %d, got %d", ErrChainDiscontinuity, tail.Height+1, sh.Height)
	}
	if !bytes.Equal(sh.PrevHash, tail.Hash) {
		return fmt.Errorf("%w: prev hash %X does not match tail hash %X at height %d",
			ErrChainDiscontinuity, []byte(sh.PrevHash), []byte(tail.Hash), tail.Height)
	}

	c.hashes = append(c.hashes, sh.Copy())
	return nil
}

// At returns the StateHash at height.
func (c *StateHashChain) At(height int64) (StateHash, bool) {
	idx := height - c.genesisHeight
	if idx < 0 || idx >= int64(len(c.hashes)) {
		return StateHash{}, false
	}
	return c.hashes[idx], true
}

// TailHeight returns genesisHeight-1 for an empty chain.
func (c *StateHashChain) TailHeight() int64 {
	return c.genesisHeight + int64(len(c.hashes)) - 1
}

func (c *StateHashChain) Tail() (StateHash, bool) {
	if c.IsEmpty() {
		return StateHash{}, false
	}
	return c.hashes[len(c.hashes)-1], true
}

func (c *StateHashChain) IsEmpty() bool {
	return len(c.hashes) == 0
}

func (c *StateHashChain) Len() int {
	return len(c.hashes)
}

func (c *StateHashChain) GenesisHeight() int64 {
	return c.genesisHeight
}

// From returns a copy of the contiguous entries starting at height.
// At most max entries are returned; max <= 0 means no limit.
func (c *StateHashChain) From(height int64, max int) []StateHash {
	if height < c.genesisHeight {
		height = c.genesisHeight
	}
	start := height - c.genesisHeight
	if start >= int64(len(c.hashes)) {
		return []StateHash{}
	}

	end := int64(len(c.hashes))
	if max > 0 && start+int64(max) < end {
		end = start + int64(max)
	}

	res := make([]StateHash, 0, end-start)
	for _, sh := range c.hashes[start:end] {
		res = append(res, sh.Copy())
	}
	return res
}

func (c *StateHashChain) Hashes() []StateHash {
	return c.From(c.genesisHeight, 0)
}

// Reset drops every entry. Only used by an explicit resync.
func (c *StateHashChain) Reset() {
	c.hashes = []StateHash{}
}
