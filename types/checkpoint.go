package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"strconv"
	"strings"
)

// Checkpoint 写死在配置里的(height, hash)，本地chain到达该高度时必须一致
type Checkpoint struct {
	Height int64            `json:"height"`
	Hash   tmbytes.HexBytes `json:"hash"`
}

// ParseCheckpoint parses "height:hexhash".
func ParseCheckpoint(s string) (Checkpoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Checkpoint{}, fmt.Errorf("checkpoint %q must be of form height:hash", s)
	}
	height, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("bad checkpoint height in %q: %w", s, err)
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil {
		return Checkpoint{}, fmt.Errorf("bad checkpoint hash in %q: %w", s, err)
	}
	return Checkpoint{Height: height, Hash: hash}, nil
}

// Matches returns true if sh is not at the checkpoint height or agrees with it.
func (cp Checkpoint) Matches(sh StateHash) bool {
	if sh.Height != cp.Height {
		return true
	}
	return bytes.Equal(sh.Hash, cp.Hash)
}

func (cp Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{%d %X}", cp.Height, []byte(cp.Hash))
}
