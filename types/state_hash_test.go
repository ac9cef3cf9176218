package types

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"testing"
)

func TestStateHash_Equal(t *testing.T) {
	a := NewStateHash(1, []byte{1, 2}, []byte{3})
	assert.True(t, a.Equal(NewStateHash(1, []byte{1, 2}, []byte{3})))
	assert.False(t, a.Equal(NewStateHash(2, []byte{1, 2}, []byte{3})))
	assert.False(t, a.Equal(NewStateHash(1, []byte{1, 2, 0}, []byte{3})), "length mismatch is unequal")
	assert.False(t, a.Equal(NewStateHash(1, []byte{1, 2}, nil)))
	assert.True(t, a.HasEqualHash(NewStateHash(7, []byte{1, 2}, nil)))
}

func TestStateHash_ValidateBasic(t *testing.T) {
	assert.NoError(t, NewStateHash(0, []byte{1}, nil).ValidateBasic())
	assert.Error(t, NewStateHash(-1, []byte{1}, nil).ValidateBasic())
	assert.Error(t, NewStateHash(1, nil, nil).ValidateBasic())
	assert.Error(t, NewStateHash(math.MaxInt32+1, []byte{1}, nil).ValidateBasic())
}

func TestComputeStateHash(t *testing.T) {
	g := ComputeStateHash(0, nil, []byte("state"))
	assert.Len(t, g.Hash, StateHashSize)
	assert.True(t, g.IsGenesis())

	// 相同输入得到相同的hash
	assert.True(t, g.Equal(ComputeStateHash(0, nil, []byte("state"))))

	next := ComputeStateHash(1, g.Hash, []byte("state"))
	assert.True(t, g.Links(next))
	assert.False(t, next.HasEqualHash(g), "prev hash is part of the digest")

	// 历史不同，即使当前状态相同hash也不同
	other := ComputeStateHash(1, []byte("other"), []byte("state"))
	assert.False(t, next.HasEqualHash(other))
}

func TestNewStateHashCopies(t *testing.T) {
	raw := []byte{1, 2, 3}
	sh := NewStateHash(1, raw, nil)
	raw[0] = 9
	assert.EqualValues(t, 1, sh.Hash[0])
	assert.NotNil(t, sh.PrevHash)
}

func TestCheckpoint(t *testing.T) {
	cp, err := ParseCheckpoint("10:0a0b")
	require.NoError(t, err)
	assert.EqualValues(t, 10, cp.Height)
	assert.Equal(t, []byte{0x0a, 0x0b}, []byte(cp.Hash))

	assert.True(t, cp.Matches(NewStateHash(9, []byte{1}, nil)))
	assert.True(t, cp.Matches(NewStateHash(10, []byte{0x0a, 0x0b}, nil)))
	assert.False(t, cp.Matches(NewStateHash(10, []byte{0x0a}, nil)))

	for _, s := range []string{"10", "x:0a", "10:zz", "10:"} {
		_, err := ParseCheckpoint(s)
		assert.Error(t, err, s)
	}
}

func TestParseStateType(t *testing.T) {
	for _, st := range AllStateTypes() {
		got, err := ParseStateType(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
		assert.True(t, st.IsValid())
	}
	_, err := ParseStateType("nope")
	assert.Error(t, err)
	assert.False(t, UnknownStateType.IsValid())
}
