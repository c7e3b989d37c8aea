package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmtypes "github.com/annchain/forge/vm/types"
)

var (
	addrA = common.HexToAddress("0x01")
	addrB = common.HexToAddress("0x02")
	slot1 = common.HexToHash("0x11")
	slot2 = common.HexToHash("0x22")
)

func testBacking() *MemoryBacking {
	backing := NewMemoryBacking()
	backing.SetBalance(addrA, big.NewInt(1000))
	acc := vmtypes.NewAccount()
	acc.Balance = big.NewInt(500)
	acc.Storage[slot1] = common.HexToHash("0xaa")
	acc.SetCode([]byte{0x60, 0x00})
	backing.SetAccount(addrB, acc)
	return backing
}

func TestFallThrough(t *testing.T) {
	db := NewOverlayDB(testBacking())

	assert.Equal(t, big.NewInt(1000), db.GetBalance(addrA))
	assert.Equal(t, common.HexToHash("0xaa"), db.GetState(addrB, slot1))
	assert.Equal(t, []byte{0x60, 0x00}, db.GetCode(addrB))
	assert.Equal(t, common.Hash{}, db.GetState(addrB, slot2))
	assert.False(t, db.Exist(common.HexToAddress("0xdead")))
	assert.NoError(t, db.Err())
}

func TestBackingNeverWritten(t *testing.T) {
	backing := testBacking()
	db := NewOverlayDB(backing)

	db.AddBalance(addrA, big.NewInt(1))
	db.SetState(addrB, slot1, common.HexToHash("0xbb"))
	db.SetCode(addrB, []byte{0xff})

	acc, err := backing.Account(addrA)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), acc.Balance)
	v, err := backing.StorageAt(addrB, slot1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xaa"), v)
}

func TestSnapshotRevert(t *testing.T) {
	db := NewOverlayDB(testBacking())

	db.SetState(addrB, slot1, common.HexToHash("0xb0"))
	rev := db.Snapshot()
	db.SetState(addrB, slot1, common.HexToHash("0xb1"))
	db.SetState(addrB, slot2, common.HexToHash("0xb2"))
	db.SubBalance(addrA, big.NewInt(400))
	assert.Equal(t, common.HexToHash("0xb1"), db.GetState(addrB, slot1))

	db.RevertToSnapshot(rev)
	assert.Equal(t, common.HexToHash("0xb0"), db.GetState(addrB, slot1))
	assert.Equal(t, common.Hash{}, db.GetState(addrB, slot2))
	assert.Equal(t, big.NewInt(1000), db.GetBalance(addrA))
}

func TestRevertScopedLogs(t *testing.T) {
	db := NewOverlayDB(testBacking())

	rev := db.Snapshot()
	db.AddLog(&vmtypes.Log{Address: addrA, Data: []byte{1}})
	inner := db.Snapshot()
	db.AddLog(&vmtypes.Log{Address: addrA, Data: []byte{2}})
	assert.Len(t, db.LogsSince(rev), 2)

	// a reverted frame takes its logs with it
	db.RevertToSnapshot(inner)
	logs := db.LogsSince(rev)
	require.Len(t, logs, 1)
	assert.Equal(t, []byte{1}, logs[0].Data)
}

func TestChangesSinceMergesStorage(t *testing.T) {
	db := NewOverlayDB(testBacking())

	rev := db.Snapshot()
	db.SetState(addrB, slot2, common.HexToHash("0xcc"))
	db.Snapshot()
	db.SetState(addrB, slot1, common.HexToHash("0xdd"))

	cs := db.ChangesSince(rev)
	require.Contains(t, cs, addrB)
	assert.Equal(t, common.HexToHash("0xcc"), cs[addrB].Storage[slot2])
	assert.Equal(t, common.HexToHash("0xdd"), cs[addrB].Storage[slot1])
}

func TestCommitIdempotence(t *testing.T) {
	db := NewOverlayDB(testBacking())

	rev := db.Snapshot()
	db.AddBalance(addrA, big.NewInt(7))
	db.SetState(addrB, slot2, common.HexToHash("0xcc"))
	db.SetNonce(addrA, 3)
	cs := db.ChangesSince(rev)
	db.RevertToSnapshot(rev)

	db.Commit(cs.Copy())
	assert.Equal(t, big.NewInt(1007), db.GetBalance(addrA))
	assert.Equal(t, uint64(3), db.GetNonce(addrA))
	assert.Equal(t, common.HexToHash("0xcc"), db.GetState(addrB, slot2))

	// re-applying the identical changeset is a no-op
	db.Commit(cs.Copy())
	assert.Equal(t, big.NewInt(1007), db.GetBalance(addrA))
	assert.Equal(t, uint64(3), db.GetNonce(addrA))
	assert.Equal(t, common.HexToHash("0xcc"), db.GetState(addrB, slot2))
	assert.Equal(t, common.HexToHash("0xaa"), db.GetState(addrB, slot1))
}

func TestCloneDivergence(t *testing.T) {
	db := NewOverlayDB(testBacking())
	db.AddBalance(addrA, big.NewInt(1))

	clone := db.Clone()
	clone.AddBalance(addrA, big.NewInt(100))
	clone.SetState(addrB, slot1, common.HexToHash("0xee"))

	assert.Equal(t, big.NewInt(1101), clone.GetBalance(addrA))
	assert.Equal(t, big.NewInt(1001), db.GetBalance(addrA))
	assert.Equal(t, common.HexToHash("0xaa"), db.GetState(addrB, slot1))
}

func TestSentinelAccountSeeded(t *testing.T) {
	db := NewOverlayDB(NewMemoryBacking())

	assert.True(t, db.Exist(vmtypes.CheatcodeAddress))
	assert.NotEmpty(t, db.GetCode(vmtypes.CheatcodeAddress))
	assert.False(t, db.Empty(vmtypes.CheatcodeAddress))
}

func TestPutGetAccountCopies(t *testing.T) {
	db := NewOverlayDB(NewMemoryBacking())
	acc := vmtypes.NewAccount()
	acc.Balance = big.NewInt(42)
	db.PutAccount(addrA, acc)

	got := db.GetAccount(addrA)
	require.NotNil(t, got)
	got.Balance.SetInt64(0)
	assert.Equal(t, big.NewInt(42), db.GetBalance(addrA))
}
