package executor

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annchain/forge/vm/state"
	vmtypes "github.com/annchain/forge/vm/types"
)

var (
	counterSlot = common.HexToHash("0x00")
	failedSlot  = common.HexToHash("0x01")

	incrementSelector  = crypto.Keccak256([]byte("increment()"))[:4]
	getSelector        = crypto.Keccak256([]byte("get()"))[:4]
	boomSelector       = crypto.Keccak256([]byte("boom()"))[:4]
	setFailedSelector  = crypto.Keccak256([]byte("setFailed()"))[:4]
	balanceSelector    = crypto.Keccak256([]byte("myBalance()"))[:4]
	emitSelector       = crypto.Keccak256([]byte("emitOne()"))[:4]
	nowSelector        = crypto.Keccak256([]byte("now()"))[:4]
	chainSelector      = crypto.Keccak256([]byte("myChainId()"))[:4]
	emitRevertSelector = crypto.Keccak256([]byte("emitAndRevert()"))[:4]
)

// testCode is the marker "bytecode" the scripted interpreter claims.
var testCode = []byte("scripted-test-contract")

// badInitcode makes the scripted constructor revert.
var badInitcode = []byte{0xfe}

func solidityError(msg string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(msg)
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}

// scriptInterpreter stands in for a real bytecode interpreter: it dispatches
// on the calldata selector and manipulates state through the same StateDB
// surface a real one would.
type scriptInterpreter struct{}

func (s *scriptInterpreter) CanRun(code []byte) bool { return true }

func (s *scriptInterpreter) Run(frame *vmtypes.Frame, db vmtypes.StateDB, input []byte, readOnly bool) ([]byte, error) {
	if frame.IsCreate {
		if bytes.Equal(frame.Code, badInitcode) {
			return solidityError("constructor failed"), vmtypes.ErrExecutionReverted
		}
		// initcode doubles as runtime code
		return frame.Code, nil
	}
	if len(input) < 4 {
		return nil, nil
	}
	switch {
	case bytes.Equal(input[:4], incrementSelector):
		cur := db.GetState(frame.Address, counterSlot).Big()
		db.SetState(frame.Address, counterSlot, common.BigToHash(new(big.Int).Add(cur, big.NewInt(1))))
		return nil, nil
	case bytes.Equal(input[:4], getSelector):
		return db.GetState(frame.Address, counterSlot).Bytes(), nil
	case bytes.Equal(input[:4], boomSelector):
		return solidityError("boom"), vmtypes.ErrExecutionReverted
	case bytes.Equal(input[:4], setFailedSelector):
		db.SetState(frame.Address, failedSlot, common.BigToHash(big.NewInt(1)))
		return nil, nil
	case bytes.Equal(input[:4], failedSelector):
		return db.GetState(frame.Address, failedSlot).Bytes(), nil
	case bytes.Equal(input[:4], balanceSelector):
		return common.BigToHash(db.GetBalance(frame.Address)).Bytes(), nil
	case bytes.Equal(input[:4], emitSelector):
		db.AddLog(&vmtypes.Log{Address: frame.Address, Data: []byte{0x01}})
		return nil, nil
	case bytes.Equal(input[:4], nowSelector):
		return common.BigToHash(frame.Env.Block.Time).Bytes(), nil
	case bytes.Equal(input[:4], chainSelector):
		return common.BigToHash(frame.Env.Chain.ChainID).Bytes(), nil
	case bytes.Equal(input[:4], emitRevertSelector):
		db.AddLog(&vmtypes.Log{Address: frame.Address, Data: []byte{0x02}})
		return solidityError("emitted then reverted"), vmtypes.ErrExecutionReverted
	}
	return nil, nil
}

// cheatCalldata packs one cheatcode invocation for a call to the sentinel.
func cheatCalldata(t *testing.T, sig string, types []string, args ...interface{}) []byte {
	t.Helper()
	data := crypto.Keccak256([]byte(sig))[:4]
	if len(types) > 0 {
		abiArgs := make(abi.Arguments, len(types))
		for i, typ := range types {
			at, err := abi.NewType(typ, "", nil)
			require.NoError(t, err)
			abiArgs[i] = abi.Argument{Type: at}
		}
		packed, err := abiArgs.Pack(args...)
		require.NoError(t, err)
		data = append(data, packed...)
	}
	return data
}

func newTestExecutor(t *testing.T) (*Executor, common.Address) {
	t.Helper()
	db := state.NewOverlayDB(state.NewMemoryBacking())
	db.SetBalance(DefaultSender, big.NewInt(1_000_000))
	exec := NewExecutor(db, DefaultEnv(), 8_000_000, &scriptInterpreter{})

	dep, err := exec.Deploy(DefaultSender, testCode, nil, nil)
	require.NoError(t, err)
	return exec, dep.Address
}

func TestDeploy(t *testing.T) {
	db := state.NewOverlayDB(state.NewMemoryBacking())
	exec := NewExecutor(db, DefaultEnv(), 8_000_000, &scriptInterpreter{})

	want := crypto.CreateAddress(DefaultSender, 0)
	dep, err := exec.Deploy(DefaultSender, testCode, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, want, dep.Address)
	assert.Equal(t, testCode, db.GetCode(dep.Address))
	assert.Equal(t, uint64(1), db.GetNonce(DefaultSender))
}

func TestDeployRevertingConstructor(t *testing.T) {
	db := state.NewOverlayDB(state.NewMemoryBacking())
	exec := NewExecutor(db, DefaultEnv(), 8_000_000, &scriptInterpreter{})

	_, err := exec.Deploy(DefaultSender, badInitcode, nil, nil)
	require.Error(t, err)
	ee, ok := err.(*vmtypes.ExecutionErr)
	require.True(t, ok)
	assert.Equal(t, "constructor failed", ee.Reason)
	assert.Nil(t, db.GetCode(crypto.CreateAddress(DefaultSender, 0)))
}

func TestCallRawDoesNotCommit(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, incrementSelector, nil)
	require.NoError(t, err)
	assert.True(t, res.Status.Succeeded())
	require.Contains(t, res.Changeset, addr)
	assert.Equal(t, common.BigToHash(big.NewInt(1)), res.Changeset[addr].Storage[counterSlot])

	// the overlay's records are exactly what they were before the call
	assert.Equal(t, common.Hash{}, exec.State().GetState(addr, counterSlot))

	res, err = exec.CallRaw(DefaultSender, addr, getSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}.Bytes(), res.Ret)
}

func TestCallRawCommittingPersists(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRawCommitting(DefaultSender, addr, incrementSelector, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Changeset)
	assert.Equal(t, common.BigToHash(big.NewInt(1)), exec.State().GetState(addr, counterSlot))

	_, err = exec.CallRawCommitting(DefaultSender, addr, incrementSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(2)), exec.State().GetState(addr, counterSlot))
}

func TestTransferVisibleDuringSpeculativeCall(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, balanceSelector, big.NewInt(250))
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(250)).Bytes(), res.Ret)

	// the transfer itself was speculative
	assert.Equal(t, big.NewInt(0), exec.State().GetBalance(addr))
	assert.Equal(t, big.NewInt(1_000_000), exec.State().GetBalance(DefaultSender))
}

func TestCallLogsCollected(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, emitSelector, nil)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, addr, res.Logs[0].Address)

	// logs do not leak into the next call's result
	res, err = exec.CallRaw(DefaultSender, addr, getSelector, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Logs)
}

func TestTypedCall(t *testing.T) {
	exec, addr := newTestExecutor(t)

	parsed, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"get","inputs":[],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"boom","inputs":[],"outputs":[]}
	]`))
	require.NoError(t, err)

	res, err := exec.Call(DefaultSender, addr, &parsed, "get", nil)
	require.NoError(t, err)
	require.Len(t, res.Decoded, 1)
	assert.Equal(t, int64(0), res.Decoded[0].(*big.Int).Int64())

	_, err = exec.Call(DefaultSender, addr, &parsed, "boom", nil)
	require.Error(t, err)
	ee, ok := err.(*vmtypes.ExecutionErr)
	require.True(t, ok)
	assert.Equal(t, "boom", ee.Reason)
	assert.Equal(t, vmtypes.StatusReverted, ee.Status)

	_, err = exec.Call(DefaultSender, addr, &parsed, "nope", nil)
	require.Error(t, err)
	_, ok = err.(*vmtypes.AbiError)
	assert.True(t, ok)
}

func TestSetup(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.Setup(DefaultSender, addr)
	require.NoError(t, err)
	assert.True(t, res.Status.Succeeded())
}

func TestCheatcodeThroughCall(t *testing.T) {
	exec, _ := newTestExecutor(t)

	calldata := cheatCalldata(t, "warp(uint256)", []string{"uint256"}, big.NewInt(1_800_000_000))
	res, err := exec.CallRaw(DefaultSender, vmtypes.CheatcodeAddress, calldata, nil)
	require.NoError(t, err)
	assert.True(t, res.Status.Succeeded())
	assert.Equal(t, big.NewInt(1_800_000_000), exec.Env().Block.Time)
}

func TestBlockEnvReachesInterpreter(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, nowSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1)).Bytes(), res.Ret)

	warp := cheatCalldata(t, "warp(uint256)", []string{"uint256"}, big.NewInt(1_800_000_000))
	_, err = exec.CallRaw(DefaultSender, vmtypes.CheatcodeAddress, warp, nil)
	require.NoError(t, err)

	// code running after the warp observes the new timestamp
	res, err = exec.CallRaw(DefaultSender, addr, nowSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1_800_000_000)).Bytes(), res.Ret)

	res, err = exec.CallRaw(DefaultSender, addr, chainSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1337)).Bytes(), res.Ret)
}

func TestRevertedCallKeepsLogs(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, emitRevertSelector, nil)
	require.NoError(t, err)
	assert.Equal(t, vmtypes.StatusReverted, res.Status)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, []byte{0x02}, res.Logs[0].Data)

	// the typed path carries them on the error as well
	parsed, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"emitAndRevert","inputs":[],"outputs":[]}
	]`))
	require.NoError(t, err)
	_, err = exec.Call(DefaultSender, addr, &parsed, "emitAndRevert", nil)
	require.Error(t, err)
	ee, ok := err.(*vmtypes.ExecutionErr)
	require.True(t, ok)
	require.Len(t, ee.Logs, 1)
	assert.Equal(t, "emitted then reverted", ee.Reason)
}

func TestSnapshotIdsDoNotOutliveCall(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, vmtypes.CheatcodeAddress, cheatCalldata(t, "snapshot()", nil), nil)
	require.NoError(t, err)
	require.True(t, res.Status.Succeeded())
	uint256Type, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	out, err := abi.Arguments{{Type: uint256Type}}.Unpack(res.Ret)
	require.NoError(t, err)
	id := out[0].(*big.Int)

	// the call that took the snapshot has unwound, so its id is stale
	res, err = exec.CallRaw(DefaultSender, vmtypes.CheatcodeAddress,
		cheatCalldata(t, "revertTo(uint256)", []string{"uint256"}, id), nil)
	require.NoError(t, err)
	require.True(t, res.Status.Succeeded())
	boolType, err := abi.NewType("bool", "", nil)
	require.NoError(t, err)
	out, err = abi.Arguments{{Type: boolType}}.Unpack(res.Ret)
	require.NoError(t, err)
	assert.False(t, out[0].(bool))
}

func TestIsSuccess(t *testing.T) {
	exec, addr := newTestExecutor(t)

	clean, err := exec.CallRaw(DefaultSender, addr, getSelector, nil)
	require.NoError(t, err)
	assert.True(t, exec.IsSuccess(addr, clean.Status, clean.Changeset, false))
	assert.False(t, exec.IsSuccess(addr, clean.Status, clean.Changeset, true))

	// a changeset that flips the failed flag turns success into failure
	failed, err := exec.CallRaw(DefaultSender, addr, setFailedSelector, nil)
	require.NoError(t, err)
	assert.False(t, exec.IsSuccess(addr, failed.Status, failed.Changeset, false))
	assert.True(t, exec.IsSuccess(addr, failed.Status, failed.Changeset, true))

	// reverted calls short-circuit the probe
	assert.False(t, exec.IsSuccess(addr, vmtypes.StatusReverted, nil, false))
	assert.True(t, exec.IsSuccess(addr, vmtypes.StatusReverted, nil, true))
}

func TestIsSuccessPurity(t *testing.T) {
	exec, addr := newTestExecutor(t)

	res, err := exec.CallRaw(DefaultSender, addr, setFailedSelector, nil)
	require.NoError(t, err)
	exec.IsSuccess(addr, res.Status, res.Changeset, false)

	assert.Equal(t, common.Hash{}, exec.State().GetState(addr, failedSlot))
	assert.Equal(t, big.NewInt(1_000_000), exec.State().GetBalance(DefaultSender))
}

func TestCloneIndependence(t *testing.T) {
	exec, addr := newTestExecutor(t)

	clone := exec.Clone()
	_, err := clone.CallRawCommitting(DefaultSender, addr, incrementSelector, nil)
	require.NoError(t, err)

	assert.Equal(t, common.BigToHash(big.NewInt(1)), clone.State().GetState(addr, counterSlot))
	assert.Equal(t, common.Hash{}, exec.State().GetState(addr, counterSlot))
}

func TestCancel(t *testing.T) {
	exec, addr := newTestExecutor(t)

	exec.Cancel()
	_, err := exec.CallRaw(DefaultSender, addr, getSelector, nil)
	assert.Error(t, err)
}
