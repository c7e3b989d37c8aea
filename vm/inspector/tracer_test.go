package inspector

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annchain/forge/vm/state"
	vmtypes "github.com/annchain/forge/vm/types"
)

func traceFrame(caller, addr string, gas uint64) *vmtypes.Frame {
	return vmtypes.NewFrame(common.HexToAddress(caller), common.HexToAddress(addr), new(big.Int), gas)
}

func TestTracerBuildsCallTree(t *testing.T) {
	tr := NewTracer()
	db := state.NewOverlayDB(state.NewMemoryBacking())

	outer := traceFrame("0x01", "0x02", 1000)
	_, err := tr.BeforeCall(db, outer)
	require.NoError(t, err)

	inner := traceFrame("0x02", "0x03", 800)
	_, err = tr.BeforeCall(db, inner)
	require.NoError(t, err)
	tr.AfterCall(db, inner, &vmtypes.FrameResult{Status: vmtypes.StatusReverted, GasLeft: 500})

	// mid-execution there is no finished tree yet
	assert.Nil(t, tr.Trace())

	tr.AfterCall(db, outer, &vmtypes.FrameResult{Status: vmtypes.StatusSucceeded, GasLeft: 400})

	root := tr.Trace()
	require.NotNil(t, root)
	assert.Equal(t, common.HexToAddress("0x02"), root.Address)
	assert.Equal(t, vmtypes.StatusSucceeded, root.Status)
	assert.Equal(t, uint64(600), root.GasUsed)
	require.Len(t, root.Children, 1)
	assert.Equal(t, vmtypes.StatusReverted, root.Children[0].Status)
	assert.Equal(t, uint64(300), root.Children[0].GasUsed)
}

func TestTracerWrite(t *testing.T) {
	tr := NewTracer()
	db := state.NewOverlayDB(state.NewMemoryBacking())

	frame := traceFrame("0x01", "0x02", 100)
	frame.IsCreate = true
	_, err := tr.BeforeCreate(db, frame)
	require.NoError(t, err)
	tr.AfterCreate(db, frame, &vmtypes.FrameResult{Status: vmtypes.StatusSucceeded, GasLeft: 10})

	var buf bytes.Buffer
	tr.Write(&buf)
	assert.Contains(t, buf.String(), "CREATE")
	assert.Contains(t, buf.String(), "Succeeded")
}

func TestTracerObservesInterceptedCalls(t *testing.T) {
	c := NewCheatcodes(testEnv())
	tr := NewTracer()
	s := NewStack(c, tr)
	db := state.NewOverlayDB(state.NewMemoryBacking())

	frame := vmtypes.NewFrame(common.HexToAddress("0xf0"), vmtypes.CheatcodeAddress, new(big.Int), 1000)
	frame.Input = crypto.Keccak256([]byte("stopPrank()"))[:4]
	ic, err := s.BeforeCall(db, frame)
	require.NoError(t, err)
	require.NotNil(t, ic, "sentinel call must be intercepted")
	s.AfterCall(db, frame, &vmtypes.FrameResult{Status: ic.Status, Ret: ic.Ret, GasLeft: ic.GasLeft})

	// the intercepted call still shows up as a finished trace node
	root := tr.Trace()
	require.NotNil(t, root)
	assert.Equal(t, vmtypes.CheatcodeAddress, root.Address)
	assert.Equal(t, vmtypes.StatusSucceeded, root.Status)
}

func TestLogCollectorDrains(t *testing.T) {
	c := NewLogCollector()
	c.Record(&vmtypes.Log{Data: []byte{1}})
	c.Record(&vmtypes.Log{Data: []byte{2}})

	logs := c.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, []byte{1}, logs[0].Data)

	assert.Empty(t, c.Logs())
}
