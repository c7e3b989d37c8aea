package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/annchain/forge/vm/inspector"
	"github.com/annchain/forge/vm/state"
	vmtypes "github.com/annchain/forge/vm/types"
)

const (
	// Maximum call/create stack depth.
	callCreateDepth = 1024
	// Maximum bytecode size a create may leave behind.
	maxCodeSize = 24576
	// Gas charged per byte of stored contract code.
	createDataGas = 200
)

// emptyCodeHash is used by create to ensure deployment is disallowed to
// already deployed contract addresses.
var emptyCodeHash = crypto.Keccak256Hash(nil)

var errAborted = errors.New("execution aborted")

// engine drives one transaction: it owns the per-frame bookkeeping around the
// pluggable interpreter (value transfer, account creation, snapshot/revert on
// failure) and fires the inspector hooks at every call/create boundary. Any
// error coming back from a run means revert-and-consume-all-gas except an
// explicit execution revert, which refunds the remainder.
//
// An engine is built fresh per transaction and is not safe for concurrent
// use.
type engine struct {
	state *state.OverlayDB
	// env is the live environment frames expose to the interpreter.
	env *vmtypes.Env
	// rundb is the store surface handed to interpreters; it tees emitted
	// logs into the collector at emission time.
	rundb        vmtypes.StateDB
	inspectors   *inspector.Stack
	interpreters []vmtypes.Interpreter
	abort        *atomic.Bool
	depth        int
}

// logTee forwards every emitted log to the collector before it lands in the
// overlay. The overlay still scopes its own copy to the active layer, but a
// later revert must not erase the log from the call report.
type logTee struct {
	*state.OverlayDB
	collector *inspector.LogCollector
}

func (t *logTee) AddLog(l *vmtypes.Log) {
	t.collector.Record(l)
	t.OverlayDB.AddLog(l)
}

// run picks the first interpreter that claims the frame's code. An account
// without code is a plain value transfer and succeeds immediately.
func (e *engine) run(frame *vmtypes.Frame, input []byte, readOnly bool) ([]byte, error) {
	if len(frame.Code) == 0 {
		return nil, nil
	}
	for _, in := range e.interpreters {
		if in.CanRun(frame.Code) {
			return in.Run(frame, e.rundb, input, readOnly)
		}
	}
	return nil, vmtypes.ErrNoCompatibleInterpreter
}

// Call executes the code at addr with the given input. It handles any
// necessary value transfer, creates the destination account when needed, and
// reverses state on execution error or failed transfer.
func (e *engine) Call(caller, addr common.Address, input []byte, gas uint64, value *big.Int) *vmtypes.FrameResult {
	if value == nil {
		value = new(big.Int)
	}
	frame := vmtypes.NewFrame(caller, addr, value, gas)
	frame.Env = e.env
	frame.Input = input
	frame.Depth = e.depth

	if e.abort.Load() {
		return &vmtypes.FrameResult{Status: vmtypes.StatusInvalid, GasLeft: gas, Err: errAborted}
	}
	if e.depth > callCreateDepth {
		return e.finishCall(frame, nil, vmtypes.ErrDepth)
	}

	// Hooks run first: a cheatcode call must be intercepted before any
	// transfer or code lookup happens at the sentinel.
	ic, err := e.inspectors.BeforeCall(e.state, frame)
	if err != nil {
		return &vmtypes.FrameResult{Status: vmtypes.StatusInvalid, GasLeft: frame.Gas, Err: err}
	}
	if ic != nil {
		result := &vmtypes.FrameResult{Status: ic.Status, Ret: ic.Ret, GasLeft: ic.GasLeft}
		e.inspectors.AfterCall(e.state, frame, result)
		return result
	}

	if !canTransfer(e.state, frame.Caller, value) {
		return e.finishCall(frame, nil, vmtypes.ErrInsufficientBalance)
	}

	snapshot := e.state.Snapshot()
	if !e.state.Exist(addr) {
		if value.Sign() == 0 {
			// Calling a non existing account without value: nothing to do.
			return e.finishCall(frame, nil, nil)
		}
		e.state.CreateAccount(addr)
	}
	transfer(e.state, frame.Caller, addr, value)
	frame.SetCallCode(&addr, e.state.GetCodeHash(addr), e.state.GetCode(addr))

	ret, err := e.run(frame, input, false)
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		if !errors.Is(err, vmtypes.ErrExecutionReverted) {
			frame.UseGas(frame.Gas)
		}
	}
	return e.finishCall(frame, ret, err)
}

func (e *engine) finishCall(frame *vmtypes.Frame, ret []byte, err error) *vmtypes.FrameResult {
	result := &vmtypes.FrameResult{
		Status:  statusFromError(err),
		Ret:     ret,
		GasLeft: frame.Gas,
	}
	e.inspectors.AfterCall(e.state, frame, result)
	return result
}

// Create deploys the given initcode and installs whatever the constructor
// returns. The created address is derived from the caller's nonce.
func (e *engine) Create(caller common.Address, code []byte, gas uint64, value *big.Int) *vmtypes.FrameResult {
	if value == nil {
		value = new(big.Int)
	}
	if e.abort.Load() {
		return &vmtypes.FrameResult{Status: vmtypes.StatusInvalid, GasLeft: gas, Err: errAborted}
	}

	nonce := e.state.GetNonce(caller)
	contractAddr := crypto.CreateAddress(caller, nonce)

	frame := vmtypes.NewFrame(caller, contractAddr, value, gas)
	frame.Env = e.env
	frame.IsCreate = true
	frame.Depth = e.depth
	frame.Code = code
	frame.CodeHash = crypto.Keccak256Hash(code)

	if e.depth > callCreateDepth {
		return e.finishCreate(frame, nil, vmtypes.ErrDepth)
	}
	if !canTransfer(e.state, caller, value) {
		return e.finishCreate(frame, nil, vmtypes.ErrInsufficientBalance)
	}

	ic, err := e.inspectors.BeforeCreate(e.state, frame)
	if err != nil {
		return &vmtypes.FrameResult{Status: vmtypes.StatusInvalid, GasLeft: frame.Gas, Err: err}
	}
	if ic != nil {
		result := &vmtypes.FrameResult{Status: ic.Status, Ret: ic.Ret, GasLeft: ic.GasLeft}
		e.inspectors.AfterCreate(e.state, frame, result)
		return result
	}
	// a prank may have rewritten the caller; the address derives from the
	// effective sender
	if frame.Caller != caller {
		caller = frame.Caller
		nonce = e.state.GetNonce(caller)
		contractAddr = crypto.CreateAddress(caller, nonce)
		frame.Address = contractAddr
	}

	e.state.SetNonce(caller, nonce+1)

	// Ensure there's no existing contract already at the designated address.
	contractHash := e.state.GetCodeHash(contractAddr)
	if e.state.GetNonce(contractAddr) != 0 || (contractHash != (common.Hash{}) && contractHash != emptyCodeHash) {
		return e.finishCreate(frame, nil, vmtypes.ErrContractAddressCollision)
	}

	snapshot := e.state.Snapshot()
	e.state.CreateAccount(contractAddr)
	e.state.SetNonce(contractAddr, 1)
	transfer(e.state, caller, contractAddr, value)

	ret, err := e.run(frame, nil, false)

	maxCodeSizeExceeded := len(ret) > maxCodeSize
	if err == nil && !maxCodeSizeExceeded {
		storeGas := uint64(len(ret)) * createDataGas
		if frame.UseGas(storeGas) {
			e.state.SetCode(contractAddr, ret)
		} else {
			err = vmtypes.ErrCodeStoreOutOfGas
		}
	}

	if maxCodeSizeExceeded || (err != nil && !errors.Is(err, vmtypes.ErrCodeStoreOutOfGas)) {
		e.state.RevertToSnapshot(snapshot)
		if !errors.Is(err, vmtypes.ErrExecutionReverted) {
			frame.UseGas(frame.Gas)
		}
	}
	if maxCodeSizeExceeded && err == nil {
		err = vmtypes.ErrMaxCodeSizeExceeded
	}

	result := e.finishCreate(frame, ret, err)
	if err == nil {
		result.CreatedAddr = contractAddr
		result.HasCreated = true
	}
	return result
}

func (e *engine) finishCreate(frame *vmtypes.Frame, ret []byte, err error) *vmtypes.FrameResult {
	result := &vmtypes.FrameResult{
		Status:  statusFromError(err),
		Ret:     ret,
		GasLeft: frame.Gas,
	}
	e.inspectors.AfterCreate(e.state, frame, result)
	return result
}

func statusFromError(err error) vmtypes.Status {
	switch {
	case err == nil:
		return vmtypes.StatusSucceeded
	case errors.Is(err, vmtypes.ErrExecutionReverted):
		return vmtypes.StatusReverted
	case errors.Is(err, vmtypes.ErrOutOfGas), errors.Is(err, vmtypes.ErrCodeStoreOutOfGas):
		return vmtypes.StatusOutOfGas
	default:
		return vmtypes.StatusInvalid
	}
}

// canTransfer checks whether there are enough funds in the address' account
// to make a transfer. This does not take the necessary gas into account.
func canTransfer(db vmtypes.StateDB, addr common.Address, amount *big.Int) bool {
	return db.GetBalance(addr).Cmp(amount) >= 0
}

// transfer subtracts amount from sender and adds amount to recipient.
func transfer(db vmtypes.StateDB, sender, recipient common.Address, amount *big.Int) {
	db.SubBalance(sender, amount)
	db.AddBalance(recipient, amount)
}
