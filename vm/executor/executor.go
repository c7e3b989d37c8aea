package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/annchain/forge/vm/inspector"
	"github.com/annchain/forge/vm/revert"
	"github.com/annchain/forge/vm/state"
	vmtypes "github.com/annchain/forge/vm/types"
)

// DefaultSender is the caller used when the invoker does not care who sends.
var DefaultSender = common.HexToAddress("0x00a329c0648769A73afAc7F9381E08FB43dBEA72")

var (
	setUpSelector  = crypto.Keccak256([]byte("setUp()"))[:4]
	failedSelector = crypto.Keccak256([]byte("failed()"))[:4]
)

// Executor owns one overlay store and one inspector stack configuration and
// exposes the call/create/deploy/setup operations on top of the pluggable
// interpreter. The stack persists across calls within one Executor so that
// labels and expectations accumulate; the success oracle rebuilds everything
// from scratch instead (see IsSuccess).
//
// An Executor is single-threaded. Parallelism happens above it: Clone one
// per fuzz case and run the clones on separate goroutines.
type Executor struct {
	state        *state.OverlayDB
	env          vmtypes.Env
	gasLimit     uint64
	interpreters []vmtypes.Interpreter

	stack     *inspector.Stack
	cheats    *inspector.Cheatcodes
	collector *inspector.LogCollector
	tracer    *inspector.Tracer
	abort     *atomic.Bool
}

// NewExecutor wires the stock inspector stack (log collector, cheatcode
// interpreter, tracer) over the given store and environment template.
func NewExecutor(db *state.OverlayDB, env vmtypes.Env, gasLimit uint64, interpreters ...vmtypes.Interpreter) *Executor {
	e := &Executor{
		state:        db,
		env:          env,
		gasLimit:     gasLimit,
		interpreters: interpreters,
		collector:    inspector.NewLogCollector(),
		tracer:       inspector.NewTracer(),
		abort:        atomic.NewBool(false),
	}
	e.cheats = inspector.NewCheatcodes(&e.env)
	e.stack = inspector.NewStack(e.collector, e.cheats, e.tracer)
	return e
}

// DefaultEnv is a sane environment template for local execution.
func DefaultEnv() vmtypes.Env {
	return vmtypes.Env{
		Chain: vmtypes.ChainConfig{ChainID: big.NewInt(1337)},
		Block: vmtypes.BlockContext{
			Number:     big.NewInt(1),
			Time:       big.NewInt(1),
			GasLimit:   30_000_000,
			BaseFee:    new(big.Int),
			Difficulty: new(big.Int),
		},
	}
}

// State exposes the executor's persistent overlay.
func (e *Executor) State() *state.OverlayDB {
	return e.state
}

// Env exposes the mutable environment template; cheatcodes rewrite it in
// place between calls.
func (e *Executor) Env() *vmtypes.Env {
	return &e.env
}

// Clone spawns an independent executor over a cheap overlay-only clone of
// the store, sharing the read-only backing. Inspector state starts fresh.
func (e *Executor) Clone() *Executor {
	env := vmtypes.Env{Chain: e.env.Chain.Copy(), Block: e.env.Block.Copy()}
	return NewExecutor(e.state.Clone(), env, e.gasLimit, e.interpreters...)
}

// Cancel aborts any executing operation. Safe to call concurrently and more
// than once; in-flight frames finish, new ones refuse to start.
func (e *Executor) Cancel() {
	e.abort.Store(true)
}

// buildEnv derives the per-call transaction context from the call's sender,
// target, payload and value. Gas price is pinned to zero so execution never
// depends on fee market conditions. Block and chain context stay on the
// executor's template, which the engine reads live.
func (e *Executor) buildEnv(from common.Address, to *common.Address, data []byte, value *big.Int) vmtypes.Env {
	if value == nil {
		value = new(big.Int)
	}
	return vmtypes.Env{
		Tx: vmtypes.TxContext{
			From:     from,
			To:       to,
			Data:     data,
			Value:    value,
			GasLimit: e.gasLimit,
			GasPrice: new(big.Int),
		},
	}
}

// CallRaw performs an untyped call on the current state. The resulting
// changeset is returned, not applied: the overlay's records after the call
// equal the records before it, whatever the outcome.
func (e *Executor) CallRaw(from, to common.Address, calldata []byte, value *big.Int) (*RawCallResult, error) {
	env := e.buildEnv(from, &to, calldata, value)
	return e.callWithEnv(env, false)
}

// CallRawCommitting is CallRaw with the changeset folded into the overlay
// before returning.
func (e *Executor) CallRawCommitting(from, to common.Address, calldata []byte, value *big.Int) (*RawCallResult, error) {
	env := e.buildEnv(from, &to, calldata, value)
	return e.callWithEnv(env, true)
}

// callWithEnv executes the transaction described by env. All higher-level
// call variants funnel through here.
func (e *Executor) callWithEnv(env vmtypes.Env, commit bool) (*RawCallResult, error) {
	e.env.Tx = env.Tx
	rev := e.state.Snapshot()
	// Snapshot ids handed out by cheatcodes point into overlay layers that
	// stop existing once this frame unwinds.
	defer e.cheats.ForgetSnapshots()
	eng := &engine{
		state:        e.state,
		env:          &e.env,
		rundb:        &logTee{OverlayDB: e.state, collector: e.collector},
		inspectors:   e.stack,
		interpreters: e.interpreters,
		abort:        e.abort,
	}

	var fres *vmtypes.FrameResult
	if env.IsCreate() {
		fres = eng.Create(env.Tx.From, env.Tx.Data, env.Tx.GasLimit, env.Tx.Value)
	} else {
		fres = eng.Call(env.Tx.From, *env.Tx.To, env.Tx.Data, env.Tx.GasLimit, env.Tx.Value)
	}

	// Infrastructure failures abort the operation; they never become a
	// pass/fail verdict.
	if err := e.state.Err(); err != nil {
		e.state.RevertToSnapshot(rev)
		e.collector.Logs()
		return nil, errors.Wrap(err, "backing store failure")
	}
	if fres.Err != nil {
		e.state.RevertToSnapshot(rev)
		e.collector.Logs()
		return nil, fres.Err
	}

	changeset := e.state.ChangesSince(rev)
	e.state.RevertToSnapshot(rev)

	result := &RawCallResult{
		Status:      fres.Status,
		Ret:         fres.Ret,
		GasUsed:     env.Tx.GasLimit - fres.GasLeft,
		Logs:        e.collector.Logs(),
		Labels:      e.cheats.Labels(),
		Trace:       e.tracer.Trace(),
		Changeset:   changeset,
		CreatedAddr: fres.CreatedAddr,
		HasCreated:  fres.HasCreated,
	}
	if commit {
		e.state.Commit(result.Changeset)
		result.Changeset = nil
	}
	return result, nil
}

// Call performs a typed, non-committing call: arguments are ABI-encoded up
// front and the return data decoded against the method's outputs. Shape
// mismatches surface as AbiError before any interpreter work.
func (e *Executor) Call(from, to common.Address, contractABI *abi.ABI, method string, value *big.Int, args ...interface{}) (*CallResult, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, &vmtypes.AbiError{Op: method, Err: err}
	}
	raw, err := e.CallRaw(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return e.convertCallResult(contractABI, method, raw)
}

// CallCommitting is the committing variant of Call.
func (e *Executor) CallCommitting(from, to common.Address, contractABI *abi.ABI, method string, value *big.Int, args ...interface{}) (*CallResult, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, &vmtypes.AbiError{Op: method, Err: err}
	}
	raw, err := e.CallRawCommitting(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return e.convertCallResult(contractABI, method, raw)
}

func (e *Executor) convertCallResult(contractABI *abi.ABI, method string, raw *RawCallResult) (*CallResult, error) {
	if raw.Reverted() {
		return nil, e.executionErr(contractABI, raw)
	}
	result := &CallResult{RawCallResult: *raw}
	if m, ok := contractABI.Methods[method]; ok && len(m.Outputs) > 0 {
		vals, err := contractABI.Unpack(method, raw.Ret)
		if err != nil {
			return nil, &vmtypes.AbiError{Op: method, Err: err}
		}
		result.Decoded = vals
	}
	return result, nil
}

func (e *Executor) executionErr(contractABI *abi.ABI, raw *RawCallResult) *vmtypes.ExecutionErr {
	return &vmtypes.ExecutionErr{
		Status:    raw.Status,
		Reason:    revert.Decode(raw.Ret, contractABI, raw.Status, true),
		GasUsed:   raw.GasUsed,
		Logs:      raw.Logs,
		Labels:    raw.Labels,
		Changeset: raw.Changeset,
	}
}

// Deploy runs a create transaction and commits unconditionally; deployments
// are never speculative. A successful run that produced no contract address
// is fatal for the call.
func (e *Executor) Deploy(from common.Address, code []byte, value *big.Int, contractABI *abi.ABI) (*DeployResult, error) {
	env := e.buildEnv(from, nil, code, value)
	raw, err := e.callWithEnv(env, true)
	if err != nil {
		return nil, err
	}
	if raw.Reverted() {
		return nil, e.executionErr(contractABI, raw)
	}
	if !raw.HasCreated {
		return nil, errors.New("deployment succeeded but no address was returned")
	}
	logrus.WithField("address", raw.CreatedAddr.Hex()).Debug("deployed contract")
	return &DeployResult{
		Address: raw.CreatedAddr,
		GasUsed: raw.GasUsed,
		Logs:    raw.Logs,
		Labels:  raw.Labels,
		Trace:   raw.Trace,
	}, nil
}

// Setup invokes the conventional zero-argument, zero-value setUp()
// initializer on the target, committing its changes. Failures propagate as
// the call's own error.
func (e *Executor) Setup(from, to common.Address) (*RawCallResult, error) {
	raw, err := e.CallRawCommitting(from, to, setUpSelector, nil)
	if err != nil {
		return nil, err
	}
	if raw.Reverted() {
		return nil, e.executionErr(nil, raw)
	}
	return raw, nil
}

// IsSuccess is the success oracle: beyond "did it revert", it probes the
// conventional failed()(bool) flag recorded during execution. The probe runs
// inside a throwaway executor seeded with just the account under test and
// the candidate changeset, so the caller's own store and labels stay
// untouched for any input. The verdict is XORed with shouldFail so
// expected-revert tests invert correctly.
func (e *Executor) IsSuccess(addr common.Address, status vmtypes.Status, changeset vmtypes.Changeset, shouldFail bool) bool {
	success := status.Succeeded()
	if success {
		probeDB := state.NewOverlayDB(state.NewMemoryBacking())
		if acc := e.state.GetAccount(addr); acc != nil {
			probeDB.PutAccount(addr, acc)
		}
		if changeset != nil {
			probeDB.Commit(changeset.Copy())
		}
		probeEnv := vmtypes.Env{Chain: e.env.Chain.Copy(), Block: e.env.Block.Copy()}
		probe := NewExecutor(probeDB, probeEnv, e.gasLimit, e.interpreters...)
		res, err := probe.CallRaw(DefaultSender, addr, failedSelector, nil)
		if err == nil && res.Status.Succeeded() && len(res.Ret) > 0 {
			if new(big.Int).SetBytes(res.Ret).Sign() != 0 {
				success = false
			}
		}
	}
	return shouldFail != success
}
