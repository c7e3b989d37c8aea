package executor

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/annchain/forge/vm/inspector"
	vmtypes "github.com/annchain/forge/vm/types"
)

// RawCallResult is the untyped outcome of one call: status, raw return data,
// gas, the logs and labels gathered by the inspector stack, and the state
// changeset the call would have applied. Committing calls fold the changeset
// into the overlay and leave the field nil.
type RawCallResult struct {
	Status  vmtypes.Status
	Ret     []byte
	GasUsed uint64

	Logs   []*vmtypes.Log
	Labels map[common.Address]string
	Trace  *inspector.CallTrace

	Changeset vmtypes.Changeset

	CreatedAddr common.Address
	HasCreated  bool
}

// Reverted reports whether the call ended in any non-success terminal state.
func (r *RawCallResult) Reverted() bool {
	return !r.Status.Succeeded()
}

// CallResult is a RawCallResult whose return data was decoded against the
// target function's ABI.
type CallResult struct {
	RawCallResult
	Decoded []interface{}
}

// DeployResult is the outcome of a successful deployment.
type DeployResult struct {
	Address common.Address
	GasUsed uint64
	Logs    []*vmtypes.Log
	Labels  map[common.Address]string
	Trace   *inspector.CallTrace
}
