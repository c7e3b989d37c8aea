package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pkg/errors"
)

// Engine-level sentinel errors. Any of these surfacing from a run means the
// call reverts and, except for ErrExecutionReverted, consumes all gas.
var (
	ErrDepth                    = errors.New("max call depth exceeded")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrOutOfGas                 = errors.New("out of gas")
	ErrNoCompatibleInterpreter  = errors.New("no compatible interpreter")
)

// ExecutionErr means the call ran to a terminal non-success state. It is
// data, not a crash: the decoded reason plus raw gas and logs travel with it
// for diagnostics.
type ExecutionErr struct {
	Status    Status
	Reason    string
	GasUsed   uint64
	Logs      []*Log
	Labels    map[common.Address]string
	Changeset Changeset
}

func (e *ExecutionErr) Error() string {
	return fmt.Sprintf("execution reverted: %s (gas: %d)", e.Reason, e.GasUsed)
}

// AbiError means the caller-supplied arguments or expected return shape do
// not match the target's declared ABI. It is raised before any interpreter
// work is attempted.
type AbiError struct {
	Op  string
	Err error
}

func (e *AbiError) Error() string {
	return fmt.Sprintf("abi error in %s: %v", e.Op, e.Err)
}

func (e *AbiError) Unwrap() error {
	return e.Err
}
