package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the terminal state of one call.
type Status int

const (
	StatusSucceeded Status = iota
	StatusReverted
	StatusOutOfGas
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "Succeeded"
	case StatusReverted:
		return "Reverted"
	case StatusOutOfGas:
		return "OutOfGas"
	case StatusInvalid:
		return "InvalidOpcode"
	}
	return "Unknown"
}

// Succeeded reports whether the status indicates a normal stop.
func (s Status) Succeeded() bool {
	return s == StatusSucceeded
}

// Frame is the in-flight state of one call or create: who calls whom, with
// what code, input, value and gas budget. Inspectors get mutable access to it
// before the interpreter runs.
type Frame struct {
	Caller  common.Address
	Address common.Address
	// CodeAddr is the address the code was loaded from. It differs from
	// Address for delegate-style calls.
	CodeAddr *common.Address

	// Env is the live execution environment of the transaction. Block and
	// chain context are read through it; cheatcodes may rewrite them while
	// the frame is still running, so interpreters must not cache the values.
	Env *Env

	Code     []byte
	CodeHash common.Hash
	Input    []byte
	Value    *big.Int

	Gas      uint64
	IsCreate bool
	Depth    int
}

func NewFrame(caller, address common.Address, value *big.Int, gas uint64) *Frame {
	if value == nil {
		value = new(big.Int)
	}
	return &Frame{Caller: caller, Address: address, Value: value, Gas: gas}
}

func (f *Frame) SetCallCode(addr *common.Address, hash common.Hash, code []byte) {
	f.Code = code
	f.CodeHash = hash
	f.CodeAddr = addr
}

// UseGas attempts to burn gas from the frame's budget, reporting whether
// enough was left.
func (f *Frame) UseGas(gas uint64) bool {
	if f.Gas < gas {
		return false
	}
	f.Gas -= gas
	return true
}

// FrameResult is the outcome of one frame, visible to the after-hooks, which
// may rewrite it (the expect-revert cheatcode does).
type FrameResult struct {
	Status      Status
	Ret         []byte
	GasLeft     uint64
	CreatedAddr common.Address
	HasCreated  bool
	Err         error
}

// Intercept is returned by a before-hook that fully handled the frame itself.
// The interpreter is skipped and the intercept's outcome is used instead.
type Intercept struct {
	Status  Status
	Ret     []byte
	GasLeft uint64
}
