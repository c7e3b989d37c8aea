package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StateDB is the engine's view of world state. The overlay store implements
// it; mutations land in the overlay only.
type StateDB interface {
	CreateAccount(common.Address)

	SubBalance(common.Address, *big.Int)
	AddBalance(common.Address, *big.Int)
	// GetBalance retrieves the balance from the given address or 0 if the
	// account is not found.
	GetBalance(common.Address) *big.Int

	GetNonce(common.Address) uint64
	SetNonce(common.Address, uint64)

	GetCodeHash(common.Address) common.Hash
	GetCode(common.Address) []byte
	SetCode(common.Address, []byte)
	GetCodeSize(common.Address) int

	// GetState retrieves a value from the given account's storage.
	GetState(common.Address, common.Hash) common.Hash
	SetState(common.Address, common.Hash, common.Hash)

	// Exist reports whether the given account exists in state.
	Exist(common.Address) bool
	// Empty returns whether the given account is empty (balance = nonce =
	// code = 0).
	Empty(common.Address) bool

	// Snapshot opens a new revision; RevertToSnapshot discards all changes
	// made since the given revision.
	Snapshot() int
	RevertToSnapshot(int)

	AddLog(*Log)

	// Err surfaces the first backing-store failure seen during the call.
	// Infrastructure errors must abort the operation, never degrade it.
	Err() error

	// for debug.
	String() string
}

// Interpreter executes contract bytecode against a frame. The engine drives
// whichever registered interpreter claims the code; the interpreter itself is
// an external, already-correct collaborator.
type Interpreter interface {
	// CanRun tells if the code passed in can be run by this interpreter.
	CanRun(code []byte) bool
	// Run loops and evaluates the frame's code with the given input data.
	// Block and chain context arrive on the frame's Env and must be read
	// per use. A revert surfaces as ErrExecutionReverted with the revert
	// payload as ret; any other error consumes the remaining gas.
	Run(frame *Frame, state StateDB, input []byte, readOnly bool) (ret []byte, err error)
}
