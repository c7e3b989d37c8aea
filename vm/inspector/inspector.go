package inspector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	vmtypes "github.com/annchain/forge/vm/types"
)

// Inspector observes every call and create boundary during execution. Hooks
// get mutable access to the in-flight frame and may veto it: a non-nil
// Intercept from a before-hook replaces the interpreter run entirely.
//
// The observer set is closed; the stack dispatches to each registered
// inspector in order rather than through a plugin registry.
type Inspector interface {
	BeforeCall(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error)
	AfterCall(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult)
	BeforeCreate(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error)
	AfterCreate(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult)
}

// StateWriter is the extended store surface cheatcodes reach for: direct
// balance override on top of the plain StateDB contract.
type StateWriter interface {
	vmtypes.StateDB
	SetBalance(common.Address, *big.Int)
}

// Stack is an ordered list of inspectors sharing no state except through the
// hooks. Every hook runs every inspector in registration order. The first
// intercept wins, but the remaining before-hooks still observe the frame, so
// each inspector sees matched before/after pairs even for intercepted calls.
type Stack struct {
	inspectors []Inspector
}

func NewStack(inspectors ...Inspector) *Stack {
	return &Stack{inspectors: inspectors}
}

// Push appends an inspector; it will run after the ones already registered.
func (s *Stack) Push(i Inspector) {
	s.inspectors = append(s.inspectors, i)
}

func (s *Stack) BeforeCall(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	var won *vmtypes.Intercept
	for _, i := range s.inspectors {
		ic, err := i.BeforeCall(state, frame)
		if err != nil {
			return nil, err
		}
		if won == nil {
			won = ic
		}
	}
	return won, nil
}

func (s *Stack) AfterCall(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	for _, i := range s.inspectors {
		i.AfterCall(state, frame, result)
	}
}

func (s *Stack) BeforeCreate(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	var won *vmtypes.Intercept
	for _, i := range s.inspectors {
		ic, err := i.BeforeCreate(state, frame)
		if err != nil {
			return nil, err
		}
		if won == nil {
			won = ic
		}
	}
	return won, nil
}

func (s *Stack) AfterCreate(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	for _, i := range s.inspectors {
		i.AfterCreate(state, frame, result)
	}
}

// NopInspector has empty hooks; embed it to implement only the hooks an
// inspector cares about.
type NopInspector struct{}

func (NopInspector) BeforeCall(vmtypes.StateDB, *vmtypes.Frame) (*vmtypes.Intercept, error) {
	return nil, nil
}
func (NopInspector) AfterCall(vmtypes.StateDB, *vmtypes.Frame, *vmtypes.FrameResult) {}
func (NopInspector) BeforeCreate(vmtypes.StateDB, *vmtypes.Frame) (*vmtypes.Intercept, error) {
	return nil, nil
}
func (NopInspector) AfterCreate(vmtypes.StateDB, *vmtypes.Frame, *vmtypes.FrameResult) {}
