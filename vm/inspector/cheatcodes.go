package inspector

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/annchain/forge/vm/revert"
	vmtypes "github.com/annchain/forge/vm/types"
)

// Cheatcodes intercepts calls addressed to the reserved sentinel address and
// performs the requested side effect directly: against the state store, the
// executor's environment template, or its own ephemeral state. The
// interpreter never executes bytecode at the sentinel.
//
// Ephemeral state (labels, pending expectations, snapshot ids, pranks) lives
// exactly as long as the owning executor.
type Cheatcodes struct {
	NopInspector

	// env is the owning executor's environment template. Time-travel and
	// block cheatcodes mutate it, which persists across calls.
	env *vmtypes.Env

	labels         map[common.Address]string
	expectedRevert *expectedRevert
	prank          *prankState
	snapshots      map[uint64]int
	nextSnapshot   uint64
}

type expectedRevert struct {
	// payload is the expected revert data; nil accepts any revert.
	payload []byte
	// selectorOnly compares just the leading 4 bytes.
	selectorOnly bool
}

type prankState struct {
	caller common.Address
	// repeat keeps the prank active until stopPrank (startPrank semantics).
	repeat bool
}

func NewCheatcodes(env *vmtypes.Env) *Cheatcodes {
	return &Cheatcodes{
		env:       env,
		labels:    make(map[common.Address]string),
		snapshots: make(map[uint64]int),
	}
}

// ForgetSnapshots drops every snapshot id handed out so far. The executor
// calls it when the top-level frame unwinds: the overlay revisions those ids
// point at no longer exist, and revertTo on a stale id must report false
// instead of silently doing nothing.
func (c *Cheatcodes) ForgetSnapshots() {
	for id := range c.snapshots {
		delete(c.snapshots, id)
	}
}

// Labels returns a copy of the accumulated address labels, surfaced alongside
// every call result for display purposes.
func (c *Cheatcodes) Labels() map[common.Address]string {
	out := make(map[common.Address]string, len(c.labels))
	for k, v := range c.labels {
		out[k] = v
	}
	return out
}

func (c *Cheatcodes) BeforeCall(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	if frame.Address == vmtypes.CheatcodeAddress {
		return c.dispatch(state, frame), nil
	}
	c.applyPrank(frame)
	return nil, nil
}

func (c *Cheatcodes) BeforeCreate(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	c.applyPrank(frame)
	return nil, nil
}

func (c *Cheatcodes) AfterCall(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	if frame.Address == vmtypes.CheatcodeAddress {
		return
	}
	if c.expectedRevert != nil {
		c.applyExpectRevert(result)
	}
}

func (c *Cheatcodes) AfterCreate(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	if c.expectedRevert != nil {
		c.applyExpectRevert(result)
	}
}

func (c *Cheatcodes) applyPrank(frame *vmtypes.Frame) {
	if c.prank == nil {
		return
	}
	frame.Caller = c.prank.caller
	if !c.prank.repeat {
		c.prank = nil
	}
}

// applyExpectRevert consumes the pending expectation and rewrites the frame
// result: a matching revert becomes a success, everything else becomes a
// synthesized failure. The frame's state changes stay reverted either way.
func (c *Cheatcodes) applyExpectRevert(result *vmtypes.FrameResult) {
	exp := c.expectedRevert
	c.expectedRevert = nil

	if result.Status.Succeeded() {
		result.Status = vmtypes.StatusReverted
		result.Ret = encodeCheatError("call did not revert as expected")
		return
	}

	matched := false
	switch {
	case exp.payload == nil:
		matched = true
	case exp.selectorOnly:
		matched = len(result.Ret) >= 4 && bytes.Equal(result.Ret[:4], exp.payload[:4])
	default:
		matched = bytes.Equal(result.Ret, exp.payload)
	}
	if matched {
		result.Status = vmtypes.StatusSucceeded
		result.Ret = nil
		result.Err = nil
		return
	}
	want := revert.Decode(exp.payload, nil, vmtypes.StatusReverted, false)
	got := revert.Decode(result.Ret, nil, result.Status, true)
	result.Status = vmtypes.StatusReverted
	result.Ret = encodeCheatError(fmt.Sprintf("expected revert with %q, got %q", want, got))
}

// dispatch decodes the calldata as an ABI-encoded cheatcode invocation and
// runs the handler. The outcome is always an intercept; the sentinel has no
// real bytecode to fall back to.
func (c *Cheatcodes) dispatch(state vmtypes.StateDB, frame *vmtypes.Frame) *vmtypes.Intercept {
	input := frame.Input
	if len(input) < 4 {
		return c.fail(frame, "calldata too short for a cheatcode selector")
	}
	var selector [4]byte
	copy(selector[:], input[:4])
	entry, ok := cheatcodeTable[selector]
	if !ok {
		return c.fail(frame, fmt.Sprintf("unknown cheatcode selector %#x", selector))
	}

	args, err := entry.in.Unpack(input[4:])
	if err != nil {
		return c.fail(frame, fmt.Sprintf("%s: bad calldata: %v", entry.sig, err))
	}

	out, err := entry.handler(c, state, frame, args)
	if err == errSkipped {
		return &vmtypes.Intercept{
			Status:  vmtypes.StatusReverted,
			Ret:     revert.SkipPayload,
			GasLeft: frame.Gas,
		}
	}
	if err != nil {
		logrus.WithField("cheatcode", entry.sig).WithError(err).Debug("cheatcode failed")
		return c.fail(frame, fmt.Sprintf("%s: %v", entry.sig, err))
	}

	var ret []byte
	if len(entry.out) > 0 {
		ret, err = entry.out.Pack(out...)
		if err != nil {
			return c.fail(frame, fmt.Sprintf("%s: bad return: %v", entry.sig, err))
		}
	}
	return &vmtypes.Intercept{
		Status:  vmtypes.StatusSucceeded,
		Ret:     ret,
		GasLeft: frame.Gas,
	}
}

func (c *Cheatcodes) fail(frame *vmtypes.Frame, msg string) *vmtypes.Intercept {
	return &vmtypes.Intercept{
		Status:  vmtypes.StatusReverted,
		Ret:     encodeCheatError(msg),
		GasLeft: frame.Gas,
	}
}

// encodeCheatError frames an internal failure message so the revert decoder
// can strip the prefix and surface the raw text.
func encodeCheatError(msg string) []byte {
	return append(append([]byte{}, revert.ErrorPrefix...), msg...)
}
