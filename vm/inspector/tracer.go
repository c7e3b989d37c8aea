package inspector

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	vmtypes "github.com/annchain/forge/vm/types"
)

// CallTrace is one node of the call tree handed to reporting collaborators.
// Reference slices are actual frame data; make copies if you need to retain
// them beyond the current call.
type CallTrace struct {
	Caller   common.Address
	Address  common.Address
	Input    []byte
	IsCreate bool
	Depth    int

	Status  vmtypes.Status
	Ret     []byte
	GasUsed uint64

	Children []*CallTrace

	gasStart uint64
}

// Tracer records the call/create tree of an execution for the external trace
// decoder and debugger. It observes boundaries only; opcode stepping belongs
// to the interpreter.
type Tracer struct {
	root  *CallTrace
	stack []*CallTrace
}

func NewTracer() *Tracer {
	return &Tracer{}
}

func (t *Tracer) BeforeCall(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	t.push(frame, false)
	return nil, nil
}

func (t *Tracer) AfterCall(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	t.pop(frame, result)
}

func (t *Tracer) BeforeCreate(state vmtypes.StateDB, frame *vmtypes.Frame) (*vmtypes.Intercept, error) {
	t.push(frame, true)
	return nil, nil
}

func (t *Tracer) AfterCreate(state vmtypes.StateDB, frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	t.pop(frame, result)
}

func (t *Tracer) push(frame *vmtypes.Frame, create bool) {
	node := &CallTrace{
		Caller:   frame.Caller,
		Address:  frame.Address,
		Input:    frame.Input,
		IsCreate: create,
		Depth:    frame.Depth,
		gasStart: frame.Gas,
	}
	if len(t.stack) == 0 {
		t.root = node
	} else {
		parent := t.stack[len(t.stack)-1]
		parent.Children = append(parent.Children, node)
	}
	t.stack = append(t.stack, node)
}

func (t *Tracer) pop(frame *vmtypes.Frame, result *vmtypes.FrameResult) {
	if len(t.stack) == 0 {
		return
	}
	node := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	node.Status = result.Status
	node.Ret = result.Ret
	if node.gasStart >= result.GasLeft {
		node.GasUsed = node.gasStart - result.GasLeft
	}
}

// Trace returns the completed call tree of the last execution, or nil if
// none finished yet.
func (t *Tracer) Trace() *CallTrace {
	if len(t.stack) != 0 {
		return nil
	}
	return t.root
}

// Write dumps the call tree for debugging.
func (t *Tracer) Write(w io.Writer) {
	if t.root == nil {
		return
	}
	writeTrace(w, t.root, 0)
}

func writeTrace(w io.Writer, node *CallTrace, indent int) {
	kind := "CALL"
	if node.IsCreate {
		kind = "CREATE"
	}
	fmt.Fprintf(w, "%s%s %s -> %s [%s] gas=%d\n",
		strings.Repeat("  ", indent), kind, node.Caller.Hex(), node.Address.Hex(), node.Status, node.GasUsed)
	for _, child := range node.Children {
		writeTrace(w, child, indent+1)
	}
}
