package vm

import (
	"errors"
	"fmt"

	"github.com/minoca/chalkos/compiler"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Interpreter: explicit-stack execution engine
// ---------------------------------------------------------------------------

// The engine never recurses on the host stack: every parse node being
// evaluated is an execNode frame on the interpreter's own stack. The main
// loop pushes children in source order and invokes the node's visitor when
// they are done (post-order). Control-flow kinds take over child dispatch
// and are visited between children instead.

// maxExecutionDepth bounds the execution stack.
const maxExecutionDepth = 10000

var log = commonlog.GetLogger("chalk.vm")

// execNode is one frame of the execution stack.
type execNode struct {
	parse  *compiler.Node
	script *Script
	parent *execNode

	deliverSlot int  // parent result slot to receive this frame's value
	callFrame   bool // deliver to the parent's call slot instead

	childIndex int // next child to push (automatic dispatch)
	state      int // manual-dispatch state machine position

	// Manual-dispatch bookkeeping for the postfix evaluator.
	suffix      int  // next suffix token to apply
	awaiting    int  // child slot whose result is pending, -1 if none
	callPending bool // a pushed call frame has not completed yet

	results []*Object // evaluated child results, owned
	lvalues []*lvalue // lvalues produced by children, owned

	baseScope *Scope // scope created for this frame, nil if none
	function  bool   // return target: frame is a function body
	iteration bool   // break/continue target

	value     *Object // completed result, owned
	lvalue    *lvalue // completed assignable slot, owned
	completed bool

	callValue *Object // result of a completed call frame, owned
	callDone  bool
}

// Interpreter runs Chalk scripts. One instance is single-threaded: no
// locks are taken inside visitors and a visitor never suspends.
type Interpreter struct {
	global  *Scope
	current *Scope
	top     *execNode
	depth   int
	scripts []*Script

	// lastValue holds the final expression value of the most recent run,
	// borrowed by callers until the next execution.
	lastValue *Object
}

// NewInterpreter creates an interpreter with an empty global scope.
func NewInterpreter() *Interpreter {
	global := newScope(nil, false)
	return &Interpreter{global: global, current: global}
}

// Destroy releases the interpreter's scripts and global scope. The
// interpreter must not be used afterwards.
func (i *Interpreter) Destroy() {
	i.setLastValue(nil)
	i.scripts = nil
	i.global.release()
	i.global = nil
	i.current = nil
}

// GetVariable resolves a name against the current scope chain and returns
// its value, or nil if undefined. The value is borrowed.
func (i *Interpreter) GetVariable(name string) *Object {
	lv := i.lookupVariable(name)
	if lv == nil {
		return nil
	}
	defer lv.release()
	value, err := lv.read()
	if err != nil {
		return nil
	}
	return value
}

// SetVariable binds a name in the current scope.
func (i *Interpreter) SetVariable(name string, value *Object) error {
	return i.current.set(name, value)
}

// LastValue returns the final expression value of the most recent script
// run, or nil. Borrowed until the next execution.
func (i *Interpreter) LastValue() *Object {
	return i.lastValue
}

func (i *Interpreter) setLastValue(value *Object) {
	if i.lastValue != nil {
		i.lastValue.ReleaseReference()
	}
	i.lastValue = value
}

// ---------------------------------------------------------------------------
// Frame stack
// ---------------------------------------------------------------------------

// pushNode pushes an execution frame for the given parse node.
func (i *Interpreter) pushNode(parse *compiler.Node, script *Script, parent *execNode, slot int) error {
	if i.depth >= maxExecutionDepth {
		return fmt.Errorf("execution stack depth limit (%d) exceeded", maxExecutionDepth)
	}
	node := &execNode{
		parse:       parse,
		script:      script,
		parent:      parent,
		deliverSlot: slot,
		awaiting:    -1,
		results:     make([]*Object, len(parse.Children)),
		lvalues:     make([]*lvalue, len(parse.Children)),
	}
	i.top = node
	i.depth++
	return nil
}

// pushChild pushes the frame for a node's numbered child.
func (i *Interpreter) pushChild(n *execNode, index int) error {
	return i.pushNode(n.parse.Children[index], n.script, n, index)
}

// complete marks a frame finished. The value and lvalue references are
// donated to the frame.
func (n *execNode) complete(value *Object, lv *lvalue) {
	n.value = value
	n.lvalue = lv
	n.completed = true
}

// takeResult transfers ownership of a child result out of the frame.
func (n *execNode) takeResult(slot int) *Object {
	value := n.results[slot]
	n.results[slot] = nil
	return value
}

// takeLValue transfers ownership of a child lvalue out of the frame.
func (n *execNode) takeLValue(slot int) *lvalue {
	lv := n.lvalues[slot]
	n.lvalues[slot] = nil
	return lv
}

// clearChildState releases a frame's accumulated child results and
// lvalues. Iteration frames do this between trips around the loop.
func (n *execNode) clearChildState() {
	for slot, result := range n.results {
		if result != nil {
			result.ReleaseReference()
			n.results[slot] = nil
		}
	}
	for slot, lv := range n.lvalues {
		if lv != nil {
			lv.release()
			n.lvalues[slot] = nil
		}
	}
}

// destroyNode tears down a frame: child results, lvalues, any base scope,
// and any undelivered values.
func (i *Interpreter) destroyNode(n *execNode) {
	n.clearChildState()
	if n.baseScope != nil {
		i.current = n.baseScope.parent
		n.baseScope.release()
		n.baseScope = nil
	}
	if n.value != nil {
		n.value.ReleaseReference()
		n.value = nil
	}
	if n.lvalue != nil {
		n.lvalue.release()
		n.lvalue = nil
	}
	if n.callValue != nil {
		n.callValue.ReleaseReference()
		n.callValue = nil
	}
	i.depth--
}

// popNode removes a completed frame, delivering its value and lvalue to
// the parent.
func (i *Interpreter) popNode(n *execNode) {
	value, lv := n.value, n.lvalue
	n.value, n.lvalue = nil, nil
	parent := n.parent
	switch {
	case parent == nil:
		i.setLastValue(value)
		if lv != nil {
			lv.release()
		}
	case n.callFrame:
		if parent.callValue != nil {
			parent.callValue.ReleaseReference()
		}
		parent.callValue = value
		parent.callDone = true
		if lv != nil {
			lv.release()
		}
	default:
		slot := n.deliverSlot
		if parent.results[slot] != nil {
			parent.results[slot].ReleaseReference()
		}
		parent.results[slot] = value
		if parent.lvalues[slot] != nil {
			parent.lvalues[slot].release()
		}
		parent.lvalues[slot] = lv
	}
	i.destroyNode(n)
	i.top = parent
}

// run drives the execution loop until the stack drains or a visitor
// fails. On failure the diagnostic names the script position of the
// failing frame and the whole stack is torn down.
func (i *Interpreter) run() error {
	for i.top != nil {
		n := i.top
		if n.completed {
			i.popNode(n)
			continue
		}
		var err error
		switch {
		case manualDispatch[n.parse.Kind]:
			err = visitors[n.parse.Kind](i, n)
		case n.childIndex < len(n.parse.Children):
			err = i.pushChild(n, n.childIndex)
			n.childIndex++
		default:
			err = visitors[n.parse.Kind](i, n)
		}
		if err != nil {
			diag := i.diagnose(n, err)
			i.teardown()
			return diag
		}
	}
	return nil
}

// teardown destroys every frame on the stack.
func (i *Interpreter) teardown() {
	for i.top != nil {
		n := i.top
		i.destroyNode(n)
		i.top = n.parent
	}
}

// diagnose wraps an evaluation failure into a positioned diagnostic.
func (i *Interpreter) diagnose(n *execNode, err error) error {
	var positioned *compiler.Error
	if errors.As(err, &positioned) {
		return err
	}
	path := "<script>"
	if n.script != nil {
		path = n.script.Path
	}
	diag := compiler.Errorf(path, n.parse.Pos, "%v", err)
	log.Debugf("script diagnostic: %s", diag.Error())
	return diag
}

// ---------------------------------------------------------------------------
// Stack unwinding for jump statements
// ---------------------------------------------------------------------------

// unwindToIteration pops frames until the enclosing iteration frame.
// Break completes the iteration frame so the loop exits one level beyond
// it; continue resumes the frame at its next-trip state.
func (i *Interpreter) unwindToIteration(isBreak bool) error {
	n := i.top
	for n != nil && !n.iteration {
		// Stop at a function boundary; a jump cannot escape its function.
		if n.function {
			n = nil
			break
		}
		i.destroyNode(n)
		i.top = n.parent
		n = i.top
	}
	if n == nil {
		if isBreak {
			return errors.New("break used outside of a loop")
		}
		return errors.New("continue used outside of a loop")
	}
	if isBreak {
		n.clearChildState()
		n.complete(nil, nil)
		return nil
	}
	n.clearChildState()
	n.state = iterationContinueState(n)
	return nil
}

// unwindToFunction pops frames up to the enclosing function-body frame and
// publishes the return value as that frame's result.
func (i *Interpreter) unwindToFunction(result *Object) error {
	n := i.top
	for n != nil && !n.function {
		i.destroyNode(n)
		i.top = n.parent
		n = i.top
	}
	if n == nil {
		if result != nil {
			result.ReleaseReference()
		}
		return errors.New("return used outside of a function")
	}
	n.clearChildState()
	n.complete(result, nil)
	return nil
}
