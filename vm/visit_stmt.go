package vm

import "github.com/minoca/chalkos/compiler"

// ---------------------------------------------------------------------------
// Control-flow statement visitors
// ---------------------------------------------------------------------------

// visitSelectionStatement runs the condition, then exactly one branch.
func visitSelectionStatement(i *Interpreter, n *execNode) error {
	switch n.state {
	case 0:
		n.state = 1
		return i.pushChild(n, 0)
	case 1:
		n.state = 2
		if n.results[0].GetBooleanValue() {
			return i.pushChild(n, 1)
		}
		if len(n.parse.Children) > 2 {
			return i.pushChild(n, 2)
		}
	}
	n.complete(nil, nil)
	return nil
}

// visitIterationStatement drives the three loop forms. The frame marks
// itself as a jump target before any child runs so break and continue
// can find it while the body is on the stack.
//
// State meanings per form, advanced as each child frame finishes:
//
//	while:    1 test condition, 2 body done
//	do-while: 1 body done, 2 test condition
//	for:      1 init done, 2 test condition, 3 body done, 4 step done
func visitIterationStatement(i *Interpreter, n *execNode) error {
	if n.state == 0 {
		n.iteration = true
	}
	switch n.parse.Tokens[0].Type {
	case compiler.TokenWhile:
		return visitWhile(i, n)
	case compiler.TokenDo:
		return visitDoWhile(i, n)
	}
	return visitFor(i, n)
}

// visitWhile runs children [condition, body].
func visitWhile(i *Interpreter, n *execNode) error {
	switch n.state {
	case 0:
		n.state = 1
		return i.pushChild(n, 0)
	case 1:
		if !n.results[0].GetBooleanValue() {
			n.complete(nil, nil)
			return nil
		}
		n.state = 2
		return i.pushChild(n, 1)
	}
	n.clearChildState()
	n.state = 1
	return i.pushChild(n, 0)
}

// visitDoWhile runs children [body, condition].
func visitDoWhile(i *Interpreter, n *execNode) error {
	switch n.state {
	case 0:
		n.state = 1
		return i.pushChild(n, 0)
	case 1:
		n.state = 2
		return i.pushChild(n, 1)
	}
	if !n.results[1].GetBooleanValue() {
		n.complete(nil, nil)
		return nil
	}
	n.clearChildState()
	n.state = 1
	return i.pushChild(n, 0)
}

// visitFor runs children [init, condition, step?, body]. An empty
// condition statement counts as true.
func visitFor(i *Interpreter, n *execNode) error {
	children := n.parse.Children
	hasStep := len(children) == 4
	body := len(children) - 1
	switch n.state {
	case 0:
		n.state = 1
		return i.pushChild(n, 0)
	case 1:
		n.state = 2
		return i.pushChild(n, 1)
	case 2:
		condition := n.results[1]
		if condition != nil && !condition.GetBooleanValue() {
			n.complete(nil, nil)
			return nil
		}
		n.state = 3
		return i.pushChild(n, body)
	case 3:
		if hasStep {
			n.state = 4
			return i.pushChild(n, 2)
		}
	}
	n.clearChildState()
	n.state = 2
	return i.pushChild(n, 1)
}

// iterationContinueState returns the state a loop frame resumes in after
// a continue statement: the point just after its body finished.
func iterationContinueState(n *execNode) int {
	switch n.parse.Tokens[0].Type {
	case compiler.TokenWhile:
		return 2
	case compiler.TokenDo:
		return 1
	}
	return 3
}
