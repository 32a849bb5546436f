package vm

import (
	"fmt"

	"github.com/minoca/chalkos/compiler"
)

// ---------------------------------------------------------------------------
// Postfix expressions: indexing, calls, and postfix increments
// ---------------------------------------------------------------------------

// List indices live in the unsigned 32-bit range. Anything larger is a
// runaway index rather than a plausible list.
const maxListIndex = 1 << 32

// visitPostfixExpression applies the suffix sequence left to right over
// an accumulator held in the frame's value and lvalue fields. Index and
// call suffixes suspend the machine while the index expression, argument
// list, or callee body runs as a child frame.
func visitPostfixExpression(i *Interpreter, n *execNode) error {
	switch n.state {
	case 0:
		// Evaluate the base expression.
		n.state = 1
		n.childIndex = 1
		return i.pushChild(n, 0)

	case 1:
		n.value = n.takeResult(0)
		n.lvalue = n.takeLValue(0)
		n.state = 2

	case 3:
		// An index expression finished.
		index := n.takeResult(n.awaiting)
		value, lv, err := indexOperation(n.value, index)
		index.ReleaseReference()
		if err != nil {
			return err
		}
		n.setAccumulator(value, lv)
		n.awaiting = -1
		n.suffix++
		n.state = 2

	case 4:
		// An argument list finished; invoke the callee.
		arguments := n.takeResult(n.awaiting)
		err := i.invokeFunction(n, n.value, arguments)
		arguments.ReleaseReference()
		if err != nil {
			return err
		}
		n.awaiting = -1
		n.state = 5
		return nil

	case 5:
		// The callee's body frame popped and delivered its value.
		result := n.callValue
		n.callValue = nil
		n.callDone = false
		n.callPending = false
		if result == nil {
			result = NewInteger(0)
		}
		n.setAccumulator(result, nil)
		n.suffix++
		n.state = 2
	}

	// Apply suffixes until one needs a child frame.
	for n.suffix < len(n.parse.Tokens) {
		switch n.parse.Tokens[n.suffix].Type {
		case compiler.TokenLBracket:
			n.awaiting = n.childIndex
			n.childIndex++
			n.state = 3
			return i.pushChild(n, n.awaiting)

		case compiler.TokenLParen:
			n.awaiting = n.childIndex
			n.childIndex++
			n.state = 4
			return i.pushChild(n, n.awaiting)

		default:
			// Postfix increment or decrement: write the stepped value
			// back, keep the original as the expression's value. The
			// slot is dropped afterwards so a++ is not assignable.
			operator := n.parse.Tokens[n.suffix].Type
			if n.lvalue == nil {
				return fmt.Errorf("%w: operand of postfix %q",
					ErrNotAssignable, operator.String())
			}
			stepped, err := integerMath(n.value.Dereference(), nil, operator)
			if err != nil {
				return err
			}
			if err := n.lvalue.write(stepped); err != nil {
				stepped.ReleaseReference()
				return err
			}
			stepped.ReleaseReference()
			n.lvalue.release()
			n.lvalue = nil
			n.suffix++
		}
	}
	value, lv := n.value, n.lvalue
	n.value, n.lvalue = nil, nil
	n.complete(value, lv)
	return nil
}

// setAccumulator replaces the postfix machine's current value and slot.
// Both incoming references are donated.
func (n *execNode) setAccumulator(value *Object, lv *lvalue) {
	if n.value != nil {
		n.value.ReleaseReference()
	}
	if n.lvalue != nil {
		n.lvalue.release()
	}
	n.value = value
	n.lvalue = lv
}

// indexOperation resolves container[key] into a value and an assignable
// slot. A miss creates a zero integer in the slot first, so the returned
// value always aliases the container's contents. List indices must be
// integers in the unsigned 32-bit range; dict keys may be integers or
// strings. The returned references are owned by the caller.
func indexOperation(container, key *Object) (*Object, *lvalue, error) {
	container = container.Dereference()
	key = key.Dereference()
	switch container.typ {
	case ObjectList:
		if key.typ != ObjectInteger {
			return nil, nil, fmt.Errorf("%w: list index is %s",
				ErrTypeMismatch, key.typ)
		}
		if key.integer < 0 || key.integer >= maxListIndex {
			return nil, nil, fmt.Errorf("%w: list index %d",
				ErrRange, key.integer)
		}
		index := int(key.integer)
		lv := newListLValue(container, index)
		value := container.ListGet(index)
		if value == nil {
			zero := NewInteger(0)
			if err := lv.write(zero); err != nil {
				zero.ReleaseReference()
				lv.release()
				return nil, nil, err
			}
			return zero, lv, nil
		}
		value.AddReference()
		return value, lv, nil

	case ObjectDict:
		value, err := container.DictGet(key)
		if err != nil {
			return nil, nil, err
		}
		key.AddReference()
		lv := newDictLValue(container, key)
		if value == nil {
			zero := NewInteger(0)
			if err := lv.write(zero); err != nil {
				zero.ReleaseReference()
				lv.release()
				return nil, nil, err
			}
			return zero, lv, nil
		}
		value.AddReference()
		return value, lv, nil
	}
	return nil, nil, fmt.Errorf("%w: cannot index %s",
		ErrTypeMismatch, container.typ)
}

// ---------------------------------------------------------------------------
// Function invocation
// ---------------------------------------------------------------------------

// invokeFunction pushes the callee's body as a call frame under a fresh
// function-boundary scope with the arguments bound. Integer and string
// arguments bind as copies; lists, dicts, and functions bind by
// reference.
func (i *Interpreter) invokeFunction(n *execNode, callee, arguments *Object) error {
	callee = callee.Dereference()
	if callee.typ != ObjectFunction {
		return fmt.Errorf("%w: %s is not callable", ErrTypeMismatch, callee.typ)
	}
	parameters := callee.fn.arguments
	if parameters.ListLength() != arguments.ListLength() {
		return fmt.Errorf("function takes %d arguments, got %d",
			parameters.ListLength(), arguments.ListLength())
	}
	scope := newScope(i.current, true)
	for k := 0; k < parameters.ListLength(); k++ {
		name := string(parameters.ListGet(k).StringBytes())
		bound := arguments.ListGet(k).Copy()
		err := scope.set(name, bound)
		bound.ReleaseReference()
		if err != nil {
			scope.release()
			return err
		}
	}
	if err := i.pushNode(callee.fn.body, callee.fn.script, n, 0); err != nil {
		scope.release()
		return err
	}
	i.current = scope
	frame := i.top
	frame.callFrame = true
	frame.function = true
	frame.baseScope = scope
	n.callPending = true
	return nil
}
