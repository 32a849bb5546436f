package vm

import (
	"fmt"
	"strconv"

	"github.com/minoca/chalkos/compiler"
)

// ---------------------------------------------------------------------------
// Visitor dispatch tables
// ---------------------------------------------------------------------------

// visitors maps parse-node kinds to their evaluation functions. Kinds
// flagged in manualDispatch control their own child scheduling and are
// visited whenever their frame is on top; the rest are visited once,
// after the engine has pushed and collected every child in order.
var (
	visitors       [compiler.NodeKindCount]func(*Interpreter, *execNode) error
	manualDispatch [compiler.NodeKindCount]bool
)

func init() {
	visitors[compiler.NodeTranslationUnit] = visitTranslationUnit
	visitors[compiler.NodeFunctionDefinition] = visitFunctionDefinition
	visitors[compiler.NodeCompoundStatement] = visitCompoundStatement
	visitors[compiler.NodeExpressionStatement] = visitExpressionStatement
	visitors[compiler.NodeSelectionStatement] = visitSelectionStatement
	visitors[compiler.NodeIterationStatement] = visitIterationStatement
	visitors[compiler.NodeJumpStatement] = visitJumpStatement
	visitors[compiler.NodeExpression] = visitExpression
	visitors[compiler.NodeAssignmentExpression] = visitAssignmentExpression
	visitors[compiler.NodeConditionalExpression] = visitConditionalExpression
	visitors[compiler.NodeLogicalOrExpression] = visitLogicalExpression
	visitors[compiler.NodeLogicalAndExpression] = visitLogicalExpression
	visitors[compiler.NodeInclusiveOrExpression] = visitBinaryFold
	visitors[compiler.NodeExclusiveOrExpression] = visitBinaryFold
	visitors[compiler.NodeAndExpression] = visitBinaryFold
	visitors[compiler.NodeEqualityExpression] = visitBinaryFold
	visitors[compiler.NodeRelationalExpression] = visitBinaryFold
	visitors[compiler.NodeShiftExpression] = visitBinaryFold
	visitors[compiler.NodeAdditiveExpression] = visitBinaryFold
	visitors[compiler.NodeMultiplicativeExpression] = visitBinaryFold
	visitors[compiler.NodeUnaryExpression] = visitUnaryExpression
	visitors[compiler.NodePostfixExpression] = visitPostfixExpression
	visitors[compiler.NodePrimaryExpression] = visitPrimaryExpression
	visitors[compiler.NodeArgumentExpressionList] = visitArgumentExpressionList
	visitors[compiler.NodeList] = visitList
	visitors[compiler.NodeListElementList] = visitListElementList
	visitors[compiler.NodeDict] = visitDict
	visitors[compiler.NodeDictEntryList] = visitDictEntryList
	visitors[compiler.NodeDictEntry] = visitDictEntry

	// Kinds that must not evaluate all children up front: control flow,
	// short-circuit logicals, scoped blocks, and the suffix machine.
	manualDispatch[compiler.NodeFunctionDefinition] = true
	manualDispatch[compiler.NodeCompoundStatement] = true
	manualDispatch[compiler.NodeSelectionStatement] = true
	manualDispatch[compiler.NodeIterationStatement] = true
	manualDispatch[compiler.NodeLogicalOrExpression] = true
	manualDispatch[compiler.NodeLogicalAndExpression] = true
	manualDispatch[compiler.NodeConditionalExpression] = true
	manualDispatch[compiler.NodePostfixExpression] = true
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// visitTranslationUnit completes with the value of the last child that
// produced one, which becomes the interpreter's last value.
func visitTranslationUnit(i *Interpreter, n *execNode) error {
	for slot := len(n.results) - 1; slot >= 0; slot-- {
		if n.results[slot] != nil {
			n.complete(n.takeResult(slot), nil)
			return nil
		}
	}
	n.complete(nil, nil)
	return nil
}

// visitFunctionDefinition binds a function object in the current scope.
// The body is never pushed here; calls push it.
func visitFunctionDefinition(i *Interpreter, n *execNode) error {
	name := n.parse.Tokens[0].Literal
	argumentNode := n.parse.Children[0]
	body := n.parse.Children[1]
	names := make([]*Object, len(argumentNode.Tokens))
	for k, tok := range argumentNode.Tokens {
		names[k] = NewString([]byte(tok.Literal))
	}
	arguments := NewList(names)
	for _, nameObject := range names {
		nameObject.ReleaseReference()
	}
	function := NewFunction(arguments, body, n.script)
	arguments.ReleaseReference()
	err := i.current.set(name, function)
	function.ReleaseReference()
	if err != nil {
		return err
	}
	n.complete(nil, nil)
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// visitCompoundStatement opens a block scope, runs the statements in
// order, and closes the scope on teardown. The block itself has no value;
// function bodies that finish without a return yield the caller's default.
func visitCompoundStatement(i *Interpreter, n *execNode) error {
	if n.state == 0 {
		// A call frame arrives with the function scope already opened;
		// plain blocks open their own.
		if n.baseScope == nil {
			n.baseScope = newScope(i.current, false)
			i.current = n.baseScope
		}
		n.state = 1
	}
	slot := n.state - 1
	if slot < len(n.parse.Children) {
		n.state++
		return i.pushChild(n, slot)
	}
	n.complete(nil, nil)
	return nil
}

// visitExpressionStatement completes with its expression's value, or with
// nothing for the empty statement.
func visitExpressionStatement(i *Interpreter, n *execNode) error {
	if len(n.parse.Children) == 0 {
		n.complete(nil, nil)
		return nil
	}
	n.complete(n.takeResult(0), nil)
	return nil
}

// visitJumpStatement unwinds the stack to the enclosing loop or function.
func visitJumpStatement(i *Interpreter, n *execNode) error {
	switch n.parse.Tokens[0].Type {
	case compiler.TokenBreak:
		return i.unwindToIteration(true)
	case compiler.TokenContinue:
		return i.unwindToIteration(false)
	case compiler.TokenReturn:
		var result *Object
		if len(n.parse.Children) > 0 {
			result = n.takeResult(0)
		}
		if result == nil {
			result = NewInteger(0)
		}
		return i.unwindToFunction(result)
	}
	return fmt.Errorf("unhandled jump keyword %s", n.parse.Tokens[0])
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// visitExpression is the comma expression: all operands were evaluated,
// the last one is the value.
func visitExpression(i *Interpreter, n *execNode) error {
	n.complete(n.takeResult(len(n.results)-1), nil)
	return nil
}

// visitAssignmentExpression stores the right side into the left side's
// slot. The compound forms combine the slot's current value with the
// right side first. The stored value is also the expression's value.
func visitAssignmentExpression(i *Interpreter, n *execNode) error {
	lv := n.takeLValue(0)
	if lv == nil {
		return fmt.Errorf("%w: left side of %q",
			ErrNotAssignable, n.parse.Tokens[0].Type.String())
	}
	defer lv.release()
	operator := n.parse.Tokens[0].Type
	var value *Object
	if operator == compiler.TokenAssign {
		value = n.takeResult(1)
	} else {
		result, err := performArithmetic(
			n.results[0], n.results[1], compoundBase[operator])
		if err != nil {
			return err
		}
		value = result
	}
	if err := lv.write(value); err != nil {
		value.ReleaseReference()
		return err
	}
	n.complete(value, nil)
	return nil
}

// visitConditionalExpression evaluates the condition, then exactly one of
// the two branches.
func visitConditionalExpression(i *Interpreter, n *execNode) error {
	switch n.state {
	case 0:
		n.state = 1
		return i.pushChild(n, 0)
	case 1:
		branch := 2
		if n.results[0].GetBooleanValue() {
			branch = 1
		}
		n.awaiting = branch
		n.state = 2
		return i.pushChild(n, branch)
	}
	n.complete(n.takeResult(n.awaiting), nil)
	return nil
}

// visitLogicalExpression evaluates operands left to right, stopping as
// soon as the result is decided. The value is a coerced 0 or 1 integer.
func visitLogicalExpression(i *Interpreter, n *execNode) error {
	isAnd := n.parse.Kind == compiler.NodeLogicalAndExpression
	if n.state > 0 {
		truth := n.results[n.state-1].GetBooleanValue()
		if isAnd && !truth {
			n.complete(NewInteger(0), nil)
			return nil
		}
		if !isAnd && truth {
			n.complete(NewInteger(1), nil)
			return nil
		}
	}
	if n.state < len(n.parse.Children) {
		slot := n.state
		n.state++
		return i.pushChild(n, slot)
	}

	// Every operand was consumed without deciding the result.
	if isAnd {
		n.complete(NewInteger(1), nil)
	} else {
		n.complete(NewInteger(0), nil)
	}
	return nil
}

// visitBinaryFold folds a flat operand list left to right with the
// node's operator tokens.
func visitBinaryFold(i *Interpreter, n *execNode) error {
	accumulator := n.takeResult(0)
	for slot := 1; slot < len(n.results); slot++ {
		operator := n.parse.Tokens[slot-1].Type
		result, err := performArithmetic(accumulator, n.results[slot], operator)
		accumulator.ReleaseReference()
		if err != nil {
			return err
		}
		accumulator = result
	}
	n.complete(accumulator, nil)
	return nil
}

// visitUnaryExpression applies a prefix operator. The increment forms
// write back through the operand's slot and yield the new value.
func visitUnaryExpression(i *Interpreter, n *execNode) error {
	operator := n.parse.Tokens[0].Type
	operand := n.results[0]
	switch operator {
	case compiler.TokenIncrement, compiler.TokenDecrement:
		lv := n.lvalues[0]
		if lv == nil {
			return fmt.Errorf("%w: operand of prefix %q",
				ErrNotAssignable, operator.String())
		}
		result, err := integerMath(operand.Dereference(), nil, operator)
		if err != nil {
			return err
		}
		if err := lv.write(result); err != nil {
			result.ReleaseReference()
			return err
		}
		n.complete(result, nil)
		return nil
	}
	result, err := integerMath(operand.Dereference(), nil, operator)
	if err != nil {
		return err
	}
	n.complete(result, nil)
	return nil
}

// visitPrimaryExpression evaluates leaves: identifiers resolve against
// the scope chain and spring into existence as zero integers on a miss,
// constants parse with C number syntax, string literals decode their
// escapes. A parenthesized expression passes its value and slot through.
func visitPrimaryExpression(i *Interpreter, n *execNode) error {
	if len(n.parse.Children) > 0 {
		n.complete(n.takeResult(0), n.takeLValue(0))
		return nil
	}
	tok := n.parse.Leaf()
	switch tok.Type {
	case compiler.TokenInteger:
		value, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: integer constant %q out of range",
				ErrRange, tok.Literal)
		}
		n.complete(NewInteger(value), nil)
		return nil

	case compiler.TokenString:
		decoded, err := compiler.UnquoteString(tok.Literal)
		if err != nil {
			return err
		}
		n.complete(NewString(decoded), nil)
		return nil

	case compiler.TokenIdentifier:
		lv := i.lookupVariable(tok.Literal)
		if lv == nil {
			created, err := i.createVariable(tok.Literal)
			if err != nil {
				return err
			}
			lv = created
		}
		value, err := lv.read()
		if err != nil {
			lv.release()
			return err
		}
		value.AddReference()
		n.complete(value, lv)
		return nil
	}
	return fmt.Errorf("unhandled primary token %s", tok)
}

// ---------------------------------------------------------------------------
// Aggregate literals and argument lists
// ---------------------------------------------------------------------------

// visitArgumentExpressionList packs the evaluated arguments into a list.
func visitArgumentExpressionList(i *Interpreter, n *execNode) error {
	n.complete(NewList(n.results), nil)
	return nil
}

// visitList completes a list literal.
func visitList(i *Interpreter, n *execNode) error {
	if len(n.parse.Children) == 0 {
		n.complete(NewList(nil), nil)
		return nil
	}
	n.complete(n.takeResult(0), nil)
	return nil
}

// visitListElementList packs evaluated elements into a list object.
func visitListElementList(i *Interpreter, n *execNode) error {
	n.complete(NewList(n.results), nil)
	return nil
}

// visitDict completes a dict literal.
func visitDict(i *Interpreter, n *execNode) error {
	if len(n.parse.Children) == 0 {
		dict, err := NewDict(nil)
		if err != nil {
			return err
		}
		n.complete(dict, nil)
		return nil
	}
	n.complete(n.takeResult(0), nil)
	return nil
}

// visitDictEntryList merges the single-entry dicts produced by the
// entries, in source order, so a repeated key keeps the last value.
func visitDictEntryList(i *Interpreter, n *execNode) error {
	dict, err := NewDict(nil)
	if err != nil {
		return err
	}
	for _, entry := range n.results {
		for _, pair := range entry.dict.entries {
			if err := dict.DictSet(pair.key, pair.value); err != nil {
				dict.ReleaseReference()
				return err
			}
		}
	}
	n.complete(dict, nil)
	return nil
}

// visitDictEntry packs one key/value pair as a single-entry dict.
func visitDictEntry(i *Interpreter, n *execNode) error {
	dict, err := NewDict(nil)
	if err != nil {
		return err
	}
	err = dict.DictSet(n.results[0].Dereference(), n.results[1].Dereference())
	if err != nil {
		dict.ReleaseReference()
		return err
	}
	n.complete(dict, nil)
	return nil
}
