package vm

import (
	"fmt"

	"github.com/minoca/chalkos/compiler"
)

// ---------------------------------------------------------------------------
// Arithmetic on objects
// ---------------------------------------------------------------------------

// performArithmetic applies a binary operator to two objects and returns a
// new result reference. Addition dispatches to the aggregate forms for
// matching string, list, and dict operands; the comparison operators work
// on string pairs; everything else is integer math.
func performArithmetic(left, right *Object, operator compiler.TokenType) (*Object, error) {
	left = left.Dereference()
	right = right.Dereference()
	if operator == compiler.TokenPlus && left.typ == right.typ &&
		left.typ != ObjectInteger {

		return add(left, right)
	}
	if isCompareOperator(operator) &&
		left.typ == ObjectString && right.typ == ObjectString {

		order, err := Compare(left, right)
		if err != nil {
			return nil, err
		}
		return NewInteger(boolInt(compareSatisfies(order, operator))), nil
	}
	return integerMath(left, right, operator)
}

func isCompareOperator(operator compiler.TokenType) bool {
	switch operator {
	case compiler.TokenEqual, compiler.TokenNotEqual, compiler.TokenLess,
		compiler.TokenGreater, compiler.TokenLessEqual, compiler.TokenGreaterEqual:
		return true
	}
	return false
}

func compareSatisfies(order int, operator compiler.TokenType) bool {
	switch operator {
	case compiler.TokenEqual:
		return order == 0
	case compiler.TokenNotEqual:
		return order != 0
	case compiler.TokenLess:
		return order < 0
	case compiler.TokenLessEqual:
		return order <= 0
	case compiler.TokenGreater:
		return order > 0
	case compiler.TokenGreaterEqual:
		return order >= 0
	}
	return false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// integerMath performs integer and logical arithmetic. The right operand
// is nil for the unary forms; unary minus negates. Logical operators
// coerce their operands; the rest require integers. Division and modulo
// by zero are range errors.
func integerMath(left, right *Object, operator compiler.TokenType) (*Object, error) {
	var leftValue, rightValue int64
	switch operator {
	case compiler.TokenNot, compiler.TokenLogicalAnd, compiler.TokenLogicalOr:
		leftValue = boolInt(left.GetBooleanValue())
		if right != nil {
			rightValue = boolInt(right.GetBooleanValue())
		}

	default:
		if left.typ != ObjectInteger {
			return nil, fmt.Errorf("%w: operator %q expects integer, got %s",
				ErrTypeMismatch, operator.String(), left.typ)
		}
		leftValue = left.integer
		if right != nil {
			if right.typ != ObjectInteger {
				return nil, fmt.Errorf("%w: operator %q expects integer, got %s",
					ErrTypeMismatch, operator.String(), right.typ)
			}
			rightValue = right.integer
		}
	}

	var result int64
	switch operator {
	case compiler.TokenIncrement:
		result = leftValue + 1
	case compiler.TokenDecrement:
		result = leftValue - 1
	case compiler.TokenPlus:
		result = leftValue + rightValue
	case compiler.TokenMinus:
		if right != nil {
			result = leftValue - rightValue
		} else {
			result = -leftValue
		}
	case compiler.TokenStar:
		result = leftValue * rightValue
	case compiler.TokenSlash, compiler.TokenPercent:
		if rightValue == 0 {
			return nil, fmt.Errorf("%w: divide by zero", ErrRange)
		}
		if operator == compiler.TokenSlash {
			result = leftValue / rightValue
		} else {
			result = leftValue % rightValue
		}
	case compiler.TokenShl:
		result = leftValue << uint64(rightValue)
	case compiler.TokenShr:
		result = leftValue >> uint64(rightValue)
	case compiler.TokenAmp:
		result = leftValue & rightValue
	case compiler.TokenPipe:
		result = leftValue | rightValue
	case compiler.TokenCaret:
		result = leftValue ^ rightValue
	case compiler.TokenTilde:
		result = ^leftValue
	case compiler.TokenNot:
		result = boolInt(leftValue == 0)
	case compiler.TokenLogicalAnd:
		result = boolInt(leftValue != 0 && rightValue != 0)
	case compiler.TokenLogicalOr:
		result = boolInt(leftValue != 0 || rightValue != 0)
	case compiler.TokenLess:
		result = boolInt(leftValue < rightValue)
	case compiler.TokenGreater:
		result = boolInt(leftValue > rightValue)
	case compiler.TokenLessEqual:
		result = boolInt(leftValue <= rightValue)
	case compiler.TokenGreaterEqual:
		result = boolInt(leftValue >= rightValue)
	case compiler.TokenEqual:
		result = boolInt(leftValue == rightValue)
	case compiler.TokenNotEqual:
		result = boolInt(leftValue != rightValue)
	default:
		return nil, fmt.Errorf("unhandled operator %q", operator.String())
	}
	return NewInteger(result), nil
}

// compoundBase maps a compound assignment operator to its arithmetic form.
var compoundBase = map[compiler.TokenType]compiler.TokenType{
	compiler.TokenPlusAssign:    compiler.TokenPlus,
	compiler.TokenMinusAssign:   compiler.TokenMinus,
	compiler.TokenStarAssign:    compiler.TokenStar,
	compiler.TokenSlashAssign:   compiler.TokenSlash,
	compiler.TokenPercentAssign: compiler.TokenPercent,
	compiler.TokenShlAssign:     compiler.TokenShl,
	compiler.TokenShrAssign:     compiler.TokenShr,
	compiler.TokenAndAssign:     compiler.TokenAmp,
	compiler.TokenXorAssign:     compiler.TokenCaret,
	compiler.TokenOrAssign:      compiler.TokenPipe,
}
