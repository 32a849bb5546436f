package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Parse nodes: grammar elements visited by the interpreter
// ---------------------------------------------------------------------------

// NodeKind identifies the grammar element a parse node represents. The
// interpreter's visitor table is indexed by this kind.
type NodeKind int

const (
	NodeInvalid NodeKind = iota
	NodeTranslationUnit
	NodeFunctionDefinition
	NodeIdentifierList
	NodeCompoundStatement
	NodeExpressionStatement
	NodeSelectionStatement
	NodeIterationStatement
	NodeJumpStatement
	NodeExpression
	NodeAssignmentExpression
	NodeConditionalExpression
	NodeLogicalOrExpression
	NodeLogicalAndExpression
	NodeInclusiveOrExpression
	NodeExclusiveOrExpression
	NodeAndExpression
	NodeEqualityExpression
	NodeRelationalExpression
	NodeShiftExpression
	NodeAdditiveExpression
	NodeMultiplicativeExpression
	NodeUnaryExpression
	NodePostfixExpression
	NodePrimaryExpression
	NodeArgumentExpressionList
	NodeList
	NodeListElementList
	NodeDict
	NodeDictEntryList
	NodeDictEntry
	NodeKindCount
)

var nodeKindNames = [NodeKindCount]string{
	NodeInvalid:                  "Invalid",
	NodeTranslationUnit:          "TranslationUnit",
	NodeFunctionDefinition:       "FunctionDefinition",
	NodeIdentifierList:           "IdentifierList",
	NodeCompoundStatement:        "CompoundStatement",
	NodeExpressionStatement:      "ExpressionStatement",
	NodeSelectionStatement:       "SelectionStatement",
	NodeIterationStatement:       "IterationStatement",
	NodeJumpStatement:            "JumpStatement",
	NodeExpression:               "Expression",
	NodeAssignmentExpression:     "AssignmentExpression",
	NodeConditionalExpression:    "ConditionalExpression",
	NodeLogicalOrExpression:      "LogicalOrExpression",
	NodeLogicalAndExpression:     "LogicalAndExpression",
	NodeInclusiveOrExpression:    "InclusiveOrExpression",
	NodeExclusiveOrExpression:    "ExclusiveOrExpression",
	NodeAndExpression:            "AndExpression",
	NodeEqualityExpression:       "EqualityExpression",
	NodeRelationalExpression:     "RelationalExpression",
	NodeShiftExpression:          "ShiftExpression",
	NodeAdditiveExpression:       "AdditiveExpression",
	NodeMultiplicativeExpression: "MultiplicativeExpression",
	NodeUnaryExpression:          "UnaryExpression",
	NodePostfixExpression:        "PostfixExpression",
	NodePrimaryExpression:        "PrimaryExpression",
	NodeArgumentExpressionList:   "ArgumentExpressionList",
	NodeList:                     "List",
	NodeListElementList:          "ListElementList",
	NodeDict:                     "Dict",
	NodeDictEntryList:            "DictEntryList",
	NodeDictEntry:                "DictEntry",
}

// String returns the grammar-element name.
func (k NodeKind) String() string {
	if k >= 0 && k < NodeKindCount {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is one element of the parse tree.
//
// Children hold the subexpressions in source order; the interpreter pushes
// them as execution frames. Tokens hold the terminals owned directly by
// this node: the literal of a leaf primary expression, the operator tokens
// of a fold expression (one fewer than the operand count), the keyword of
// an iteration or jump statement, or the postfix suffix markers.
type Node struct {
	Kind     NodeKind
	Pos      Position
	Tokens   []Token
	Children []*Node
}

// Leaf returns the node's first token. Valid only for nodes that carry one.
func (n *Node) Leaf() Token {
	return n.Tokens[0]
}

// String returns a compact debug rendering of the subtree.
func (n *Node) String() string {
	if len(n.Children) == 0 && len(n.Tokens) == 1 {
		return fmt.Sprintf("%s[%s]", n.Kind, n.Tokens[0])
	}
	s := n.Kind.String() + "("
	for i, child := range n.Children {
		if i > 0 {
			s += ", "
		}
		s += child.String()
	}
	return s + ")"
}
