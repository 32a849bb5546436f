package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Parser: recursive-descent parser for the Chalk grammar
// ---------------------------------------------------------------------------

// Error is a parse or evaluation diagnostic tied to a source location.
// It renders as "path:line:col: message".
type Error struct {
	Path    string
	Pos     Position
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Pos.Line, e.Pos.Column, e.Message)
}

// Errorf builds a positioned diagnostic.
func Errorf(path string, pos Position, format string, args ...interface{}) *Error {
	return &Error{Path: path, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Parser turns a token stream into a parse tree.
type Parser struct {
	path   string
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a Chalk source buffer, returning the
// translation-unit root.
func Parse(path string, source []byte) (*Node, error) {
	lexer := NewLexer(string(source))
	tokens := lexer.Tokenize()
	last := tokens[len(tokens)-1]
	if last.Type == TokenError {
		return nil, Errorf(path, last.Pos, "%s", last.Literal)
	}
	p := &Parser{path: path, tokens: tokens}
	return p.parseTranslationUnit()
}

// cur returns the current token.
func (p *Parser) cur() Token {
	return p.tokens[p.pos]
}

// advance consumes the current token and returns it.
func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

// expect consumes a token of the given type or fails.
func (p *Parser) expect(typ TokenType) (Token, error) {
	tok := p.cur()
	if tok.Type != typ {
		return tok, p.errorf("expected %q, got %s", typ.String(), tok)
	}
	return p.advance(), nil
}

// errorf builds a diagnostic at the current token.
func (p *Parser) errorf(format string, args ...interface{}) error {
	return Errorf(p.path, p.cur().Pos, format, args...)
}

// newNode allocates a parse node positioned at the given token.
func newNode(kind NodeKind, at Token) *Node {
	return &Node{Kind: kind, Pos: at.Pos}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

// parseTranslationUnit parses external declarations until EOF.
func (p *Parser) parseTranslationUnit() (*Node, error) {
	unit := newNode(NodeTranslationUnit, p.cur())
	for p.cur().Type != TokenEOF {
		var (
			decl *Node
			err  error
		)
		if p.cur().Type == TokenFunction {
			decl, err = p.parseFunctionDefinition()
		} else {
			decl, err = p.parseStatement()
		}
		if err != nil {
			return nil, err
		}
		unit.Children = append(unit.Children, decl)
	}
	return unit, nil
}

// parseFunctionDefinition parses
// 'function' identifier '(' identifier-list? ')' compound-statement.
func (p *Parser) parseFunctionDefinition() (*Node, error) {
	keyword, err := p.expect(TokenFunction)
	if err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	args := newNode(NodeIdentifierList, p.cur())
	for p.cur().Type != TokenRParen {
		arg, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		args.Tokens = append(args.Tokens, arg)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.parseCompoundStatement()
	if err != nil {
		return nil, err
	}
	def := newNode(NodeFunctionDefinition, keyword)
	def.Tokens = []Token{name}
	def.Children = []*Node{args, body}
	return def, nil
}

// parseStatement dispatches on the statement's leading token.
func (p *Parser) parseStatement() (*Node, error) {
	switch p.cur().Type {
	case TokenLBrace:
		return p.parseCompoundStatement()
	case TokenIf:
		return p.parseSelectionStatement()
	case TokenWhile, TokenDo, TokenFor:
		return p.parseIterationStatement()
	case TokenReturn, TokenBreak, TokenContinue:
		return p.parseJumpStatement()
	}
	return p.parseExpressionStatement()
}

// parseCompoundStatement parses '{' statement* '}'.
func (p *Parser) parseCompoundStatement() (*Node, error) {
	open, err := p.expect(TokenLBrace)
	if err != nil {
		return nil, err
	}
	block := newNode(NodeCompoundStatement, open)
	for p.cur().Type != TokenRBrace {
		if p.cur().Type == TokenEOF {
			return nil, p.errorf("unexpected EOF inside block")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Children = append(block.Children, stmt)
	}
	p.advance()
	return block, nil
}

// parseExpressionStatement parses expression? ';'. The empty statement has
// no children.
func (p *Parser) parseExpressionStatement() (*Node, error) {
	stmt := newNode(NodeExpressionStatement, p.cur())
	if p.cur().Type != TokenSemicolon {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Children = []*Node{expr}
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseSelectionStatement parses 'if' '(' expr ')' stmt ('else' stmt)?.
func (p *Parser) parseSelectionStatement() (*Node, error) {
	keyword, err := p.expect(TokenIf)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := newNode(NodeSelectionStatement, keyword)
	stmt.Tokens = []Token{keyword}
	stmt.Children = []*Node{cond, then}
	if p.cur().Type == TokenElse {
		p.advance()
		alt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Children = append(stmt.Children, alt)
	}
	return stmt, nil
}

// parseIterationStatement parses while, do-while, and for loops.
//
// Child layouts:
//
//	while:    [condition, body]
//	do-while: [body, condition]
//	for:      [init, condition, step?, body]
func (p *Parser) parseIterationStatement() (*Node, error) {
	keyword := p.advance()
	stmt := newNode(NodeIterationStatement, keyword)
	stmt.Tokens = []Token{keyword}
	switch keyword.Type {
	case TokenWhile:
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Children = []*Node{cond, body}

	case TokenDo:
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenWhile); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		stmt.Children = []*Node{body, cond}

	case TokenFor:
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		init, err := p.parseExpressionStatement()
		if err != nil {
			return nil, err
		}
		cond, err := p.parseExpressionStatement()
		if err != nil {
			return nil, err
		}
		stmt.Children = []*Node{init, cond}
		if p.cur().Type != TokenRParen {
			step, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			stmt.Children = append(stmt.Children, step)
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Children = append(stmt.Children, body)
	}
	return stmt, nil
}

// parseJumpStatement parses return/break/continue statements.
func (p *Parser) parseJumpStatement() (*Node, error) {
	keyword := p.advance()
	stmt := newNode(NodeJumpStatement, keyword)
	stmt.Tokens = []Token{keyword}
	if keyword.Type == TokenReturn && p.cur().Type != TokenSemicolon {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Children = []*Node{expr}
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpression parses the comma expression. Single-element expressions
// collapse to the element.
func (p *Parser) parseExpression() (*Node, error) {
	first, err := p.parseAssignmentExpression()
	if err != nil {
		return nil, err
	}
	if p.cur().Type != TokenComma {
		return first, nil
	}
	expr := &Node{Kind: NodeExpression, Pos: first.Pos, Children: []*Node{first}}
	for p.cur().Type == TokenComma {
		p.advance()
		next, err := p.parseAssignmentExpression()
		if err != nil {
			return nil, err
		}
		expr.Children = append(expr.Children, next)
	}
	return expr, nil
}

// parseAssignmentExpression parses right-associative assignment. Whether
// the left side is actually assignable is a runtime question answered by
// the LValue cursor, not a grammar one.
func (p *Parser) parseAssignmentExpression() (*Node, error) {
	left, err := p.parseConditionalExpression()
	if err != nil {
		return nil, err
	}
	if !p.cur().Type.IsAssignmentOperator() {
		return left, nil
	}
	op := p.advance()
	right, err := p.parseAssignmentExpression()
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:     NodeAssignmentExpression,
		Pos:      left.Pos,
		Tokens:   []Token{op},
		Children: []*Node{left, right},
	}, nil
}

// parseConditionalExpression parses cond '?' expr ':' conditional.
func (p *Parser) parseConditionalExpression() (*Node, error) {
	cond, err := p.parseBinaryExpression(0)
	if err != nil {
		return nil, err
	}
	if p.cur().Type != TokenQuestion {
		return cond, nil
	}
	q := p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	alt, err := p.parseConditionalExpression()
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:     NodeConditionalExpression,
		Pos:      cond.Pos,
		Tokens:   []Token{q},
		Children: []*Node{cond, then, alt},
	}, nil
}

// binaryLevels orders the binary fold expressions from loosest to tightest.
// Each level produces one flat node: operands in Children, operators in
// Tokens, folded left to right by the evaluator.
var binaryLevels = []struct {
	kind      NodeKind
	operators []TokenType
}{
	{NodeLogicalOrExpression, []TokenType{TokenLogicalOr}},
	{NodeLogicalAndExpression, []TokenType{TokenLogicalAnd}},
	{NodeInclusiveOrExpression, []TokenType{TokenPipe}},
	{NodeExclusiveOrExpression, []TokenType{TokenCaret}},
	{NodeAndExpression, []TokenType{TokenAmp}},
	{NodeEqualityExpression, []TokenType{TokenEqual, TokenNotEqual}},
	{NodeRelationalExpression, []TokenType{
		TokenLess, TokenGreater, TokenLessEqual, TokenGreaterEqual,
	}},
	{NodeShiftExpression, []TokenType{TokenShl, TokenShr}},
	{NodeAdditiveExpression, []TokenType{TokenPlus, TokenMinus}},
	{NodeMultiplicativeExpression, []TokenType{
		TokenStar, TokenSlash, TokenPercent,
	}},
}

// parseBinaryExpression parses the fold expression at the given level.
func (p *Parser) parseBinaryExpression(level int) (*Node, error) {
	if level >= len(binaryLevels) {
		return p.parseUnaryExpression()
	}
	spec := binaryLevels[level]
	first, err := p.parseBinaryExpression(level + 1)
	if err != nil {
		return nil, err
	}
	if !tokenIn(p.cur().Type, spec.operators) {
		return first, nil
	}
	node := &Node{Kind: spec.kind, Pos: first.Pos, Children: []*Node{first}}
	for tokenIn(p.cur().Type, spec.operators) {
		node.Tokens = append(node.Tokens, p.advance())
		operand, err := p.parseBinaryExpression(level + 1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, operand)
	}
	return node, nil
}

func tokenIn(typ TokenType, set []TokenType) bool {
	for _, t := range set {
		if t == typ {
			return true
		}
	}
	return false
}

// parseUnaryExpression parses prefix operators and increments.
func (p *Parser) parseUnaryExpression() (*Node, error) {
	switch p.cur().Type {
	case TokenPlus, TokenMinus, TokenTilde, TokenNot,
		TokenIncrement, TokenDecrement:

		op := p.advance()
		operand, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		return &Node{
			Kind:     NodeUnaryExpression,
			Pos:      op.Pos,
			Tokens:   []Token{op},
			Children: []*Node{operand},
		}, nil
	}
	return p.parsePostfixExpression()
}

// parsePostfixExpression parses a primary expression followed by a
// left-to-right suffix sequence. Suffixes are recorded in Tokens: a '['
// or '(' token consumes the next child (index expression or argument
// list), '++' and '--' stand alone.
func (p *Parser) parsePostfixExpression() (*Node, error) {
	base, err := p.parsePrimaryExpression()
	if err != nil {
		return nil, err
	}
	node := &Node{Kind: NodePostfixExpression, Pos: base.Pos, Children: []*Node{base}}
	for {
		switch p.cur().Type {
		case TokenLBracket:
			node.Tokens = append(node.Tokens, p.advance())
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			node.Children = append(node.Children, index)

		case TokenLParen:
			node.Tokens = append(node.Tokens, p.advance())
			args := newNode(NodeArgumentExpressionList, p.cur())
			for p.cur().Type != TokenRParen {
				arg, err := p.parseAssignmentExpression()
				if err != nil {
					return nil, err
				}
				args.Children = append(args.Children, arg)
				if p.cur().Type != TokenComma {
					break
				}
				p.advance()
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
			node.Children = append(node.Children, args)

		case TokenIncrement, TokenDecrement:
			node.Tokens = append(node.Tokens, p.advance())

		default:
			if len(node.Tokens) == 0 {
				return base, nil
			}
			return node, nil
		}
	}
}

// parsePrimaryExpression parses identifiers, constants, string literals,
// parenthesized expressions, and list and dict literals.
func (p *Parser) parsePrimaryExpression() (*Node, error) {
	tok := p.cur()
	switch tok.Type {
	case TokenIdentifier, TokenInteger, TokenString:
		p.advance()
		return &Node{
			Kind:   NodePrimaryExpression,
			Pos:    tok.Pos,
			Tokens: []Token{tok},
		}, nil

	case TokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &Node{
			Kind:     NodePrimaryExpression,
			Pos:      tok.Pos,
			Children: []*Node{inner},
		}, nil

	case TokenLBracket:
		return p.parseListLiteral()

	case TokenLBrace:
		return p.parseDictLiteral()
	}
	return nil, p.errorf("unexpected token %s in expression", tok)
}

// parseListLiteral parses '[' elements? ','? ']'.
func (p *Parser) parseListLiteral() (*Node, error) {
	open, err := p.expect(TokenLBracket)
	if err != nil {
		return nil, err
	}
	list := newNode(NodeList, open)
	if p.cur().Type != TokenRBracket {
		elements := newNode(NodeListElementList, p.cur())
		for {
			element, err := p.parseAssignmentExpression()
			if err != nil {
				return nil, err
			}
			elements.Children = append(elements.Children, element)
			if p.cur().Type != TokenComma {
				break
			}
			p.advance()
			if p.cur().Type == TokenRBracket {
				break
			}
		}
		list.Children = []*Node{elements}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return list, nil
}

// parseDictLiteral parses '{' (key ':' value)* ','? '}'.
func (p *Parser) parseDictLiteral() (*Node, error) {
	open, err := p.expect(TokenLBrace)
	if err != nil {
		return nil, err
	}
	dict := newNode(NodeDict, open)
	if p.cur().Type != TokenRBrace {
		entries := newNode(NodeDictEntryList, p.cur())
		for {
			key, err := p.parseConditionalExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenColon); err != nil {
				return nil, err
			}
			value, err := p.parseAssignmentExpression()
			if err != nil {
				return nil, err
			}
			entry := &Node{
				Kind:     NodeDictEntry,
				Pos:      key.Pos,
				Children: []*Node{key, value},
			}
			entries.Children = append(entries.Children, entry)
			if p.cur().Type != TokenComma {
				break
			}
			p.advance()
			if p.cur().Type == TokenRBrace {
				break
			}
		}
		dict.Children = []*Node{entries}
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return dict, nil
}
