package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Chalk syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes Chalk source code. Chalk source is treated as a byte
// sequence; string literals may carry arbitrary bytes via \xHH escapes.
type Lexer struct {
	input string
	pos   int  // current position in input
	ch    byte // current character (0 at EOF)
	line  int  // current line (1-based)
	col   int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
		pos:   -1,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.pos++
	if l.pos >= len(l.input) {
		l.ch = 0
		return
	}
	l.ch = l.input[l.pos]
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{Type: TokenError, Literal: err.Error(), Pos: l.position()}
	}

	pos := l.position()
	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case isIdentStart(l.ch):
		lit := l.readIdentifier()
		if kw, ok := keywords[lit]; ok {
			return Token{Type: kw, Literal: lit, Pos: pos}
		}
		return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}
	case isDigit(l.ch):
		return l.readNumber(pos)
	case l.ch == '"':
		return l.readString(pos)
	}
	return l.readOperator(pos)
}

// Tokenize scans the entire input, stopping after EOF or an error token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

// skipWhitespaceAndComments consumes whitespace, // comments, and /* */
// comments. An unterminated block comment is an error.
func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' ||
			l.ch == '\v' || l.ch == '\f':

			l.readChar()

		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}

		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for {
				if l.ch == 0 {
					return fmt.Errorf("unterminated block comment")
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}

		default:
			return nil
		}
	}
}

// readIdentifier consumes an identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isIdentStart(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber consumes a decimal, hex (0x), or octal (0 prefix) integer.
// Validation of the digits against the radix is left to the evaluator,
// matching the grammar's treatment of constants as opaque tokens.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
	} else {
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readString consumes a double-quoted string literal. The returned literal
// includes the surrounding quotes; escapes are decoded later by
// UnquoteString when the literal is evaluated.
func (l *Lexer) readString(pos Position) Token {
	start := l.pos
	l.readChar()
	for l.ch != '"' {
		if l.ch == 0 || l.ch == '\n' {
			return Token{
				Type:    TokenError,
				Literal: "unterminated string literal",
				Pos:     pos,
			}
		}
		if l.ch == '\\' {
			l.readChar()
			if l.ch == 0 {
				continue
			}
		}
		l.readChar()
	}
	l.readChar()
	return Token{Type: TokenString, Literal: l.input[start:l.pos], Pos: pos}
}

// operatorTable maps operator spellings to token types, longest first.
var operatorTable = []struct {
	text string
	typ  TokenType
}{
	{"<<=", TokenShlAssign},
	{">>=", TokenShrAssign},
	{"++", TokenIncrement},
	{"--", TokenDecrement},
	{"<<", TokenShl},
	{">>", TokenShr},
	{"<=", TokenLessEqual},
	{">=", TokenGreaterEqual},
	{"==", TokenEqual},
	{"!=", TokenNotEqual},
	{"&&", TokenLogicalAnd},
	{"||", TokenLogicalOr},
	{"+=", TokenPlusAssign},
	{"-=", TokenMinusAssign},
	{"*=", TokenStarAssign},
	{"/=", TokenSlashAssign},
	{"%=", TokenPercentAssign},
	{"&=", TokenAndAssign},
	{"^=", TokenXorAssign},
	{"|=", TokenOrAssign},
	{"(", TokenLParen},
	{")", TokenRParen},
	{"[", TokenLBracket},
	{"]", TokenRBracket},
	{"{", TokenLBrace},
	{"}", TokenRBrace},
	{",", TokenComma},
	{";", TokenSemicolon},
	{":", TokenColon},
	{"?", TokenQuestion},
	{"=", TokenAssign},
	{"+", TokenPlus},
	{"-", TokenMinus},
	{"*", TokenStar},
	{"/", TokenSlash},
	{"%", TokenPercent},
	{"<", TokenLess},
	{">", TokenGreater},
	{"&", TokenAmp},
	{"^", TokenCaret},
	{"|", TokenPipe},
	{"!", TokenNot},
	{"~", TokenTilde},
}

// readOperator consumes a punctuation or operator token.
func (l *Lexer) readOperator(pos Position) Token {
	rest := l.input[l.pos:]
	for _, op := range operatorTable {
		if strings.HasPrefix(rest, op.text) {
			for range op.text {
				l.readChar()
			}
			return Token{Type: op.typ, Literal: op.text, Pos: pos}
		}
	}
	bad := l.ch
	l.readChar()
	return Token{
		Type:    TokenError,
		Literal: fmt.Sprintf("unexpected character %q", bad),
		Pos:     pos,
	}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// UnquoteString decodes a quoted Chalk string literal, processing the
// escapes \r \n \f \v \t \a \b \" \\ \xHH and up-to-three-digit octal
// escapes. Unknown escape characters pass through unchanged.
func UnquoteString(literal string) ([]byte, error) {
	if len(literal) < 2 || literal[0] != '"' || literal[len(literal)-1] != '"' {
		return nil, fmt.Errorf("malformed string literal %q", literal)
	}
	body := literal[1 : len(literal)-1]
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch != '\\' {
			out = append(out, ch)
			continue
		}
		i++
		if i >= len(body) {
			return nil, fmt.Errorf("trailing backslash in string literal")
		}
		switch body[i] {
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case 'f':
			out = append(out, '\f')
		case 'v':
			out = append(out, '\v')
		case 't':
			out = append(out, '\t')
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'x', 'X':
			value := 0
			digits := 0
			for digits < 2 && i+1 < len(body) && isHexDigit(body[i+1]) {
				i++
				digits++
				value = value*16 + hexValue(body[i])
			}
			if digits == 0 {
				return nil, fmt.Errorf("\\x escape with no hex digits")
			}
			out = append(out, byte(value))
		case '0', '1', '2', '3', '4', '5', '6', '7':
			value := int(body[i] - '0')
			digits := 1
			for digits < 3 && i+1 < len(body) &&
				body[i+1] >= '0' && body[i+1] <= '7' {

				i++
				digits++
				value = value*8 + int(body[i]-'0')
			}
			out = append(out, byte(value))
		default:
			// Unknown escapes pass the character through.
			out = append(out, body[i])
		}
	}
	return out, nil
}

func hexValue(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	default:
		return int(ch-'A') + 10
	}
}
