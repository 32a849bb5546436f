package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Chalk lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 0x2A, 052
	TokenString     // "hello\n"
	TokenIdentifier // foo, Bar

	// Keywords
	TokenIf
	TokenElse
	TokenWhile
	TokenDo
	TokenFor
	TokenReturn
	TokenBreak
	TokenContinue
	TokenFunction

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :
	TokenQuestion  // ?

	// Operators
	TokenAssign        // =
	TokenPlusAssign    // +=
	TokenMinusAssign   // -=
	TokenStarAssign    // *=
	TokenSlashAssign   // /=
	TokenPercentAssign // %=
	TokenShlAssign     // <<=
	TokenShrAssign     // >>=
	TokenAndAssign     // &=
	TokenXorAssign     // ^=
	TokenOrAssign      // |=
	TokenPlus          // +
	TokenMinus         // -
	TokenStar          // *
	TokenSlash         // /
	TokenPercent       // %
	TokenIncrement     // ++
	TokenDecrement     // --
	TokenShl           // <<
	TokenShr           // >>
	TokenLess          // <
	TokenGreater       // >
	TokenLessEqual     // <=
	TokenGreaterEqual  // >=
	TokenEqual         // ==
	TokenNotEqual      // !=
	TokenAmp           // &
	TokenCaret         // ^
	TokenPipe          // |
	TokenLogicalAnd    // &&
	TokenLogicalOr     // ||
	TokenNot           // !
	TokenTilde         // ~
)

var tokenNames = map[TokenType]string{
	TokenEOF:           "EOF",
	TokenError:         "ERROR",
	TokenInteger:       "INTEGER",
	TokenString:        "STRING",
	TokenIdentifier:    "IDENTIFIER",
	TokenIf:            "if",
	TokenElse:          "else",
	TokenWhile:         "while",
	TokenDo:            "do",
	TokenFor:           "for",
	TokenReturn:        "return",
	TokenBreak:         "break",
	TokenContinue:      "continue",
	TokenFunction:      "function",
	TokenLParen:        "(",
	TokenRParen:        ")",
	TokenLBracket:      "[",
	TokenRBracket:      "]",
	TokenLBrace:        "{",
	TokenRBrace:        "}",
	TokenComma:         ",",
	TokenSemicolon:     ";",
	TokenColon:         ":",
	TokenQuestion:      "?",
	TokenAssign:        "=",
	TokenPlusAssign:    "+=",
	TokenMinusAssign:   "-=",
	TokenStarAssign:    "*=",
	TokenSlashAssign:   "/=",
	TokenPercentAssign: "%=",
	TokenShlAssign:     "<<=",
	TokenShrAssign:     ">>=",
	TokenAndAssign:     "&=",
	TokenXorAssign:     "^=",
	TokenOrAssign:      "|=",
	TokenPlus:          "+",
	TokenMinus:         "-",
	TokenStar:          "*",
	TokenSlash:         "/",
	TokenPercent:       "%",
	TokenIncrement:     "++",
	TokenDecrement:     "--",
	TokenShl:           "<<",
	TokenShr:           ">>",
	TokenLess:          "<",
	TokenGreater:       ">",
	TokenLessEqual:     "<=",
	TokenGreaterEqual:  ">=",
	TokenEqual:         "==",
	TokenNotEqual:      "!=",
	TokenAmp:           "&",
	TokenCaret:         "^",
	TokenPipe:          "|",
	TokenLogicalAnd:    "&&",
	TokenLogicalOr:     "||",
	TokenNot:           "!",
	TokenTilde:         "~",
}

// String returns the printable name of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

var keywords = map[string]TokenType{
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"do":       TokenDo,
	"for":      TokenFor,
	"return":   TokenReturn,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"function": TokenFunction,
}

// Position identifies a location in a source buffer.
type Position struct {
	Offset int // byte offset, 0-based
	Line   int // line number, 1-based
	Column int // column number, 1-based
}

// Token is a single lexical element.
type Token struct {
	Type    TokenType
	Literal string // raw source text (string literals keep their quotes)
	Pos     Position
}

// String returns a debug representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenInteger, TokenString, TokenIdentifier, TokenError:
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	return t.Type.String()
}

// IsAssignmentOperator returns true for = and the compound assignment forms.
func (t TokenType) IsAssignmentOperator() bool {
	switch t {
	case TokenAssign, TokenPlusAssign, TokenMinusAssign, TokenStarAssign,
		TokenSlashAssign, TokenPercentAssign, TokenShlAssign, TokenShrAssign,
		TokenAndAssign, TokenXorAssign, TokenOrAssign:
		return true
	}
	return false
}
