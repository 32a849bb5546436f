package compiler

import (
	"bytes"
	"testing"
)

func TestLexerOperators(t *testing.T) {
	input := "+ - * / % << >> <<= >>= ++ -- == != <= >= && || = += ^ ~ !"
	want := []TokenType{
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent,
		TokenShl, TokenShr, TokenShlAssign, TokenShrAssign,
		TokenIncrement, TokenDecrement, TokenEqual, TokenNotEqual,
		TokenLessEqual, TokenGreaterEqual, TokenLogicalAnd, TokenLogicalOr,
		TokenAssign, TokenPlusAssign, TokenCaret, TokenTilde, TokenNot,
		TokenEOF,
	}
	tokens := NewLexer(input).Tokenize()
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Errorf("token %d = %s, want %s", i, tokens[i], typ)
		}
	}
}

func TestLexerIntegers(t *testing.T) {
	tests := []struct {
		input   string
		literal string
	}{
		{"42", "42"},
		{"0", "0"},
		{"0x1F", "0x1F"},
		{"0755", "0755"},
	}
	for _, tt := range tests {
		tok := NewLexer(tt.input).NextToken()
		if tok.Type != TokenInteger {
			t.Errorf("%q: type = %s, want INTEGER", tt.input, tok.Type)
		}
		if tok.Literal != tt.literal {
			t.Errorf("%q: literal = %q, want %q", tt.input, tok.Literal, tt.literal)
		}
	}
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	tokens := NewLexer("if whileLoop function _x do2").Tokenize()
	want := []struct {
		typ     TokenType
		literal string
	}{
		{TokenIf, "if"},
		{TokenIdentifier, "whileLoop"},
		{TokenFunction, "function"},
		{TokenIdentifier, "_x"},
		{TokenIdentifier, "do2"},
	}
	for i, w := range want {
		if tokens[i].Type != w.typ || tokens[i].Literal != w.literal {
			t.Errorf("token %d = %s, want %s(%q)", i, tokens[i], w.typ, w.literal)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := "a // line comment\n/* block\ncomment */ b"
	tokens := NewLexer(input).Tokenize()
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3: %v", len(tokens), tokens)
	}
	if tokens[0].Literal != "a" || tokens[1].Literal != "b" {
		t.Errorf("unexpected tokens: %v", tokens)
	}
	if tokens[1].Pos.Line != 3 {
		t.Errorf("token b on line %d, want 3", tokens[1].Pos.Line)
	}
}

func TestLexerUnterminatedComment(t *testing.T) {
	tokens := NewLexer("a /* never closed").Tokenize()
	last := tokens[len(tokens)-1]
	if last.Type != TokenError {
		t.Fatalf("expected error token, got %v", tokens)
	}
}

func TestLexerStrings(t *testing.T) {
	tok := NewLexer(`"hello\n"`).NextToken()
	if tok.Type != TokenString {
		t.Fatalf("type = %s, want STRING", tok.Type)
	}
	if tok.Literal != `"hello\n"` {
		t.Errorf("literal = %q, want raw quoted text", tok.Literal)
	}

	tok = NewLexer("\"no closing quote").NextToken()
	if tok.Type != TokenError {
		t.Errorf("unterminated string: type = %s, want ERROR", tok.Type)
	}
}

func TestUnquoteString(t *testing.T) {
	tests := []struct {
		literal string
		want    []byte
	}{
		{`"hello"`, []byte("hello")},
		{`""`, []byte{}},
		{`"a\tb\n"`, []byte("a\tb\n")},
		{`"\r\f\v\a\b"`, []byte("\r\f\v\a\b")},
		{`"he\x6c\154o"`, []byte("hello")},
		{`"\x41"`, []byte("A")},
		{`"\101"`, []byte("A")},
		{`"\0"`, []byte{0}},
		{`"\q"`, []byte("q")}, // unknown escape passes through
		{`"\""`, []byte(`"`)},
		{`"\\"`, []byte(`\`)},
	}
	for _, tt := range tests {
		got, err := UnquoteString(tt.literal)
		if err != nil {
			t.Errorf("UnquoteString(%q) error: %v", tt.literal, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("UnquoteString(%q) = %q, want %q", tt.literal, got, tt.want)
		}
	}
}

func TestUnquoteStringErrors(t *testing.T) {
	for _, literal := range []string{`"\x"`, `"unclosed`, "", `"trailing\`} {
		if _, err := UnquoteString(literal); err == nil {
			t.Errorf("UnquoteString(%q): expected error", literal)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	tokens := NewLexer("a = 1;\nbb = 2;").Tokenize()
	if tokens[0].Pos.Line != 1 || tokens[0].Pos.Column != 1 {
		t.Errorf("token a at %d:%d, want 1:1", tokens[0].Pos.Line, tokens[0].Pos.Column)
	}
	// "bb" starts the second line.
	var bb Token
	for _, tok := range tokens {
		if tok.Literal == "bb" {
			bb = tok
		}
	}
	if bb.Pos.Line != 2 || bb.Pos.Column != 1 {
		t.Errorf("token bb at %d:%d, want 2:1", bb.Pos.Line, bb.Pos.Column)
	}
}
