package compiler

import (
	"strings"
	"testing"
)

func parseOne(t *testing.T, source string) *Node {
	t.Helper()
	root, err := Parse("test.ck", []byte(source))
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", source, err)
	}
	if root.Kind != NodeTranslationUnit {
		t.Fatalf("root kind = %s, want TranslationUnit", root.Kind)
	}
	if len(root.Children) != 1 {
		t.Fatalf("got %d declarations, want 1", len(root.Children))
	}
	return root.Children[0]
}

func TestParsePrecedence(t *testing.T) {
	stmt := parseOne(t, "a = 1 + 2 * 3;")
	if stmt.Kind != NodeExpressionStatement {
		t.Fatalf("stmt kind = %s", stmt.Kind)
	}
	assign := stmt.Children[0]
	if assign.Kind != NodeAssignmentExpression {
		t.Fatalf("kind = %s, want AssignmentExpression", assign.Kind)
	}
	add := assign.Children[1]
	if add.Kind != NodeAdditiveExpression {
		t.Fatalf("rhs kind = %s, want AdditiveExpression", add.Kind)
	}
	if len(add.Children) != 2 || add.Tokens[0].Type != TokenPlus {
		t.Fatalf("additive shape wrong: %s", add)
	}
	if add.Children[1].Kind != NodeMultiplicativeExpression {
		t.Errorf("addend kind = %s, want MultiplicativeExpression", add.Children[1].Kind)
	}
}

func TestParseFoldIsFlat(t *testing.T) {
	stmt := parseOne(t, "x = 1 + 2 - 3 + 4;")
	add := stmt.Children[0].Children[1]
	if add.Kind != NodeAdditiveExpression {
		t.Fatalf("kind = %s", add.Kind)
	}
	if len(add.Children) != 4 || len(add.Tokens) != 3 {
		t.Fatalf("want 4 operands and 3 operators, got %d/%d",
			len(add.Children), len(add.Tokens))
	}
	wantOps := []TokenType{TokenPlus, TokenMinus, TokenPlus}
	for i, op := range wantOps {
		if add.Tokens[i].Type != op {
			t.Errorf("operator %d = %s, want %s", i, add.Tokens[i].Type, op)
		}
	}
}

func TestParseSingleOperandCollapses(t *testing.T) {
	stmt := parseOne(t, "x;")
	expr := stmt.Children[0]
	if expr.Kind != NodePrimaryExpression {
		t.Errorf("bare identifier parses to %s, want PrimaryExpression", expr.Kind)
	}
}

func TestParsePostfixSuffixes(t *testing.T) {
	stmt := parseOne(t, "a[1][2]++;")
	post := stmt.Children[0]
	if post.Kind != NodePostfixExpression {
		t.Fatalf("kind = %s", post.Kind)
	}
	if len(post.Children) != 3 {
		t.Fatalf("children = %d, want 3 (base + 2 indexes)", len(post.Children))
	}
	wantSuffixes := []TokenType{TokenLBracket, TokenLBracket, TokenIncrement}
	if len(post.Tokens) != len(wantSuffixes) {
		t.Fatalf("suffix tokens = %d, want %d", len(post.Tokens), len(wantSuffixes))
	}
	for i, typ := range wantSuffixes {
		if post.Tokens[i].Type != typ {
			t.Errorf("suffix %d = %s, want %s", i, post.Tokens[i].Type, typ)
		}
	}
}

func TestParseCall(t *testing.T) {
	stmt := parseOne(t, "f(1, x, \"s\");")
	post := stmt.Children[0]
	if post.Kind != NodePostfixExpression {
		t.Fatalf("kind = %s", post.Kind)
	}
	if post.Tokens[0].Type != TokenLParen {
		t.Fatalf("suffix = %s, want (", post.Tokens[0].Type)
	}
	args := post.Children[1]
	if args.Kind != NodeArgumentExpressionList || len(args.Children) != 3 {
		t.Fatalf("argument list shape wrong: %s", args)
	}
}

func TestParseFunctionDefinition(t *testing.T) {
	def := parseOne(t, "function add(a, b) { return a + b; }")
	if def.Kind != NodeFunctionDefinition {
		t.Fatalf("kind = %s", def.Kind)
	}
	if def.Leaf().Literal != "add" {
		t.Errorf("name = %q, want add", def.Leaf().Literal)
	}
	args := def.Children[0]
	if args.Kind != NodeIdentifierList || len(args.Tokens) != 2 {
		t.Fatalf("arg list shape wrong: %v", args)
	}
	if def.Children[1].Kind != NodeCompoundStatement {
		t.Errorf("body kind = %s", def.Children[1].Kind)
	}
}

func TestParseIterationLayouts(t *testing.T) {
	while := parseOne(t, "while (x) { }")
	if while.Tokens[0].Type != TokenWhile || len(while.Children) != 2 {
		t.Errorf("while shape wrong: %s", while)
	}

	doWhile := parseOne(t, "do { } while (x);")
	if doWhile.Tokens[0].Type != TokenDo || len(doWhile.Children) != 2 {
		t.Errorf("do-while shape wrong: %s", doWhile)
	}
	if doWhile.Children[0].Kind != NodeCompoundStatement {
		t.Errorf("do-while body must be child 0")
	}

	forFull := parseOne(t, "for (i = 0; i < 10; i += 1) { }")
	if forFull.Tokens[0].Type != TokenFor || len(forFull.Children) != 4 {
		t.Errorf("for shape wrong: %s", forFull)
	}

	forNoStep := parseOne(t, "for (; x;) { }")
	if len(forNoStep.Children) != 3 {
		t.Errorf("stepless for has %d children, want 3", len(forNoStep.Children))
	}
	if len(forNoStep.Children[0].Children) != 0 {
		t.Errorf("empty init should have no children")
	}
}

func TestParseSelection(t *testing.T) {
	withElse := parseOne(t, "if (a) b = 1; else b = 2;")
	if withElse.Kind != NodeSelectionStatement || len(withElse.Children) != 3 {
		t.Errorf("if-else shape wrong: %s", withElse)
	}
	noElse := parseOne(t, "if (a) { }")
	if len(noElse.Children) != 2 {
		t.Errorf("if shape wrong: %s", noElse)
	}
}

func TestParseListAndDictLiterals(t *testing.T) {
	stmt := parseOne(t, "x = [1, 2, 3];")
	list := stmt.Children[0].Children[1]
	if list.Kind != NodeList {
		t.Fatalf("kind = %s", list.Kind)
	}
	if len(list.Children[0].Children) != 3 {
		t.Errorf("list element count = %d", len(list.Children[0].Children))
	}

	stmt = parseOne(t, `d = {"a": 1, 2: "two",};`)
	dict := stmt.Children[0].Children[1]
	if dict.Kind != NodeDict {
		t.Fatalf("kind = %s", dict.Kind)
	}
	entries := dict.Children[0]
	if len(entries.Children) != 2 {
		t.Fatalf("entry count = %d", len(entries.Children))
	}
	if entries.Children[0].Kind != NodeDictEntry ||
		len(entries.Children[0].Children) != 2 {
		t.Errorf("entry shape wrong: %s", entries.Children[0])
	}

	stmt = parseOne(t, "e = {}; ")
	if stmt.Children[0].Children[1].Kind != NodeDict {
		t.Errorf("empty dict literal did not parse")
	}
}

func TestParseTernary(t *testing.T) {
	stmt := parseOne(t, "x = a ? 1 : 2;")
	cond := stmt.Children[0].Children[1]
	if cond.Kind != NodeConditionalExpression || len(cond.Children) != 3 {
		t.Errorf("ternary shape wrong: %s", cond)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"a = ;",
		"if (a { }",
		"function () { }",
		"while (a)",
		"a = 1",
		"{ a = 1; ",
		"a = }",
	}
	for _, source := range tests {
		if _, err := Parse("bad.ck", []byte(source)); err == nil {
			t.Errorf("Parse(%q): expected error", source)
		}
	}
}

func TestParseErrorFormat(t *testing.T) {
	_, err := Parse("scripts/init.ck", []byte("a = ;"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "scripts/init.ck:1:") {
		t.Errorf("diagnostic %q does not lead with path:line:", msg)
	}
}

func TestParseAssignmentRightAssociative(t *testing.T) {
	stmt := parseOne(t, "a = b = 3;")
	outer := stmt.Children[0]
	if outer.Kind != NodeAssignmentExpression {
		t.Fatalf("kind = %s", outer.Kind)
	}
	if outer.Children[1].Kind != NodeAssignmentExpression {
		t.Errorf("rhs kind = %s, want nested assignment", outer.Children[1].Kind)
	}
}
