package vm

import (
	"testing"

	"github.com/minoca/chalkos/compiler"
)

func TestObjectReferenceCounting(t *testing.T) {
	o := NewInteger(42)
	if o.ReferenceCount() != 1 {
		t.Fatalf("fresh object count = %d, want 1", o.ReferenceCount())
	}
	o.AddReference()
	if o.ReferenceCount() != 2 {
		t.Fatalf("count after add = %d, want 2", o.ReferenceCount())
	}
	o.ReleaseReference()
	o.ReleaseReference()
	if o.Type() != ObjectInvalid {
		t.Fatalf("destroyed object type = %s, want INVALID", o.Type())
	}
}

func TestListReleaseCascades(t *testing.T) {
	inner := NewInteger(7)
	list := NewList([]*Object{inner})
	if inner.ReferenceCount() != 2 {
		t.Fatalf("inner count = %d, want 2", inner.ReferenceCount())
	}
	list.ReleaseReference()
	if inner.ReferenceCount() != 1 {
		t.Fatalf("inner count after list release = %d, want 1", inner.ReferenceCount())
	}
	inner.ReleaseReference()
}

func TestListSetGrows(t *testing.T) {
	list := NewList(nil)
	defer list.ReleaseReference()
	nine := NewInteger(9)
	defer nine.ReleaseReference()
	if err := list.ListSet(5, nine); err != nil {
		t.Fatalf("ListSet: %v", err)
	}
	if list.ListLength() != 6 {
		t.Fatalf("length = %d, want 6", list.ListLength())
	}
	if got := list.ListGet(5); got == nil || got.Integer() != 9 {
		t.Fatalf("slot 5 = %v, want 9", got)
	}
	for i := 0; i < 5; i++ {
		if list.ListGet(i) != nil {
			t.Fatalf("slot %d should be unset", i)
		}
	}
	if err := list.ListSet(-1, nine); err == nil {
		t.Fatal("negative index should fail")
	}
}

func TestDictInsertionOrderAndReplace(t *testing.T) {
	dict, err := NewDict(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dict.ReleaseReference()
	set := func(key, value *Object) {
		t.Helper()
		if err := dict.DictSet(key, value); err != nil {
			t.Fatalf("DictSet: %v", err)
		}
		key.ReleaseReference()
		value.ReleaseReference()
	}
	set(NewString([]byte("b")), NewInteger(1))
	set(NewInteger(3), NewInteger(2))
	set(NewString([]byte("b")), NewInteger(9))
	if dict.DictLength() != 2 {
		t.Fatalf("length = %d, want 2", dict.DictLength())
	}
	keys := dict.dictKeys()
	if string(keys[0].StringBytes()) != "b" || keys[1].Integer() != 3 {
		t.Fatalf("insertion order lost: %v", keys)
	}
	if got := dict.DictGetString("b"); got.Integer() != 9 {
		t.Fatalf("replaced value = %d, want 9", got.Integer())
	}
}

func TestDictRejectsBadKeyTypes(t *testing.T) {
	dict, _ := NewDict(nil)
	defer dict.ReleaseReference()
	badKey := NewList(nil)
	defer badKey.ReleaseReference()
	value := NewInteger(1)
	defer value.ReleaseReference()
	if err := dict.DictSet(badKey, value); err == nil {
		t.Fatal("list key should be rejected")
	}
}

func TestGetBooleanValue(t *testing.T) {
	emptyDict, _ := NewDict(nil)
	fullDict, _ := NewDict(nil)
	key := NewInteger(1)
	fullDict.DictSet(key, key)
	key.ReleaseReference()
	tests := []struct {
		name string
		o    *Object
		want bool
	}{
		{"zero", NewInteger(0), false},
		{"nonzero", NewInteger(-3), true},
		{"empty string", NewString(nil), false},
		{"string", NewString([]byte("x")), true},
		{"empty list", NewList(nil), false},
		{"empty dict", emptyDict, false},
		{"dict", fullDict, true},
	}
	for _, tt := range tests {
		if got := tt.o.GetBooleanValue(); got != tt.want {
			t.Errorf("%s: boolean = %v, want %v", tt.name, got, tt.want)
		}
		tt.o.ReleaseReference()
	}
}

func TestCopySemantics(t *testing.T) {
	number := NewInteger(5)
	defer number.ReleaseReference()
	copied := number.Copy()
	if copied == number {
		t.Fatal("integer copy should be a distinct object")
	}
	copied.ReleaseReference()

	list := NewList(nil)
	defer list.ReleaseReference()
	alias := list.Copy()
	if alias != list {
		t.Fatal("list copy should alias the original")
	}
	if list.ReferenceCount() != 2 {
		t.Fatalf("aliased list count = %d, want 2", list.ReferenceCount())
	}
	alias.ReleaseReference()
}

func TestCompare(t *testing.T) {
	a := NewString([]byte("abc"))
	b := NewString([]byte("abd"))
	defer a.ReleaseReference()
	defer b.ReleaseReference()
	if order, err := Compare(a, b); err != nil || order >= 0 {
		t.Fatalf("Compare(abc, abd) = %d, %v", order, err)
	}
	one := NewInteger(1)
	defer one.ReleaseReference()
	if order, err := Compare(one, a); err != nil || order >= 0 {
		t.Fatalf("cross-type compare = %d, %v; integers order before strings", order, err)
	}
	list := NewList(nil)
	defer list.ReleaseReference()
	if _, err := Compare(list, list); err == nil {
		t.Fatal("lists should not be comparable")
	}
}

func TestAddListConcatenatesInPlace(t *testing.T) {
	one := NewInteger(1)
	two := NewInteger(2)
	left := NewList([]*Object{one})
	right := NewList([]*Object{two})
	one.ReleaseReference()
	two.ReleaseReference()
	defer left.ReleaseReference()
	defer right.ReleaseReference()

	result, err := add(left, right)
	if err != nil {
		t.Fatal(err)
	}
	defer result.ReleaseReference()
	if result != left {
		t.Fatal("list addition should return the left operand")
	}
	if left.ListLength() != 2 || left.ListGet(1).Integer() != 2 {
		t.Fatalf("left list = %s", FormatObject(left))
	}
}

func TestAddDictMergesLastWriterWins(t *testing.T) {
	key := NewInteger(1)
	a := NewString([]byte("a"))
	b := NewString([]byte("b"))
	left, _ := NewDict(nil)
	right, _ := NewDict(nil)
	left.DictSet(key, a)
	right.DictSet(key, b)
	key.ReleaseReference()
	a.ReleaseReference()
	b.ReleaseReference()
	defer left.ReleaseReference()
	defer right.ReleaseReference()

	result, err := add(left, right)
	if err != nil {
		t.Fatal(err)
	}
	defer result.ReleaseReference()
	if result != left {
		t.Fatal("dict addition should return the left operand")
	}
	lookup := NewInteger(1)
	defer lookup.ReleaseReference()
	value, _ := left.DictGet(lookup)
	if string(value.StringBytes()) != "b" {
		t.Fatalf("merged value = %q, want b", value.StringBytes())
	}
}

func TestPerformArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		left     int64
		right    int64
		operator compiler.TokenType
		want     int64
	}{
		{"add", 2, 3, compiler.TokenPlus, 5},
		{"subtract", 2, 3, compiler.TokenMinus, -1},
		{"multiply", 4, 3, compiler.TokenStar, 12},
		{"divide", 7, 2, compiler.TokenSlash, 3},
		{"modulo", 7, 2, compiler.TokenPercent, 1},
		{"shift left", 1, 4, compiler.TokenShl, 16},
		{"shift right", 16, 2, compiler.TokenShr, 4},
		{"and", 6, 3, compiler.TokenAmp, 2},
		{"or", 6, 3, compiler.TokenPipe, 7},
		{"xor", 6, 3, compiler.TokenCaret, 5},
		{"less", 1, 2, compiler.TokenLess, 1},
		{"equal", 2, 2, compiler.TokenEqual, 1},
		{"not equal", 2, 2, compiler.TokenNotEqual, 0},
	}
	for _, tt := range tests {
		left := NewInteger(tt.left)
		right := NewInteger(tt.right)
		result, err := performArithmetic(left, right, tt.operator)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if result.Integer() != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, result.Integer(), tt.want)
		}
		result.ReleaseReference()
		left.ReleaseReference()
		right.ReleaseReference()
	}
}

func TestDivideByZero(t *testing.T) {
	left := NewInteger(1)
	zero := NewInteger(0)
	defer left.ReleaseReference()
	defer zero.ReleaseReference()
	for _, operator := range []compiler.TokenType{compiler.TokenSlash, compiler.TokenPercent} {
		if _, err := performArithmetic(left, zero, operator); err == nil {
			t.Errorf("%s by zero should fail", operator)
		}
	}
}

func TestStringRelationalCompare(t *testing.T) {
	a := NewString([]byte("abc"))
	b := NewString([]byte("abd"))
	defer a.ReleaseReference()
	defer b.ReleaseReference()
	result, err := performArithmetic(a, b, compiler.TokenLess)
	if err != nil {
		t.Fatal(err)
	}
	defer result.ReleaseReference()
	if result.Integer() != 1 {
		t.Fatalf("abc < abd = %d, want 1", result.Integer())
	}
}

func TestArithmeticTypeMismatch(t *testing.T) {
	str := NewString([]byte("a"))
	one := NewInteger(1)
	defer str.ReleaseReference()
	defer one.ReleaseReference()
	if _, err := performArithmetic(str, one, compiler.TokenPlus); err == nil {
		t.Fatal("string + integer should fail")
	}
	list := NewList(nil)
	defer list.ReleaseReference()
	if _, err := performArithmetic(list, list, compiler.TokenLess); err == nil {
		t.Fatal("list comparison should fail")
	}
}
