package vm

import "testing"

func newTestList(values ...int64) *Object {
	elements := make([]*Object, len(values))
	for i, value := range values {
		elements[i] = NewInteger(value)
	}
	list := NewList(elements)
	for _, element := range elements {
		element.ReleaseReference()
	}
	return list
}

func TestFormatScalars(t *testing.T) {
	number := NewInteger(-42)
	defer number.ReleaseReference()
	if got := FormatObject(number); got != "-42" {
		t.Fatalf("integer = %q", got)
	}
	str := NewString([]byte("a\nb\x01"))
	defer str.ReleaseReference()
	if got := FormatObject(str); got != `"a\nb\x01"` {
		t.Fatalf("string = %q", got)
	}
}

func TestFormatShortList(t *testing.T) {
	list := newTestList(1, 2, 3, 4)
	defer list.ReleaseReference()
	if got := FormatObject(list); got != "[1, 2, 3, 4]" {
		t.Fatalf("list = %q", got)
	}
}

func TestFormatLongListWrapsLines(t *testing.T) {
	list := newTestList(1, 2, 3, 4, 5)
	defer list.ReleaseReference()
	want := "[1, \n 2, \n 3, \n 4, \n 5]"
	if got := FormatObject(list); got != want {
		t.Fatalf("list = %q, want %q", got, want)
	}
}

func TestFormatDict(t *testing.T) {
	dict, _ := NewDict(nil)
	defer dict.ReleaseReference()
	one := NewInteger(1)
	a := NewString([]byte("a"))
	two := NewInteger(2)
	b := NewString([]byte("b"))
	dict.DictSet(one, a)
	dict.DictSet(two, b)
	one.ReleaseReference()
	a.ReleaseReference()
	two.ReleaseReference()
	b.ReleaseReference()
	want := "{1 : \"a\",\n 2 : \"b\"}"
	if got := FormatObject(dict); got != want {
		t.Fatalf("dict = %q, want %q", got, want)
	}
}

func TestFormatSelfReference(t *testing.T) {
	list := NewList(nil)
	list.ListSet(0, list)
	if got := FormatObject(list); got != "[...]" {
		t.Fatalf("cyclic list = %q, want [...]", got)
	}

	// Break the cycle before releasing.
	zero := NewInteger(0)
	list.ListSet(0, zero)
	zero.ReleaseReference()
	list.ReleaseReference()
}

func TestFormatFunction(t *testing.T) {
	interp := runScript(t, "function pair(a, b) { return a; }")
	fn := interp.GetVariable("pair")
	if fn == nil {
		t.Fatal("pair is undefined")
	}
	if got := FormatObject(fn); got != "function(a, b)" {
		t.Fatalf("function = %q", got)
	}
}

func TestFormatUnsetListSlots(t *testing.T) {
	list := NewList(nil)
	defer list.ReleaseReference()
	nine := NewInteger(9)
	list.ListSet(2, nine)
	nine.ReleaseReference()
	if got := FormatObject(list); got != "[0, 0, 9]" {
		t.Fatalf("list = %q", got)
	}
}
