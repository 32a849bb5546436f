package vm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/minoca/chalkos/compiler"
)

// ---------------------------------------------------------------------------
// Objects: reference-counted tagged values
// ---------------------------------------------------------------------------

// ObjectType identifies the variant stored in an Object.
type ObjectType int

const (
	ObjectInvalid ObjectType = iota
	ObjectInteger
	ObjectString
	ObjectList
	ObjectDict
	ObjectFunction
	ObjectReference
	ObjectTypeCount
)

var objectTypeNames = [ObjectTypeCount]string{
	ObjectInvalid:   "INVALID",
	ObjectInteger:   "integer",
	ObjectString:    "string",
	ObjectList:      "list",
	ObjectDict:      "dict",
	ObjectFunction:  "function",
	ObjectReference: "reference",
}

// String returns the type's printable name.
func (t ObjectType) String() string {
	if t >= 0 && t < ObjectTypeCount {
		return objectTypeNames[t]
	}
	return fmt.Sprintf("ObjectType(%d)", int(t))
}

// Reference counts are sanity-checked against this ceiling; crossing it
// means a count was corrupted or leaked in a loop.
const maxReferenceCount = 0x10000000

// Typed evaluation errors. The interpreter wraps these into positioned
// diagnostics; embedders can match them with errors.Is.
var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrRange         = errors.New("range error")
	ErrNotAssignable = errors.New("not assignable")
	ErrNotFound      = errors.New("not found")
	ErrNotComparable = errors.New("objects are not comparable")
)

// Object is a single Chalk value. It is a tagged union in the manner of
// the native record it models: exactly the fields selected by typ are
// meaningful. Objects are reference counted and not safe for concurrent
// use; an interpreter instance is single-threaded.
type Object struct {
	typ  ObjectType
	refs int32

	integer int64
	bytes   []byte        // string payload, no terminator
	array   []*Object     // list slots; nil slots read as zero integers
	dict    *dictStorage  // dict payload
	fn      *functionData // function payload
	ref     *Object       // reference target
}

// functionData is the immutable payload of a function object: the
// argument-name list, the body parse node (borrowed from the owning
// script's tree), and the owning script.
type functionData struct {
	arguments *Object // list of string objects
	body      *compiler.Node
	script    *Script
}

// Type returns the object's type tag.
func (o *Object) Type() ObjectType {
	return o.typ
}

// NewInteger creates an integer object with one reference.
func NewInteger(value int64) *Object {
	return &Object{typ: ObjectInteger, refs: 1, integer: value}
}

// NewString creates a string object with one reference, copying the bytes.
func NewString(value []byte) *Object {
	buf := make([]byte, len(value))
	copy(buf, value)
	return &Object{typ: ObjectString, refs: 1, bytes: buf}
}

// NewList creates a list object with one reference. Initial values are
// retained with an added reference each; nil slots stay nil.
func NewList(initial []*Object) *Object {
	array := make([]*Object, len(initial))
	for i, value := range initial {
		if value != nil {
			value.AddReference()
		}
		array[i] = value
	}
	return &Object{typ: ObjectList, refs: 1, array: array}
}

// NewDict creates a dict object with one reference. If source is a dict,
// its entries are copied into the new dict (values by reference).
func NewDict(source *Object) (*Object, error) {
	dict := &Object{typ: ObjectDict, refs: 1, dict: newDictStorage()}
	if source != nil {
		if source.typ != ObjectDict {
			return nil, fmt.Errorf("%w: dict source is %s", ErrTypeMismatch, source.typ)
		}
		for _, entry := range source.dict.entries {
			if err := dict.DictSet(entry.key, entry.value); err != nil {
				dict.ReleaseReference()
				return nil, err
			}
		}
	}
	return dict, nil
}

// NewFunction creates a function object with one reference. The body is
// borrowed from the owning script and is not released.
func NewFunction(arguments *Object, body *compiler.Node, script *Script) *Object {
	arguments.AddReference()
	return &Object{
		typ:  ObjectFunction,
		refs: 1,
		fn:   &functionData{arguments: arguments, body: body, script: script},
	}
}

// NewReference creates a reference object pointing at target.
func NewReference(target *Object) *Object {
	target.AddReference()
	return &Object{typ: ObjectReference, refs: 1, ref: target}
}

// Dereference follows reference objects to the underlying value.
func (o *Object) Dereference() *Object {
	for o != nil && o.typ == ObjectReference {
		o = o.ref
	}
	return o
}

// AddReference takes a reference on the object.
func (o *Object) AddReference() {
	if o.refs <= 0 || o.refs >= maxReferenceCount {
		panic(fmt.Sprintf("vm: corrupt reference count %d on %s", o.refs, o.typ))
	}
	o.refs++
}

// ReleaseReference drops a reference, destroying the object when the last
// reference goes away.
func (o *Object) ReleaseReference() {
	if o.refs <= 0 || o.refs >= maxReferenceCount {
		panic(fmt.Sprintf("vm: corrupt reference count %d on %s", o.refs, o.typ))
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	switch o.typ {
	case ObjectList:
		for _, element := range o.array {
			if element != nil {
				element.ReleaseReference()
			}
		}
		o.array = nil
	case ObjectDict:
		for _, entry := range o.dict.entries {
			entry.key.ReleaseReference()
			entry.value.ReleaseReference()
		}
		o.dict = nil
	case ObjectFunction:
		o.fn.arguments.ReleaseReference()
		o.fn = nil
	case ObjectReference:
		o.ref.ReleaseReference()
		o.ref = nil
	}
	o.typ = ObjectInvalid
}

// ReferenceCount returns the current count, for invariant checks.
func (o *Object) ReferenceCount() int {
	return int(o.refs)
}

// Integer returns the integer payload.
func (o *Object) Integer() int64 {
	return o.integer
}

// StringBytes returns the string payload. The slice is owned by the
// object; callers must not modify it.
func (o *Object) StringBytes() []byte {
	return o.bytes
}

// ListLength returns the number of slots in a list.
func (o *Object) ListLength() int {
	return len(o.array)
}

// ListGet returns the value in the given slot, or nil if the slot is
// missing or has never been written. Readers that need a value upgrade a
// nil slot with ListSet, which is how the postfix-index evaluator
// auto-creates zero integers.
func (o *Object) ListGet(index int) *Object {
	if index < 0 || index >= len(o.array) {
		return nil
	}
	return o.array[index]
}

// ListSet stores value in the given slot, growing the list and nil-filling
// intervening slots as needed. The value gains a reference; any previous
// occupant loses one.
func (o *Object) ListSet(index int, value *Object) error {
	if index < 0 {
		return fmt.Errorf("%w: negative list index %d", ErrRange, index)
	}
	for index >= len(o.array) {
		o.array = append(o.array, nil)
	}
	value.AddReference()
	if old := o.array[index]; old != nil {
		old.ReleaseReference()
	}
	o.array[index] = value
	return nil
}

// listAppend adds a value to the end of the list, taking a reference.
func (o *Object) listAppend(value *Object) {
	if value != nil {
		value.AddReference()
	}
	o.array = append(o.array, value)
}

// GetBooleanValue coerces the object to a boolean: non-zero and non-empty
// values are true.
func (o *Object) GetBooleanValue() bool {
	switch o.typ {
	case ObjectInteger:
		return o.integer != 0
	case ObjectString:
		return len(o.bytes) != 0
	case ObjectList:
		return len(o.array) != 0
	case ObjectDict:
		return len(o.dict.entries) != 0
	case ObjectReference:
		return o.ref.GetBooleanValue()
	}
	return true
}

// isPassByReference reports whether the type crosses function-call
// boundaries by reference rather than by deep copy.
func (t ObjectType) isPassByReference() bool {
	return t == ObjectList || t == ObjectDict || t == ObjectFunction
}

// Copy produces the value to bind for a function argument: integers and
// strings are deep-copied, the reference types gain a reference.
func (o *Object) Copy() *Object {
	if o.typ.isPassByReference() {
		o.AddReference()
		return o
	}
	return o.DeepCopy()
}

// DeepCopy duplicates the object. Aggregates are copied recursively except
// for functions, which are immutable and shared.
func (o *Object) DeepCopy() *Object {
	switch o.typ {
	case ObjectInteger:
		return NewInteger(o.integer)
	case ObjectString:
		return NewString(o.bytes)
	case ObjectList:
		duplicate := NewList(nil)
		duplicate.array = make([]*Object, len(o.array))
		for i, element := range o.array {
			if element != nil {
				duplicate.array[i] = element.DeepCopy()
			}
		}
		return duplicate
	case ObjectDict:
		duplicate, _ := NewDict(nil)
		for _, entry := range o.dict.entries {
			value := entry.value.DeepCopy()
			duplicate.DictSet(entry.key, value)
			value.ReleaseReference()
		}
		return duplicate
	case ObjectFunction, ObjectReference:
		o.AddReference()
		return o
	}
	panic(fmt.Sprintf("vm: deep copy of %s", o.typ))
}

// Compare orders two objects. Objects of different types order by type
// tag; integers order numerically and strings lexicographically. Lists
// and dicts have no defined order and return ErrNotComparable.
func Compare(left, right *Object) (int, error) {
	left = left.Dereference()
	right = right.Dereference()
	if left.typ != right.typ {
		if left.typ < right.typ {
			return -1, nil
		}
		return 1, nil
	}
	switch left.typ {
	case ObjectInteger:
		switch {
		case left.integer < right.integer:
			return -1, nil
		case left.integer > right.integer:
			return 1, nil
		}
		return 0, nil
	case ObjectString:
		return bytes.Compare(left.bytes, right.bytes), nil
	}
	return 0, fmt.Errorf("%w: cannot order %s values", ErrNotComparable, left.typ)
}

// add implements the binary + operator: integer addition, fresh string
// concatenation, in-place list concatenation (left is returned), and
// dict merge into the left operand with last-writer-wins. The returned
// object carries a new reference in every case.
func add(left, right *Object) (*Object, error) {
	if left.typ != right.typ {
		return nil, fmt.Errorf("%w: cannot add %s and %s",
			ErrTypeMismatch, left.typ, right.typ)
	}
	switch left.typ {
	case ObjectInteger:
		return NewInteger(left.integer + right.integer), nil

	case ObjectString:
		joined := make([]byte, 0, len(left.bytes)+len(right.bytes))
		joined = append(joined, left.bytes...)
		joined = append(joined, right.bytes...)
		return NewString(joined), nil

	case ObjectList:
		for _, element := range right.array {
			left.listAppend(element)
		}
		left.AddReference()
		return left, nil

	case ObjectDict:
		for _, entry := range right.dict.entries {
			if err := left.DictSet(entry.key, entry.value); err != nil {
				return nil, err
			}
		}
		left.AddReference()
		return left, nil
	}
	return nil, fmt.Errorf("%w: cannot add %s values", ErrTypeMismatch, left.typ)
}
