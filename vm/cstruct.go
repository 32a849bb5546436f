package vm

import (
	"fmt"
	"math/bits"
	"reflect"
)

// ---------------------------------------------------------------------------
// Dict to native-record marshalling
// ---------------------------------------------------------------------------

// FieldType selects how a descriptor entry converts between a dict value
// and a record field.
type FieldType int

const (
	FieldInvalid FieldType = iota
	FieldInt               // any integer kind, value checked against width
	FieldFlag32            // masked subfield of a uint32
	FieldString            // fresh string copy
	FieldBytes             // byte slice, truncated to Size
	FieldStruct            // nested record with its own descriptor
	FieldStructPtr         // nested record behind a pointer, allocated on demand
)

// FieldSpec describes one field of a record layout: which dict key feeds
// it, which Go field holds it, and how the bytes convert. A nil Sub is
// only legal for the scalar types.
type FieldSpec struct {
	Type     FieldType
	Key      string
	Field    string
	Required bool
	Mask     uint32      // FieldFlag32 subfield mask
	Size     int         // FieldBytes capacity
	Sub      []FieldSpec // FieldStruct and FieldStructPtr layout
}

// DictToStruct fills a record from a dict using the descriptor. The
// target must be a non-nil pointer to a struct. Required keys that are
// absent report ErrNotFound; present keys of the wrong value type report
// ErrTypeMismatch. Optional absent keys leave the field untouched.
func DictToStruct(dict *Object, target interface{}, spec []FieldSpec) error {
	value := reflect.ValueOf(target)
	if value.Kind() != reflect.Ptr || value.IsNil() {
		return fmt.Errorf("marshal target must be a struct pointer, got %T", target)
	}
	return dictToStructValue(dict, value.Elem(), spec)
}

func dictToStructValue(dict *Object, record reflect.Value, spec []FieldSpec) error {
	dict = dict.Dereference()
	if dict.Type() != ObjectDict {
		return fmt.Errorf("%w: marshal source is %s", ErrTypeMismatch, dict.Type())
	}
	for _, field := range spec {
		source := dict.DictGetString(field.Key)
		if source == nil {
			if field.Required {
				return fmt.Errorf("%w: required key %q", ErrNotFound, field.Key)
			}
			continue
		}
		source = source.Dereference()
		slot := record.FieldByName(field.Field)
		if !slot.IsValid() {
			return fmt.Errorf("record has no field %q for key %q",
				field.Field, field.Key)
		}
		if err := fieldFromObject(slot, source, field); err != nil {
			return fmt.Errorf("key %q: %w", field.Key, err)
		}
	}
	return nil
}

func fieldFromObject(slot reflect.Value, source *Object, field FieldSpec) error {
	switch field.Type {
	case FieldInt:
		if source.Type() != ObjectInteger {
			return fmt.Errorf("%w: expected integer, got %s",
				ErrTypeMismatch, source.Type())
		}
		switch slot.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if slot.OverflowInt(source.Integer()) {
				return fmt.Errorf("%w: %d overflows %s",
					ErrRange, source.Integer(), slot.Type())
			}
			slot.SetInt(source.Integer())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			unsigned := uint64(source.Integer())
			if slot.OverflowUint(unsigned) {
				return fmt.Errorf("%w: %d overflows %s",
					ErrRange, source.Integer(), slot.Type())
			}
			slot.SetUint(unsigned)
		default:
			return fmt.Errorf("field %q is not an integer kind", field.Field)
		}

	case FieldFlag32:
		if source.Type() != ObjectInteger {
			return fmt.Errorf("%w: expected integer, got %s",
				ErrTypeMismatch, source.Type())
		}
		shift := bits.TrailingZeros32(field.Mask)
		current := uint32(slot.Uint())
		current &^= field.Mask
		current |= (uint32(source.Integer()) << uint(shift)) & field.Mask
		slot.SetUint(uint64(current))

	case FieldString:
		if source.Type() != ObjectString {
			return fmt.Errorf("%w: expected string, got %s",
				ErrTypeMismatch, source.Type())
		}
		slot.SetString(string(source.StringBytes()))

	case FieldBytes:
		if source.Type() != ObjectString {
			return fmt.Errorf("%w: expected string, got %s",
				ErrTypeMismatch, source.Type())
		}
		data := source.StringBytes()
		if field.Size > 0 && len(data) > field.Size {
			data = data[:field.Size]
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		slot.SetBytes(buf)

	case FieldStruct:
		return dictToStructValue(source, slot, field.Sub)

	case FieldStructPtr:
		if slot.IsNil() {
			slot.Set(reflect.New(slot.Type().Elem()))
		}
		return dictToStructValue(source, slot.Elem(), field.Sub)

	default:
		return fmt.Errorf("invalid field type %d", field.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Native-record to dict marshalling
// ---------------------------------------------------------------------------

// StructToDict builds a dict from a record using the descriptor. Integer
// fields widen to signed 64-bit; Flag32 fields extract mask-then-shift;
// strings and byte arrays become fresh string objects; nested records
// become nested dicts. The returned dict carries one reference.
func StructToDict(source interface{}, spec []FieldSpec) (*Object, error) {
	value := reflect.ValueOf(source)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil, fmt.Errorf("marshal source is a nil pointer")
		}
		value = value.Elem()
	}
	return structValueToDict(value, spec)
}

func structValueToDict(record reflect.Value, spec []FieldSpec) (*Object, error) {
	dict, err := NewDict(nil)
	if err != nil {
		return nil, err
	}
	for _, field := range spec {
		slot := record.FieldByName(field.Field)
		if !slot.IsValid() {
			dict.ReleaseReference()
			return nil, fmt.Errorf("record has no field %q for key %q",
				field.Field, field.Key)
		}
		value, err := fieldToObject(slot, field)
		if err != nil {
			dict.ReleaseReference()
			return nil, fmt.Errorf("key %q: %w", field.Key, err)
		}
		err = dict.DictSetString(field.Key, value)
		value.ReleaseReference()
		if err != nil {
			dict.ReleaseReference()
			return nil, err
		}
	}
	return dict, nil
}

func fieldToObject(slot reflect.Value, field FieldSpec) (*Object, error) {
	switch field.Type {
	case FieldInt:
		switch slot.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return NewInteger(slot.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return NewInteger(int64(slot.Uint())), nil
		}
		return nil, fmt.Errorf("field %q is not an integer kind", field.Field)

	case FieldFlag32:
		shift := bits.TrailingZeros32(field.Mask)
		extracted := (uint32(slot.Uint()) & field.Mask) >> uint(shift)
		return NewInteger(int64(extracted)), nil

	case FieldString:
		return NewString([]byte(slot.String())), nil

	case FieldBytes:
		return NewString(slot.Bytes()), nil

	case FieldStruct:
		return structValueToDict(slot, field.Sub)

	case FieldStructPtr:
		if slot.IsNil() {
			return NewDict(nil)
		}
		return structValueToDict(slot.Elem(), field.Sub)
	}
	return nil, fmt.Errorf("invalid field type %d", field.Type)
}

// ---------------------------------------------------------------------------
// String lists and key lookup helpers
// ---------------------------------------------------------------------------

// StringsListRead converts a list object into a string slice. Entries
// that are not strings are silently skipped.
func StringsListRead(list *Object) ([]string, error) {
	list = list.Dereference()
	if list.Type() != ObjectList {
		return nil, fmt.Errorf("%w: expected list, got %s",
			ErrTypeMismatch, list.Type())
	}
	out := make([]string, 0, list.ListLength())
	for index := 0; index < list.ListLength(); index++ {
		element := list.ListGet(index)
		if element == nil {
			continue
		}
		element = element.Dereference()
		if element.Type() != ObjectString {
			continue
		}
		out = append(out, string(element.StringBytes()))
	}
	return out, nil
}

// StringsListWrite builds a list object of string objects. The returned
// list carries one reference.
func StringsListWrite(values []string) *Object {
	elements := make([]*Object, len(values))
	for index, value := range values {
		elements[index] = NewString([]byte(value))
	}
	list := NewList(elements)
	for _, element := range elements {
		element.ReleaseReference()
	}
	return list
}

// DictLookupKey fetches a dict value by string key, reporting
// ErrNotFound for absent keys. The value is borrowed.
func DictLookupKey(dict *Object, key string) (*Object, error) {
	dict = dict.Dereference()
	if dict.Type() != ObjectDict {
		return nil, fmt.Errorf("%w: lookup on %s", ErrTypeMismatch, dict.Type())
	}
	value := dict.DictGetString(key)
	if value == nil {
		return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	return value, nil
}
