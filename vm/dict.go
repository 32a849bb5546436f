package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dict storage: insertion-ordered mapping with Int|String keys
// ---------------------------------------------------------------------------

// dictKey is the comparable form of a legal dict key.
type dictKey struct {
	isInt   bool
	integer int64
	str     string
}

// dictEntry is one key/value pair. Both sides hold references.
type dictEntry struct {
	key   *Object
	value *Object
}

// dictStorage keeps entries in insertion order with a map index for
// constant-time lookup.
type dictStorage struct {
	entries []*dictEntry
	index   map[dictKey]int
}

func newDictStorage() *dictStorage {
	return &dictStorage{index: make(map[dictKey]int)}
}

// keyFor legalizes a prospective dict key. Only integer and string
// objects may act as keys.
func keyFor(key *Object) (dictKey, error) {
	key = key.Dereference()
	switch key.typ {
	case ObjectInteger:
		return dictKey{isInt: true, integer: key.integer}, nil
	case ObjectString:
		return dictKey{str: string(key.bytes)}, nil
	}
	return dictKey{}, fmt.Errorf("%w: %s is not a valid dict key type",
		ErrTypeMismatch, key.typ)
}

// DictSet adds or replaces the entry for key. New entries append to the
// insertion order; replacement keeps the original position. Both key and
// value gain references.
func (o *Object) DictSet(key, value *Object) error {
	if o.typ != ObjectDict {
		return fmt.Errorf("%w: dict operation on %s", ErrTypeMismatch, o.typ)
	}
	lookup, err := keyFor(key)
	if err != nil {
		return err
	}
	if position, ok := o.dict.index[lookup]; ok {
		value.AddReference()
		o.dict.entries[position].value.ReleaseReference()
		o.dict.entries[position].value = value
		return nil
	}
	key.AddReference()
	value.AddReference()
	o.dict.index[lookup] = len(o.dict.entries)
	o.dict.entries = append(o.dict.entries, &dictEntry{key: key, value: value})
	return nil
}

// DictGet returns the value for key, or nil if absent. Illegal key types
// report ErrTypeMismatch.
func (o *Object) DictGet(key *Object) (*Object, error) {
	if o.typ != ObjectDict {
		return nil, fmt.Errorf("%w: dict operation on %s", ErrTypeMismatch, o.typ)
	}
	lookup, err := keyFor(key)
	if err != nil {
		return nil, err
	}
	position, ok := o.dict.index[lookup]
	if !ok {
		return nil, nil
	}
	return o.dict.entries[position].value, nil
}

// DictLength returns the number of entries.
func (o *Object) DictLength() int {
	return len(o.dict.entries)
}

// dictKeys returns the keys in insertion order, borrowed.
func (o *Object) dictKeys() []*Object {
	keys := make([]*Object, len(o.dict.entries))
	for i, entry := range o.dict.entries {
		keys[i] = entry.key
	}
	return keys
}

// DictGetString looks up a string key without building a key object.
func (o *Object) DictGetString(key string) *Object {
	if o.typ != ObjectDict {
		return nil
	}
	position, ok := o.dict.index[dictKey{str: key}]
	if !ok {
		return nil
	}
	return o.dict.entries[position].value
}

// DictSetString sets a string key without requiring a prebuilt key object.
func (o *Object) DictSetString(key string, value *Object) error {
	keyObject := NewString([]byte(key))
	defer keyObject.ReleaseReference()
	return o.DictSet(keyObject, value)
}
