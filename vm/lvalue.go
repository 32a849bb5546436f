package vm

import "fmt"

// ---------------------------------------------------------------------------
// LValues: assignable slot cursors
// ---------------------------------------------------------------------------

// lvalue addresses an assignable slot: a list element by index or a dict
// entry by key (variables are dict entries in their scope's dict). The
// container and key are retained for the lvalue's lifetime, so a slot
// stays valid even if the expression that produced the container is
// already torn down.
type lvalue struct {
	list  *Object // list container, nil for dict slots
	index int
	dict  *Object // dict container, nil for list slots
	key   *Object
}

// newListLValue addresses list[index].
func newListLValue(list *Object, index int) *lvalue {
	list.AddReference()
	return &lvalue{list: list, index: index}
}

// newDictLValue addresses dict[key]. The key reference is donated.
func newDictLValue(dict *Object, key *Object) *lvalue {
	dict.AddReference()
	return &lvalue{dict: dict, key: key}
}

// release drops the retained container and key.
func (lv *lvalue) release() {
	if lv.list != nil {
		lv.list.ReleaseReference()
		lv.list = nil
	}
	if lv.dict != nil {
		lv.dict.ReleaseReference()
		lv.dict = nil
	}
	if lv.key != nil {
		lv.key.ReleaseReference()
		lv.key = nil
	}
}

// read returns the slot's current value, borrowed, or nil if the slot has
// not been written.
func (lv *lvalue) read() (*Object, error) {
	if lv.list != nil {
		return lv.list.ListGet(lv.index), nil
	}
	if lv.dict != nil {
		return lv.dict.DictGet(lv.key)
	}
	return nil, fmt.Errorf("%w: empty lvalue", ErrNotAssignable)
}

// write stores value into the slot; the slot takes its own reference.
func (lv *lvalue) write(value *Object) error {
	if lv.list != nil {
		return lv.list.ListSet(lv.index, value)
	}
	if lv.dict != nil {
		return lv.dict.DictSet(lv.key, value)
	}
	return fmt.Errorf("%w: empty lvalue", ErrNotAssignable)
}
