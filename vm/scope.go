package vm

// ---------------------------------------------------------------------------
// Scopes: lexical variable dictionaries
// ---------------------------------------------------------------------------

// Scope owns a dict of variables and links to its parent. The function
// flag marks a function-call boundary: name lookup stops walking upward
// there, so a function body sees its own locals and globals but never the
// caller's locals.
type Scope struct {
	vars     *Object
	parent   *Scope
	function bool
}

// newScope creates a scope under parent.
func newScope(parent *Scope, function bool) *Scope {
	vars, _ := NewDict(nil)
	return &Scope{vars: vars, parent: parent, function: function}
}

// release drops the scope's variable dict.
func (s *Scope) release() {
	s.vars.ReleaseReference()
}

// get returns the named variable's value, or nil. Only this scope is
// searched.
func (s *Scope) get(name string) *Object {
	return s.vars.DictGetString(name)
}

// set binds name to value in this scope.
func (s *Scope) set(name string, value *Object) error {
	return s.vars.DictSetString(name, value)
}

// lookupVariable resolves a name against the scope chain: walk upward
// from the current scope, stopping after a function-boundary scope, then
// consult the global scope as a separate step. The returned lvalue
// addresses the variable's slot so the caller can read or assign. A miss
// returns nil.
func (i *Interpreter) lookupVariable(name string) *lvalue {
	scope := i.current
	for scope != nil {
		if value := scope.get(name); value != nil {
			return newDictLValue(scope.vars, NewString([]byte(name)))
		}
		if scope.function {
			break
		}
		scope = scope.parent
	}
	if scope != i.global && i.global.get(name) != nil {
		return newDictLValue(i.global.vars, NewString([]byte(name)))
	}
	return nil
}

// createVariable binds a fresh zero integer for name in the current scope
// and returns its lvalue. Primary-expression evaluation uses this to turn
// an undefined-name read into an implicit definition.
func (i *Interpreter) createVariable(name string) (*lvalue, error) {
	zero := NewInteger(0)
	defer zero.ReleaseReference()
	if err := i.current.set(name, zero); err != nil {
		return nil, err
	}
	return newDictLValue(i.current.vars, NewString([]byte(name))), nil
}
