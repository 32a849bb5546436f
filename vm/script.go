package vm

import (
	"fmt"
	"os"
	"sort"

	"github.com/minoca/chalkos/compiler"
)

// ---------------------------------------------------------------------------
// Scripts: loaded source buffers and their parse trees
// ---------------------------------------------------------------------------

// Script is a loaded source buffer. Scripts carry an order and a
// generation so an embedder can load many buffers up front and execute
// or unload them in batches.
type Script struct {
	Path       string
	Order      int
	Generation int

	source   []byte
	tree     *compiler.Node
	executed bool
}

// Source returns the script's raw source bytes.
func (s *Script) Source() []byte {
	return s.source
}

// LoadScriptBuffer parses a source buffer and registers it for deferred
// execution. Parse failures reject the buffer; nothing is registered.
func (i *Interpreter) LoadScriptBuffer(path string, source []byte, order, generation int) (*Script, error) {
	tree, err := compiler.Parse(path, source)
	if err != nil {
		return nil, err
	}
	script := &Script{
		Path:       path,
		Order:      order,
		Generation: generation,
		source:     source,
		tree:       tree,
	}
	i.scripts = append(i.scripts, script)
	return script, nil
}

// LoadScriptFile reads and loads a script from the filesystem.
func (i *Interpreter) LoadScriptFile(path string, order, generation int) (*Script, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return i.LoadScriptBuffer(path, source, order, generation)
}

// Execute runs a single script to completion. The script's final
// expression value becomes the interpreter's last value.
func (i *Interpreter) Execute(script *Script) error {
	script.executed = true
	if err := i.pushNode(script.tree, script, nil, 0); err != nil {
		return err
	}
	return i.run()
}

// ExecuteDeferredScripts runs every not-yet-executed script with the
// given order, lowest generation first, load sequence breaking ties.
// Execution stops at the first failing script.
func (i *Interpreter) ExecuteDeferredScripts(order int) error {
	pending := make([]*Script, 0, len(i.scripts))
	for _, script := range i.scripts {
		if !script.executed && script.Order == order {
			pending = append(pending, script)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return pending[a].Generation < pending[b].Generation
	})
	for _, script := range pending {
		if err := i.Execute(script); err != nil {
			return err
		}
	}
	return nil
}

// UnloadScriptsByOrder forgets every script with the given order. Their
// parse trees go away; function objects created from them keep the trees
// alive through the script pointer.
func (i *Interpreter) UnloadScriptsByOrder(order int) {
	kept := i.scripts[:0]
	for _, script := range i.scripts {
		if script.Order != order {
			kept = append(kept, script)
		}
	}
	i.scripts = kept
}

// Interpret loads and immediately executes a source buffer, returning
// the final expression value. The value is borrowed from the interpreter
// and stays valid until the next execution.
func (i *Interpreter) Interpret(path string, source []byte) (*Object, error) {
	script, err := i.LoadScriptBuffer(path, source, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := i.Execute(script); err != nil {
		return nil, err
	}
	return i.lastValue, nil
}
