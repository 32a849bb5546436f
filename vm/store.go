package vm

import (
	"crypto/sha256"
	"sync"
)

// ---------------------------------------------------------------------------
// ScriptStore: content-addressed index for parsed scripts
// ---------------------------------------------------------------------------

// ScriptStore indexes loaded scripts by the SHA-256 of their source, so
// an embedder feeding the same buffer to many interpreter instances can
// parse it once. Unlike an interpreter, the store is safe for concurrent
// use.
type ScriptStore struct {
	mu      sync.RWMutex
	scripts map[[32]byte]*Script
}

// NewScriptStore creates an empty script store.
func NewScriptStore() *ScriptStore {
	return &ScriptStore{scripts: make(map[[32]byte]*Script)}
}

// HashSource computes the content hash of a source buffer.
func HashSource(source []byte) [32]byte {
	return sha256.Sum256(source)
}

// Index adds a script, keyed by its source hash.
func (ss *ScriptStore) Index(script *Script) [32]byte {
	hash := HashSource(script.source)
	ss.mu.Lock()
	ss.scripts[hash] = script
	ss.mu.Unlock()
	return hash
}

// Lookup returns the script for the given hash, or nil.
func (ss *ScriptStore) Lookup(hash [32]byte) *Script {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.scripts[hash]
}

// LookupSource returns the already-parsed script matching a source
// buffer, or nil.
func (ss *ScriptStore) LookupSource(source []byte) *Script {
	return ss.Lookup(HashSource(source))
}

// HasHash returns true if the store contains the given hash.
func (ss *ScriptStore) HasHash(hash [32]byte) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, ok := ss.scripts[hash]
	return ok
}

// Hashes returns all indexed source hashes.
func (ss *ScriptStore) Hashes() [][32]byte {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	hashes := make([][32]byte, 0, len(ss.scripts))
	for hash := range ss.scripts {
		hashes = append(hashes, hash)
	}
	return hashes
}

// Count returns the number of indexed scripts.
func (ss *ScriptStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.scripts)
}
