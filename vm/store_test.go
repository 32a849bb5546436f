package vm

import "testing"

func TestScriptStore(t *testing.T) {
	interp := NewInterpreter()
	defer interp.Destroy()
	source := []byte("a = 1;")
	script, err := interp.LoadScriptBuffer("a.ck", source, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	store := NewScriptStore()
	if store.Count() != 0 {
		t.Fatalf("fresh store count = %d", store.Count())
	}
	hash := store.Index(script)
	if !store.HasHash(hash) {
		t.Fatal("indexed hash missing")
	}
	if got := store.Lookup(hash); got != script {
		t.Fatal("lookup returned wrong script")
	}
	if got := store.LookupSource(source); got != script {
		t.Fatal("source lookup returned wrong script")
	}
	if got := store.LookupSource([]byte("b = 2;")); got != nil {
		t.Fatal("unknown source should miss")
	}
	if store.Count() != 1 || len(store.Hashes()) != 1 {
		t.Fatalf("count = %d, hashes = %d", store.Count(), len(store.Hashes()))
	}
}
