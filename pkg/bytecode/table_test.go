package bytecode

import (
	"fmt"
	"testing"
)

func TestTableSetGet(t *testing.T) {
	heap := NewHeap()
	var table Table

	key := heap.Intern("answer")
	if isNew := table.Set(key, NumberVal(42)); !isNew {
		t.Error("first insert reported existing key")
	}

	value, ok := table.Get(key)
	if !ok {
		t.Fatal("key not found after insert")
	}
	if !value.Equals(NumberVal(42)) {
		t.Errorf("got %s, want 42", value)
	}

	if isNew := table.Set(key, NumberVal(7)); isNew {
		t.Error("overwrite reported new key")
	}
	value, _ = table.Get(key)
	if !value.Equals(NumberVal(7)) {
		t.Errorf("got %s after overwrite, want 7", value)
	}
}

func TestTableGetMissing(t *testing.T) {
	heap := NewHeap()
	var table Table

	if _, ok := table.Get(heap.Intern("nope")); ok {
		t.Error("empty table reported a hit")
	}

	table.Set(heap.Intern("present"), NilVal())
	if _, ok := table.Get(heap.Intern("absent")); ok {
		t.Error("missing key reported a hit")
	}
	// A present key holding nil is still a hit.
	if _, ok := table.Get(heap.Intern("present")); !ok {
		t.Error("nil-valued key reported missing")
	}
}

func TestTableDelete(t *testing.T) {
	heap := NewHeap()
	var table Table

	key := heap.Intern("doomed")
	table.Set(key, BoolVal(true))

	if !table.Delete(key) {
		t.Fatal("delete of present key returned false")
	}
	if _, ok := table.Get(key); ok {
		t.Error("deleted key still present")
	}
	if table.Delete(key) {
		t.Error("second delete returned true")
	}
}

// Probe sequences must survive deletion: a key that collided past a
// deleted entry is still reachable through the tombstone.
func TestTableDeletePreservesProbeSequences(t *testing.T) {
	heap := NewHeap()
	var table Table

	keys := make([]*ObjString, 32)
	for i := range keys {
		keys[i] = heap.Intern(fmt.Sprintf("key%d", i))
		table.Set(keys[i], NumberVal(float64(i)))
	}

	// Delete every other key, then verify the rest are all reachable.
	for i := 0; i < len(keys); i += 2 {
		table.Delete(keys[i])
	}
	for i := 1; i < len(keys); i += 2 {
		value, ok := table.Get(keys[i])
		if !ok {
			t.Fatalf("key%d unreachable after unrelated deletes", i)
		}
		if !value.Equals(NumberVal(float64(i))) {
			t.Errorf("key%d = %s, want %d", i, value, i)
		}
	}
}

// Repeated insert/delete cycles must not fill the table with tombstones:
// inserts reuse tombstone slots and resizes drop them.
func TestTableTombstoneChurn(t *testing.T) {
	heap := NewHeap()
	var table Table

	key := heap.Intern("churn")
	for i := 0; i < 10000; i++ {
		table.Set(key, NumberVal(float64(i)))
		table.Delete(key)
	}

	if table.Capacity() > 64 {
		t.Errorf("capacity grew to %d under churn of a single key", table.Capacity())
	}

	table.Set(key, NumberVal(1))
	if value, ok := table.Get(key); !ok || !value.Equals(NumberVal(1)) {
		t.Error("key lost after churn")
	}
}

func TestTableLoadFactor(t *testing.T) {
	heap := NewHeap()
	var table Table

	for i := 0; i < 1000; i++ {
		table.Set(heap.Intern(fmt.Sprintf("k%d", i)), NumberVal(float64(i)))

		capacity := table.Capacity()
		if capacity == 0 {
			t.Fatal("capacity zero after insert")
		}
		if table.count > capacity {
			t.Fatalf("count %d exceeds capacity %d", table.count, capacity)
		}
		if float64(table.count) > float64(capacity)*tableMaxLoad {
			t.Fatalf("load factor exceeded: %d/%d", table.count, capacity)
		}
	}

	for i := 0; i < 1000; i++ {
		value, ok := table.Get(heap.Intern(fmt.Sprintf("k%d", i)))
		if !ok || !value.Equals(NumberVal(float64(i))) {
			t.Fatalf("k%d missing or wrong after growth", i)
		}
	}
}

func TestTableAddAll(t *testing.T) {
	heap := NewHeap()
	var src, dst Table

	for i := 0; i < 20; i++ {
		src.Set(heap.Intern(fmt.Sprintf("m%d", i)), NumberVal(float64(i)))
	}
	dst.Set(heap.Intern("m0"), NumberVal(99)) // will be overwritten
	dst.AddAll(&src)

	for i := 0; i < 20; i++ {
		value, ok := dst.Get(heap.Intern(fmt.Sprintf("m%d", i)))
		if !ok {
			t.Fatalf("m%d missing after AddAll", i)
		}
		if !value.Equals(NumberVal(float64(i))) {
			t.Errorf("m%d = %s, want %d", i, value, i)
		}
	}
}

func TestFindString(t *testing.T) {
	heap := NewHeap()

	interned := heap.Intern("needle")
	found := heap.strings.FindString("needle", hashString("needle"))
	if found != interned {
		t.Error("FindString returned a different object")
	}

	if heap.strings.FindString("missing", hashString("missing")) != nil {
		t.Error("FindString invented an entry")
	}
}

// Two strings are the same object iff length, hash, and bytes all match.
func TestStringIdentityInvariant(t *testing.T) {
	heap := NewHeap()

	words := []string{"a", "b", "ab", "ba", "", "aa", "b", "ab"}
	objs := make([]*ObjString, len(words))
	for i, w := range words {
		objs[i] = heap.Intern(w)
	}

	for i := range objs {
		for j := range objs {
			same := objs[i] == objs[j]
			equal := len(objs[i].Chars) == len(objs[j].Chars) &&
				objs[i].Hash == objs[j].Hash &&
				objs[i].Chars == objs[j].Chars
			if same != equal {
				t.Errorf("identity/content mismatch for %q vs %q", words[i], words[j])
			}
		}
	}
}
