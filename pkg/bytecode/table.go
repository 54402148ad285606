package bytecode

// Table is an open-addressed hash map keyed by interned string identity.
// Deleted entries become tombstones (nil key, true value) so probe
// sequences stay intact; count includes tombstones, which keeps probing
// finite because capacity always exceeds count.
type Table struct {
	count   int
	entries []Entry
}

// Entry is one table slot. An empty slot has a nil key and a nil value; a
// tombstone has a nil key and a true value.
type Entry struct {
	Key   *ObjString
	Value Value
}

const tableMaxLoad = 0.75

// Len returns the number of live entries. Tombstones are not counted.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Key != nil {
			n++
		}
	}
	return n
}

// Capacity returns the current slot count.
func (t *Table) Capacity() int {
	return len(t.entries)
}

// findEntry locates the slot for key: either the entry holding it, or the
// slot an insert should use (the first tombstone on the probe path if one
// was passed, otherwise the first empty slot).
func findEntry(entries []Entry, key *ObjString) *Entry {
	capacity := len(entries)
	index := int(key.Hash) % capacity
	var tombstone *Entry

	for {
		entry := &entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				// Truly empty.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.Key == key {
			return entry
		}
		index = (index + 1) % capacity
	}
}

// adjustCapacity rebuilds the table at the new capacity, dropping
// tombstones and recomputing count.
func (t *Table) adjustCapacity(capacity int) {
	entries := make([]Entry, capacity)
	t.count = 0
	for i := range t.entries {
		src := &t.entries[i]
		if src.Key == nil {
			continue
		}
		dest := findEntry(entries, src.Key)
		dest.Key = src.Key
		dest.Value = src.Value
		t.count++
	}
	t.entries = entries
}

// Get looks up key, reporting whether it was present.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if t.count == 0 {
		return NilVal(), false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return NilVal(), false
	}
	return entry.Value, true
}

// Set inserts or updates key. Returns true if the key was not present.
func (t *Table) Set(key *ObjString, value Value) bool {
	if t.count+1 > int(float64(len(t.entries))*tableMaxLoad) {
		capacity := len(t.entries) * 2
		if capacity < 8 {
			capacity = 8
		}
		t.adjustCapacity(capacity)
	}

	entry := findEntry(t.entries, key)
	isNew := entry.Key == nil
	if isNew && entry.Value.IsNil() {
		// A fresh slot, not a recycled tombstone.
		t.count++
	}
	entry.Key = key
	entry.Value = value
	return isNew
}

// Delete removes key, leaving a tombstone. Returns true if it was present.
func (t *Table) Delete(key *ObjString) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}
	entry.Key = nil
	entry.Value = BoolVal(true)
	return true
}

// AddAll copies every live entry of from into t.
func (t *Table) AddAll(from *Table) {
	for i := range from.entries {
		entry := &from.entries[i]
		if entry.Key != nil {
			t.Set(entry.Key, entry.Value)
		}
	}
}

// FindString probes for an entry whose key has the given contents. This is
// the one lookup that compares by contents rather than identity; the
// intern table uses it to canonicalize new strings.
func (t *Table) FindString(chars string, hash uint32) *ObjString {
	if t.count == 0 {
		return nil
	}
	capacity := len(t.entries)
	index := int(hash) % capacity

	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			// Stop on a truly empty slot; skip over tombstones.
			if entry.Value.IsNil() {
				return nil
			}
		} else if len(entry.Key.Chars) == len(chars) &&
			entry.Key.Hash == hash &&
			entry.Key.Chars == chars {
			return entry.Key
		}
		index = (index + 1) % capacity
	}
}

// removeUnmarked deletes entries whose key survived no mark phase. Only
// the string intern table is treated this way, which is what makes it a
// weak map.
func (t *Table) removeUnmarked() {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && !entry.Key.marked {
			t.Delete(entry.Key)
		}
	}
}
