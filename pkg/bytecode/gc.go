package bytecode

import (
	"reflect"
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("lox.gc")

// heapGrowFactor scales the next collection threshold after each cycle.
const heapGrowFactor = 2

// initialGCThreshold is the allocation volume before the first collection.
const initialGCThreshold = 1024 * 1024

// rootMarker is anything that contributes roots to a collection. The VM
// registers itself for its stacks and globals; the compiler registers
// itself while parsing so in-progress functions survive collections
// triggered mid-compile.
type rootMarker interface {
	markRoots(h *Heap)
}

// Heap owns every Lox object: the intrusive object list, the allocation
// accounting that schedules collections, the gray worklist, and the weak
// string intern table. Collection is precise, non-moving, stop-the-world
// tri-color mark-sweep.
type Heap struct {
	objects        Obj
	bytesAllocated int
	nextGC         int
	gray           []Obj
	strings        Table
	roots          []rootMarker

	// Stress forces a collection on every allocation.
	Stress bool
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{nextGC: initialGCThreshold}
}

// BytesAllocated returns the current accounted allocation volume.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// AddRoots registers a root source for future collections.
func (h *Heap) AddRoots(r rootMarker) {
	h.roots = append(h.roots, r)
}

// RemoveRoots unregisters a root source.
func (h *Heap) RemoveRoots(r rootMarker) {
	for i, existing := range h.roots {
		if existing == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// allocate accounts a freshly created object and links it into the object
// list. Any collection this allocation triggers runs before the link, so
// the new object is never swept while its owner still holds the only
// reference in a Go local.
func (h *Heap) allocate(o Obj, size int) {
	h.bytesAllocated += size
	if h.Stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
	hdr := o.header()
	hdr.next = h.objects
	h.objects = o
}

// Collect runs one full mark-sweep cycle.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	start := time.Now()

	h.gray = h.gray[:0]
	for _, r := range h.roots {
		r.markRoots(h)
	}
	h.traceReferences()
	h.strings.removeUnmarked()
	h.sweep()

	h.nextGC = h.bytesAllocated * heapGrowFactor
	gcLog.Debugf("collected %d bytes (%d -> %d) in %s, next at %d",
		before-h.bytesAllocated, before, h.bytesAllocated, time.Since(start), h.nextGC)
}

// markValue paints the object inside v gray, if any.
func (h *Heap) markValue(v Value) {
	if v.IsObj() {
		h.markObject(v.Obj)
	}
}

// markObject paints o gray and queues it for blackening. Already-marked
// objects are not re-queued, which is what terminates cycles. Nil
// references, including typed nil pointers such as a script function's
// Name or a closure upvalue slot not yet filled, are skipped.
func (h *Heap) markObject(o Obj) {
	if o == nil || reflect.ValueOf(o).IsNil() {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.gray = append(h.gray, o)
}

// markTable marks every key and value of a table.
func (h *Heap) markTable(t *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			h.markObject(entry.Key)
		}
		h.markValue(entry.Value)
	}
}

// traceReferences drains the gray worklist, blackening each object by
// marking everything it references directly.
func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o Obj) {
	switch o := o.(type) {
	case *ObjString, *ObjNative:
		// No outgoing references.
	case *ObjFunction:
		h.markObject(o.Name)
		for _, constant := range o.Chunk.Constants {
			h.markValue(constant)
		}
	case *ObjClosure:
		h.markObject(o.Function)
		for _, upvalue := range o.Upvalues {
			h.markObject(upvalue)
		}
	case *ObjUpvalue:
		h.markValue(o.Closed)
	case *ObjClass:
		h.markObject(o.Name)
		h.markTable(&o.Methods)
	case *ObjInstance:
		h.markObject(o.Class)
		h.markTable(&o.Fields)
	case *ObjBoundMethod:
		h.markValue(o.Receiver)
		h.markObject(o.Method)
	}
}

// sweep unlinks every unmarked object and clears the mark bit on the
// survivors for the next cycle. The Go runtime reclaims the memory once
// the object list no longer references it.
func (h *Heap) sweep() {
	var prev Obj
	o := h.objects
	for o != nil {
		hdr := o.header()
		if hdr.marked {
			hdr.marked = false
			prev = o
			o = hdr.next
			continue
		}

		dead := o
		o = hdr.next
		if prev == nil {
			h.objects = o
		} else {
			prev.header().next = o
		}
		hdr.next = nil
		h.bytesAllocated -= objSize(dead)
	}
}
