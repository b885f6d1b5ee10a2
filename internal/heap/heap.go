// Package heap implements the managed integer-array heap that backs
// TeenyJVM reference values.
//
// A Heap is an append-only vector of owned int32 arrays. A Ref is the
// zero-based index into that vector at the time the array was added.
// References are stable for the lifetime of the Heap: nothing is ever
// freed, compacted, or reference-counted until Close releases the whole
// heap at once. This mirrors the "append-only vector of array pointers"
// storage policy the bytecode engine assumes (see internal/engine).
//
// Unlike the reference C implementation, the array's length is not
// smuggled into element 0 of its own backing storage — each heap slot
// keeps (length, elements) as a small struct, and Len/Get expose those
// separately. arraylength, iaload, and iastore observe identical
// behavior either way; this is purely an internal representation choice.
package heap

// Ref is an opaque, non-negative identifier for an array allocated on a
// Heap. The zero value, 0, is also the first reference a Heap ever
// hands out, so a reference slot that has never been written (e.g. an
// uninitialized local) must not be dereferenced without first knowing an
// allocation produced it.
type Ref int32

type array struct {
	length int32
	elems  []int32
}

// Heap owns every integer array allocated during one execution.
type Heap struct {
	arrays []array
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{}
}

// Add allocates a new array of the given length, zero-fills it, and
// returns the reference by which it can later be retrieved. Length must
// be non-negative; the engine is responsible for checking this before
// calling Add (see the newarray opcode).
func (h *Heap) Add(length int32) Ref {
	h.arrays = append(h.arrays, array{
		length: length,
		elems:  make([]int32, length),
	})
	return Ref(len(h.arrays) - 1)
}

// Len returns the length of the array at ref, as observed by the
// arraylength opcode. Behavior is undefined if ref was never returned
// by Add on this heap.
func (h *Heap) Len(ref Ref) int32 {
	return h.arrays[ref].length
}

// Get returns a mutable view onto the elements of the array at ref.
// Index 0 of the returned slice is logical element 0 of the array
// (unlike the reference implementation, no length field is interleaved
// in). Behavior is undefined if ref was never returned by Add on this
// heap.
func (h *Heap) Get(ref Ref) []int32 {
	return h.arrays[ref].elems
}

// Close releases every array held by the heap. The heap is not usable
// afterward. There is no reference counting or mark-sweep: every array
// simply lives until Close is called.
func (h *Heap) Close() {
	h.arrays = nil
}
