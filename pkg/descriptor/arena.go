package descriptor

import "github.com/pkg/errors"

var (
	ErrBadStride   = errors.New("descriptor stride smaller than the record size")
	ErrSlotBounds  = errors.New("slot index outside the populated array")
	ErrArenaFull   = errors.New("no capacity left for another descriptor slot")
	ErrShortBuffer = errors.New("buffer does not hold a whole number of slots")
)

// Arena is the descriptor array as an arena of fixed-stride slots
// addressed by index. It owns the only two bulk-move operations in the
// module (InsertAt, RemoveAt) so the shift arithmetic exists in exactly
// one place.
//
// The buffer runs to the array's capacity; the populated prefix is
// tracked by the caller as a byte count and passed to each call. Arena
// never assumes the stride equals RecordSize.
type Arena struct {
	buf    []byte
	stride int
}

// NewArena wraps buf, which must be able to hold whole slots of the
// given stride.
func NewArena(buf []byte, stride int) (Arena, error) {
	if stride < RecordSize {
		return Arena{}, errors.Wrapf(ErrBadStride, "stride %d", stride)
	}
	return Arena{buf: buf, stride: stride}, nil
}

// Stride returns the byte distance between successive slots.
func (a Arena) Stride() int { return a.stride }

// Capacity returns the total number of slots the buffer can hold.
func (a Arena) Capacity() int { return len(a.buf) / a.stride }

// Count returns the number of populated slots in a prefix of used bytes.
func (a Arena) Count(used int) int { return used / a.stride }

// At returns a view of slot i. i must be below the arena capacity;
// callers bound i by Count(used) themselves when walking the populated
// prefix.
func (a Arena) At(i int) View {
	off := i * a.stride
	return View{b: a.buf[off : off+RecordSize]}
}

// InsertAt opens slot i by shifting every populated slot at or above i
// one stride toward higher memory in a single bulk move, then zeroes
// the freed slot. used is the populated byte count before the insert;
// the caller accounts for the extra stride afterwards.
func (a Arena) InsertAt(i, used int) error {
	if used%a.stride != 0 {
		return errors.Wrapf(ErrShortBuffer, "used bytes %d, stride %d", used, a.stride)
	}
	n := a.Count(used)
	if i < 0 || i > n {
		return errors.Wrapf(ErrSlotBounds, "insert at %d of %d", i, n)
	}
	if used+a.stride > len(a.buf) {
		return ErrArenaFull
	}
	off := i * a.stride
	copy(a.buf[off+a.stride:used+a.stride], a.buf[off:used])
	clear(a.buf[off : off+a.stride])
	return nil
}

// RemoveAt deletes slot i by shifting the remainder of the populated
// prefix one stride toward lower memory, then zeroes the vacated tail
// slot. used is the populated byte count before the removal.
func (a Arena) RemoveAt(i, used int) error {
	if used%a.stride != 0 {
		return errors.Wrapf(ErrShortBuffer, "used bytes %d, stride %d", used, a.stride)
	}
	n := a.Count(used)
	if i < 0 || i >= n {
		return errors.Wrapf(ErrSlotBounds, "remove at %d of %d", i, n)
	}
	off := i * a.stride
	copy(a.buf[off:used-a.stride], a.buf[off+a.stride:used])
	clear(a.buf[used-a.stride : used])
	return nil
}
