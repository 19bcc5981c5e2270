// Package physmem models the raw physical byte space the memory map
// lives in. The map manager never touches memory directly; it goes
// through a Physical handle so the same algorithms run against live
// identity-mapped memory, an anonymous mmap arena, or a plain buffer
// in tests.
package physmem

import "github.com/pkg/errors"

// Address is a byte address in the physical (or established virtual)
// address space.
type Address uint64

// NoAddress is the reserved "no address found" value. No valid
// physical or virtual address can take it on supported hardware, so
// callers can check exhaustion with a plain comparison.
const NoAddress = ^Address(0)

const (
	KiB uint64 = 1024
	MiB uint64 = 1024 * KiB
	GiB uint64 = 1024 * MiB

	// PageSize is the firmware page size in bytes.
	PageSize uint64 = 4096
)

var (
	ErrOutOfBounds = errors.New("address range outside physical space")
	ErrNotMapped   = errors.New("no backing storage at the given address")
)

// Physical is byte-level access to a physical address space window.
//
// Slice returns a view aliasing the underlying storage; writes through
// the returned slice are visible to every other holder of the handle.
type Physical interface {
	Slice(addr Address, length uint64) ([]byte, error)
	// Bounds reports the inclusive start and exclusive end of the
	// addressable window.
	Bounds() (Address, Address)
}

// PageAligned reports whether a is a multiple of the page size.
func PageAligned(a Address) bool {
	return uint64(a)%PageSize == 0
}

// PagesFor returns the number of whole pages needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return (n + PageSize - 1) / PageSize
}

// Zero clears length bytes at addr.
func Zero(p Physical, addr Address, length uint64) error {
	b, err := p.Slice(addr, length)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// IsZero scans length bytes at addr and reports whether all of them
// are zero. An unmappable range reports false.
func IsZero(p Physical, addr Address, length uint64) bool {
	b, err := p.Slice(addr, length)
	if err != nil {
		return false
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
