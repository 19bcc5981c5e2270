//go:build linux

package physmem

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapArena is a Physical backed by an anonymous memory mapping. It
// exists so tools can exercise the map manager against address spaces
// far larger than is reasonable for a garbage-collected slice.
type MmapArena struct {
	base Address
	mem  []byte
}

var _ Physical = (*MmapArena)(nil)

// NewMmapArena maps size bytes of zeroed anonymous memory and presents
// it as the physical window [base, base+size).
func NewMmapArena(base Address, size uint64) (*MmapArena, error) {
	if size%PageSize != 0 {
		return nil, errors.Errorf("arena size 0x%x is not page aligned", size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap arena")
	}
	return &MmapArena{base: base, mem: mem}, nil
}

// Close releases the mapping. The arena must not be used afterwards.
func (a *MmapArena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

func (a *MmapArena) Bounds() (Address, Address) {
	return a.base, a.base + Address(len(a.mem))
}

func (a *MmapArena) Slice(addr Address, length uint64) ([]byte, error) {
	if a.mem == nil {
		return nil, errors.Wrap(ErrNotMapped, "arena is closed")
	}
	if addr < a.base {
		return nil, errors.Wrapf(ErrOutOfBounds, "address 0x%x below arena base 0x%x", addr, a.base)
	}
	off := uint64(addr - a.base)
	if off+length > uint64(len(a.mem)) || off+length < off {
		return nil, errors.Wrapf(ErrOutOfBounds, "range [0x%x, +0x%x) beyond arena end 0x%x", addr, length, a.base+Address(len(a.mem)))
	}
	return a.mem[off : off+length : off+length], nil
}
