package physmem

import "github.com/pkg/errors"

// Buffer is a Physical backed by an ordinary byte slice, presented at
// an arbitrary base address. Tests and tools use it to stand in for a
// machine's physical memory.
type Buffer struct {
	base Address
	mem  []byte
}

var _ Physical = (*Buffer)(nil)

// NewBuffer returns a Buffer covering [base, base+size).
func NewBuffer(base Address, size uint64) *Buffer {
	return &Buffer{base: base, mem: make([]byte, size)}
}

// NewBufferAt wraps an existing slice as the window [base, base+len(mem)).
func NewBufferAt(base Address, mem []byte) *Buffer {
	return &Buffer{base: base, mem: mem}
}

func (b *Buffer) Bounds() (Address, Address) {
	return b.base, b.base + Address(len(b.mem))
}

func (b *Buffer) Slice(addr Address, length uint64) ([]byte, error) {
	if addr < b.base {
		return nil, errors.Wrapf(ErrOutOfBounds, "address 0x%x below window base 0x%x", addr, b.base)
	}
	off := uint64(addr - b.base)
	if off+length > uint64(len(b.mem)) || off+length < off {
		return nil, errors.Wrapf(ErrOutOfBounds, "range [0x%x, +0x%x) beyond window end 0x%x", addr, length, b.base+Address(len(b.mem)))
	}
	return b.mem[off : off+length : off+length], nil
}
