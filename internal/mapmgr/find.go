package mapmgr

import (
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// Alignment classes for sub-page allocations.
const (
	Align16 uint64 = 16
	Align32 uint64 = 32
	Align64 uint64 = 64
)

// axis selects which address column of the table a search walks.
type axis int

const (
	axisPhysical axis = iota
	axisVirtual
)

func validAlignment(a uint64) bool {
	return a == Align16 || a == Align32 || a == Align64
}

// FindFreePages locates the next conventional region at or above floor
// with room for the requested page count and returns its candidate
// address, or NoAddress if no region qualifies.
//
// floor is a monotonically advancing cursor: callers re-invoke with the
// previously returned address to walk forward without revisiting. When
// floor lies inside a qualifying region with room remaining the
// candidate is floor plus one page; otherwise it is the region's start.
func (m *Manager) FindFreePages(pages uint64, floor physmem.Address) physmem.Address {
	return m.findFree(pages, physmem.PageSize, floor, axisPhysical)
}

// FindFreeBytes is FindFreePages measured in ceil(bytes/align) units of
// the given alignment class instead of pages, for sub-page requests
// that still want alignment guarantees.
func (m *Manager) FindFreeBytes(bytes, align uint64, floor physmem.Address) (physmem.Address, error) {
	if !validAlignment(align) {
		return physmem.NoAddress, ErrInvalidAlignment
	}
	units := (bytes + align - 1) / align
	return m.findFree(units, align, floor, axisPhysical), nil
}

// findFree is the bottom-up first-fit scan shared by every search
// family: units of size unit bytes on the chosen axis. The array is not
// sorted, so the whole populated prefix is scanned and the lowest
// qualifying candidate wins. Spans are end-exclusive: a span ending
// exactly at a region's end address is legal.
func (m *Manager) findFree(units, unit uint64, floor physmem.Address, ax axis) physmem.Address {
	if units == 0 {
		units = 1
	}
	a, err := m.arena()
	if err != nil {
		return physmem.NoAddress
	}
	span := physmem.Address(units * unit)
	best := physmem.NoAddress
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if v.Type() != descriptor.Conventional {
			continue
		}
		if v.SizeBytes()/unit < units {
			continue
		}
		var start, end physmem.Address
		if ax == axisVirtual {
			start, end = v.VirtualStart(), v.VirtualEnd()
		} else {
			start, end = v.PhysicalStart(), v.PhysicalEnd()
		}
		var cand physmem.Address
		switch {
		case floor >= start && floor < end:
			// Bump-allocator behaviour inside one region before
			// moving to the next.
			cand = floor + physmem.Address(unit)
		case start >= floor:
			cand = start
		default:
			// Region lies entirely below the cursor.
			continue
		}
		if cand > end || span > end-cand {
			continue
		}
		if cand < best {
			best = cand
		}
	}
	return best
}
