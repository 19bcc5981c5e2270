package mapmgr

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// alignmentClassFor picks the smallest alignment class that satisfies
// the requested byte count, escalating 16, 32, 64 as the size grows.
// Requests of a page or more take the page-granularity path instead.
func alignmentClassFor(n uint64) uint64 {
	switch {
	case n < 32:
		return Align16
	case n < 64:
		return Align32
	default:
		return Align64
	}
}

// AllocatePages commits pages of physical storage, retyping or
// splitting a conventional descriptor. The committed storage is
// zero-filled before the address is returned.
func (m *Manager) AllocatePages(pages uint64) (physmem.Address, error) {
	return m.allocPages(pages, descriptor.KernelMalloc, axisPhysical)
}

// AllocatePageTablePages commits physical storage tagged for page-table
// use, so paging setup is accounted in the same table as everything
// else.
func (m *Manager) AllocatePageTablePages(pages uint64) (physmem.Address, error) {
	return m.allocPages(pages, descriptor.PageTableStorage, axisPhysical)
}

// AllocateVirtualPages is AllocatePages on the virtual address column.
// It requires an established virtual address map.
func (m *Manager) AllocateVirtualPages(pages uint64) (physmem.Address, error) {
	return m.allocPages(pages, descriptor.KernelVmalloc, axisVirtual)
}

// AllocateBytes commits a sub-page allocation of n bytes in the
// smallest alignment class that satisfies it, escalating to whole
// pages at 4096 bytes and above. Bookkeeping stays page-granular: the
// containing pages are retyped, but the returned address carries the
// class alignment.
func (m *Manager) AllocateBytes(n uint64) (physmem.Address, error) {
	return m.allocBytes(n, descriptor.KernelMalloc, axisPhysical)
}

// AllocateVirtualBytes is AllocateBytes on the virtual address column.
func (m *Manager) AllocateVirtualBytes(n uint64) (physmem.Address, error) {
	return m.allocBytes(n, descriptor.KernelVmalloc, axisVirtual)
}

func (m *Manager) allocPages(pages uint64, typ descriptor.Type, ax axis) (physmem.Address, error) {
	if pages == 0 {
		pages = 1
	}
	if ax == axisVirtual && !m.virtualReady {
		return physmem.NoAddress, ErrVirtualMapNotSet
	}
	// A split can insert up to two records (allocated span plus a
	// trailing remainder), so reserve the headroom before searching.
	if err := m.ensureHeadroom(2 * m.stride); err != nil {
		return physmem.NoAddress, err
	}
	addr := m.findFree(pages, physmem.PageSize, 0, ax)
	if addr == physmem.NoAddress {
		return physmem.NoAddress, errors.Wrapf(ErrNotEnoughSpace, "%d pages of %s", pages, typ)
	}
	if err := m.commit(addr, pages, typ, ax); err != nil {
		return physmem.NoAddress, err
	}
	logrus.WithFields(logrus.Fields{
		logfields.Address:    addr,
		logfields.Pages:      pages,
		logfields.RegionType: typ.String(),
	}).Debug("memmap::AllocatePages")
	return addr, nil
}

func (m *Manager) allocBytes(n uint64, typ descriptor.Type, ax axis) (physmem.Address, error) {
	if n >= physmem.PageSize {
		return m.allocPages(physmem.PagesFor(n), typ, ax)
	}
	if ax == axisVirtual && !m.virtualReady {
		return physmem.NoAddress, ErrVirtualMapNotSet
	}
	if err := m.ensureHeadroom(2 * m.stride); err != nil {
		return physmem.NoAddress, err
	}
	align := alignmentClassFor(n)
	units := (n + align - 1) / align
	if units == 0 {
		units = 1
	}
	addr := m.findFree(units, align, 0, ax)
	if addr == physmem.NoAddress {
		return physmem.NoAddress, errors.Wrapf(ErrNotEnoughSpace, "%d bytes at alignment %d", n, align)
	}
	// Commit the containing pages so descriptor starts stay
	// page-aligned; the caller gets the class-aligned address.
	pageAddr := physmem.Address(uint64(addr) &^ (physmem.PageSize - 1))
	spanPages := physmem.PagesFor(uint64(addr-pageAddr) + units*align)
	if err := m.commit(pageAddr, spanPages, typ, ax); err != nil {
		return physmem.NoAddress, err
	}
	logrus.WithFields(logrus.Fields{
		logfields.Address:    addr,
		logfields.Bytes:      n,
		logfields.Alignment:  align,
		logfields.RegionType: typ.String(),
	}).Debug("memmap::AllocateBytes")
	return addr, nil
}

// commit turns a finder candidate into a committed allocation: the
// owning conventional descriptor is retyped in place when the span
// covers it exactly, or split around the span otherwise. addr must be
// page-aligned on the chosen axis. Storage is zero-filled before any
// descriptor is touched, so a zero failure leaves the map unchanged.
func (m *Manager) commit(addr physmem.Address, pages uint64, typ descriptor.Type, ax axis) error {
	a, err := m.arena()
	if err != nil {
		return err
	}
	span := physmem.Address(pages * physmem.PageSize)

	idx := -1
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if v.Type() != descriptor.Conventional {
			continue
		}
		start, end := axisRange(v, ax)
		if start <= addr && addr < end && span <= end-addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrapf(ErrDescriptorNotFound, "no conventional region owns [0x%x, +0x%x)", addr, span)
	}

	v := a.At(idx)
	start, _ := axisRange(v, ax)
	offset := addr - start
	physAddr := v.PhysicalStart() + offset

	if err := physmem.Zero(m.phys, physAddr, uint64(span)); err != nil {
		return errors.Wrap(err, "zero-fill allocation")
	}

	frontPages := uint64(offset) / physmem.PageSize
	tailPages := v.NumberOfPages() - frontPages - pages

	if frontPages == 0 && tailPages == 0 {
		// Trivial case: the span covers the whole region.
		v.SetType(typ)
		return nil
	}

	alloc := descriptor.Descriptor{
		Type:          typ,
		Pad:           v.Pad(),
		PhysicalStart: physAddr,
		VirtualStart:  v.VirtualStart() + offset,
		NumberOfPages: pages,
		Attribute:     v.Attribute(),
	}

	if frontPages == 0 {
		// Shrink the free region to begin after the span and write
		// the allocation into the freed slot.
		if err := a.InsertAt(idx, int(m.size)); err != nil {
			return errors.Wrap(err, "insert allocation record")
		}
		m.size += m.stride
		orig := a.At(idx + 1)
		orig.SetPhysicalStart(orig.PhysicalStart() + span)
		orig.SetVirtualStart(orig.VirtualStart() + span)
		orig.SetNumberOfPages(orig.NumberOfPages() - pages)
		a.At(idx).Encode(alloc)
		return nil
	}

	// Interior span: the front remainder keeps the original record.
	v.SetNumberOfPages(frontPages)
	if err := a.InsertAt(idx+1, int(m.size)); err != nil {
		return errors.Wrap(err, "insert allocation record")
	}
	m.size += m.stride
	a.At(idx + 1).Encode(alloc)
	if tailPages > 0 {
		if err := a.InsertAt(idx+2, int(m.size)); err != nil {
			return errors.Wrap(err, "insert remainder record")
		}
		m.size += m.stride
		a.At(idx + 2).Encode(descriptor.Descriptor{
			Type:          descriptor.Conventional,
			Pad:           alloc.Pad,
			PhysicalStart: alloc.PhysicalStart + span,
			VirtualStart:  alloc.VirtualStart + span,
			NumberOfPages: tailPages,
			Attribute:     alloc.Attribute,
		})
	}
	return nil
}

func axisRange(v descriptor.View, ax axis) (physmem.Address, physmem.Address) {
	if ax == axisVirtual {
		return v.VirtualStart(), v.VirtualEnd()
	}
	return v.PhysicalStart(), v.PhysicalEnd()
}
