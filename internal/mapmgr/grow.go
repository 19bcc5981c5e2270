package mapmgr

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// InstallSelfDescriptor performs the one-time bootstrap relocation:
// the firmware-supplied array is moved into a fresh conventional
// region sized for the map plus headroom, and that region is tagged as
// the map's own storage. Nothing else may mutate the map before this
// has run.
func (m *Manager) InstallSelfDescriptor() error {
	a, err := m.arena()
	if err != nil {
		return err
	}
	if m.findType(a, descriptor.SelfDescribingMap) >= 0 {
		return errors.Wrap(ErrMapInconsistent, "self-describing entry already present")
	}
	return m.relocate(m.size)
}

// ensureHeadroom grows the map when fewer than extra bytes of record
// capacity remain. It runs before any operation that may insert
// records, so relocation never interleaves with a split.
func (m *Manager) ensureHeadroom(extra uint64) error {
	if m.size+extra <= m.capacity {
		return nil
	}
	return m.relocate(m.size + extra)
}

// relocate moves the array into a conventional region big enough for
// newTotal bytes of records plus headroom and retags the map's own
// storage. This is the only code path that changes the array's base
// address.
//
// The relocation runs in one uninterruptible sequence: zero the
// destination, copy the records, zero the old location, retag. Between
// the copy and the retag the map transiently lacks (or doubly carries)
// a self entry, which is why no other mutation may observe it.
func (m *Manager) relocate(newTotal uint64) error {
	a, err := m.arena()
	if err != nil {
		return err
	}

	// One stride is consumed if tagging the new region needs a split,
	// one more stays spare so growth does not immediately re-trigger.
	needPages := physmem.PagesFor(newTotal + 2*m.stride)
	newCap := needPages * physmem.PageSize

	// Candidates are region base addresses only, never a mid-region
	// offset, so the new storage is trivially describable by the
	// existing split logic. Bottom-up: lowest qualifying base wins.
	newBase := physmem.NoAddress
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if v.Type() != descriptor.Conventional || v.NumberOfPages() < needPages {
			continue
		}
		start, end := v.PhysicalStart(), v.PhysicalEnd()
		if start < m.base+physmem.Address(m.capacity) && m.base < end {
			// Overlaps the storage being moved out of.
			continue
		}
		if start < newBase {
			newBase = start
		}
	}
	if newBase == physmem.NoAddress {
		return errors.Wrapf(ErrNotEnoughSpace, "relocating map to %d pages", needPages)
	}

	if err := physmem.Zero(m.phys, newBase, newCap); err != nil {
		return errors.Wrap(err, "zero map destination")
	}
	src, err := m.phys.Slice(m.base, m.size)
	if err != nil {
		return errors.Wrap(err, "map source")
	}
	dst, err := m.phys.Slice(newBase, m.size)
	if err != nil {
		return errors.Wrap(err, "map destination")
	}
	copy(dst, src)
	if err := physmem.Zero(m.phys, m.base, m.size); err != nil {
		return errors.Wrap(err, "zero old map location")
	}

	oldBase, oldCap := m.base, m.capacity
	m.base = newBase
	m.capacity = newCap

	a, err = m.arena()
	if err != nil {
		return err
	}

	// On growth the previous storage returns to the free pool.
	if i := m.findType(a, descriptor.SelfDescribingMap); i >= 0 {
		a.At(i).SetType(descriptor.Conventional)
	}

	// Re-scan the relocated array for the region that now holds it.
	idx := -1
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if v.Type() == descriptor.Conventional && v.PhysicalStart() == newBase {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrapf(ErrDescriptorNotFound, "no conventional region starts at new map base 0x%x", newBase)
	}

	v := a.At(idx)
	span := physmem.Address(newCap)
	if v.NumberOfPages() == needPages {
		v.SetType(descriptor.SelfDescribingMap)
	} else {
		if err := a.InsertAt(idx, int(m.size)); err != nil {
			return errors.Wrap(err, "insert self-describing record")
		}
		m.size += m.stride
		orig := a.At(idx + 1)
		self := descriptor.Descriptor{
			Type:          descriptor.SelfDescribingMap,
			Pad:           orig.Pad(),
			PhysicalStart: newBase,
			VirtualStart:  orig.VirtualStart(),
			NumberOfPages: needPages,
			Attribute:     orig.Attribute(),
		}
		orig.SetPhysicalStart(orig.PhysicalStart() + span)
		orig.SetVirtualStart(orig.VirtualStart() + span)
		orig.SetNumberOfPages(orig.NumberOfPages() - needPages)
		a.At(idx).Encode(self)
	}

	logrus.WithFields(logrus.Fields{
		logfields.Base:     m.base,
		logfields.Size:     m.size,
		logfields.Capacity: m.capacity,
		logfields.Pages:    needPages,
		"old-base":         oldBase,
		"old-capacity":     oldCap,
	}).Debug("memmap::relocate")
	return nil
}
