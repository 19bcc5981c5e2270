package mapmgr

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// MergeFreeRegions coalesces physically adjacent conventional regions
// into single records and reclaims slack from the map's own footprint.
// Applying it twice in a row produces the same map as applying it once.
//
// Reclamation favours simplicity and termination over byte-perfect
// compaction; it never re-enters the relocation path.
func (m *Manager) MergeFreeRegions() error {
	a, err := m.arena()
	if err != nil {
		return err
	}

	merges := 0
	for i := 0; i < m.DescriptorCount(); {
		v := a.At(i)
		if v.Type() != descriptor.Conventional {
			i++
			continue
		}
		end := v.PhysicalEnd()
		merged := false
		for j, n := 0, m.DescriptorCount(); j < n; j++ {
			if j == i {
				continue
			}
			w := a.At(j)
			if w.Type() != descriptor.Conventional || w.PhysicalStart() != end {
				continue
			}
			v.SetNumberOfPages(v.NumberOfPages() + w.NumberOfPages())
			if err := a.RemoveAt(j, int(m.size)); err != nil {
				return errors.Wrap(err, "remove merged record")
			}
			m.size -= m.stride
			if j < i {
				i--
			}
			merges++
			merged = true
			break
		}
		if !merged {
			// Multiple adjacent runs may need repeated merging, so
			// only advance once no neighbour was folded in.
			i++
		}
	}

	if err := m.reclaimSelfSlack(a); err != nil {
		return err
	}

	if merges > 0 {
		logrus.WithFields(logrus.Fields{
			logfields.Count: merges,
			logfields.Size:  m.size,
		}).Debug("memmap::MergeFreeRegions")
	}
	return nil
}

// reclaimSelfSlack compares the self-describing entry's footprint with
// the pages the records actually need and returns the difference to
// the free pool when it is worth the bookkeeping.
func (m *Manager) reclaimSelfSlack(a descriptor.Arena) error {
	selfIdx := m.findType(a, descriptor.SelfDescribingMap)
	if selfIdx < 0 {
		return errors.Wrap(ErrMapInconsistent, "no self-describing entry during merge")
	}
	self := a.At(selfIdx)
	minPages := physmem.PagesFor(m.size)
	if self.NumberOfPages() <= minPages {
		return nil
	}
	slack := self.NumberOfPages() - minPages
	selfStart := self.PhysicalStart()
	shrunkEnd := selfStart + physmem.Address(minPages*physmem.PageSize)
	oldEnd := self.PhysicalEnd()

	// Cheapest case: a conventional region sits right above the map,
	// so the slack folds into it with no new record.
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		if i == selfIdx {
			continue
		}
		v := a.At(i)
		if v.Type() != descriptor.Conventional || v.PhysicalStart() != oldEnd {
			continue
		}
		v.SetPhysicalStart(shrunkEnd)
		v.SetVirtualStart(v.VirtualStart() - physmem.Address(slack*physmem.PageSize))
		v.SetNumberOfPages(v.NumberOfPages() + slack)
		self.SetNumberOfPages(minPages)
		m.capacity = minPages * physmem.PageSize
		return nil
	}

	// Room left within the map's own last page for one more record:
	// insert the slack region without shrinking capacity below it.
	if m.size+m.stride <= minPages*physmem.PageSize {
		if err := a.InsertAt(selfIdx+1, int(m.size)); err != nil {
			return errors.Wrap(err, "insert slack record")
		}
		m.size += m.stride
		self = a.At(selfIdx)
		a.At(selfIdx + 1).Encode(descriptor.Descriptor{
			Type:          descriptor.Conventional,
			Pad:           self.Pad(),
			PhysicalStart: shrunkEnd,
			VirtualStart:  self.VirtualStart() + physmem.Address(minPages*physmem.PageSize),
			NumberOfPages: slack,
			Attribute:     self.Attribute(),
		})
		self.SetNumberOfPages(minPages)
		m.capacity = minPages * physmem.PageSize
		return nil
	}

	// Keep one spare record-sized page reserved; inserting without it
	// would force another relocation. Only worth it when the slack
	// exceeds that reserve.
	if slack > 1 {
		keep := minPages + 1
		if err := a.InsertAt(selfIdx+1, int(m.size)); err != nil {
			return errors.Wrap(err, "insert slack record")
		}
		m.size += m.stride
		self = a.At(selfIdx)
		a.At(selfIdx + 1).Encode(descriptor.Descriptor{
			Type:          descriptor.Conventional,
			Pad:           self.Pad(),
			PhysicalStart: selfStart + physmem.Address(keep*physmem.PageSize),
			VirtualStart:  self.VirtualStart() + physmem.Address(keep*physmem.PageSize),
			NumberOfPages: slack - 1,
			Attribute:     self.Attribute(),
		})
		self.SetNumberOfPages(keep)
		m.capacity = keep * physmem.PageSize
	}

	// Otherwise the slack is smaller than one record's overhead and
	// not worth reclaiming yet.
	return nil
}
