// Package mapmgr owns and mutates the authoritative table of memory
// regions handed off by platform firmware. The table is a flat byte
// buffer of descriptor records traversed at a firmware-supplied stride;
// it lives inside the physical space it describes and carries one
// descriptor for its own backing storage.
//
// The manager is single-threaded and non-reentrant: exactly one mutator
// at a time, never re-entered from a handler. Operations are bounded
// synchronous scans proportional to the descriptor count.
package mapmgr

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// Manager is the exclusive handle to the memory map. It replaces the
// original global map-info singleton so the single-mutator rule is
// carried by ownership of the value instead of by convention.
type Manager struct {
	phys physmem.Physical

	base     physmem.Address
	size     uint64 // descriptor bytes in use
	capacity uint64 // bytes of backing storage behind the array
	stride   uint64
	version  uint32

	virtualReady bool
}

// NewManager wraps the firmware-supplied descriptor array. base points
// at the array inside phys, size is its populated length in bytes,
// stride the per-record step (which may exceed the 40-byte record) and
// version the firmware descriptor format version.
//
// The returned manager has no self-describing entry yet; callers run
// InstallSelfDescriptor once before any other mutation.
func NewManager(phys physmem.Physical, base physmem.Address, size, stride uint64, version uint32) (*Manager, error) {
	if stride < descriptor.RecordSize {
		return nil, errors.Wrapf(ErrInvalidStride, "stride %d below record size %d", stride, descriptor.RecordSize)
	}
	if size == 0 || size%stride != 0 {
		return nil, errors.Wrapf(ErrInvalidStride, "map size %d is not a whole number of %d-byte strides", size, stride)
	}
	if _, err := phys.Slice(base, size); err != nil {
		return nil, errors.Wrap(err, "firmware map storage")
	}
	return &Manager{
		phys:     phys,
		base:     base,
		size:     size,
		capacity: size,
		stride:   stride,
		version:  version,
	}, nil
}

func (m *Manager) Base() physmem.Address    { return m.base }
func (m *Manager) SizeBytes() uint64        { return m.size }
func (m *Manager) CapacityBytes() uint64    { return m.capacity }
func (m *Manager) Stride() uint64           { return m.stride }
func (m *Manager) Version() uint32          { return m.version }
func (m *Manager) VirtualEstablished() bool { return m.virtualReady }

// DescriptorCount returns the number of populated records.
func (m *Manager) DescriptorCount() int { return int(m.size / m.stride) }

// arena returns the slot arena over the array's full backing storage.
func (m *Manager) arena() (descriptor.Arena, error) {
	buf, err := m.phys.Slice(m.base, m.capacity)
	if err != nil {
		return descriptor.Arena{}, errors.Wrap(err, "map storage")
	}
	return descriptor.NewArena(buf, int(m.stride))
}

// findType returns the index of the first record with the given type,
// or -1.
func (m *Manager) findType(a descriptor.Arena, t descriptor.Type) int {
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		if a.At(i).Type() == t {
			return i
		}
	}
	return -1
}

// EstablishIdentityMap records the identity virtual mapping: every
// record's virtual start is set equal to its physical start. Called
// once after the firmware accepts a set-virtual-address-map request;
// until then all virtual-address operations fail.
func (m *Manager) EstablishIdentityMap() error {
	a, err := m.arena()
	if err != nil {
		return err
	}
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		v.SetVirtualStart(v.PhysicalStart())
	}
	m.virtualReady = true
	logrus.WithFields(logrus.Fields{
		logfields.Base:  m.base,
		logfields.Count: m.DescriptorCount(),
	}).Debug("memmap::EstablishIdentityMap")
	return nil
}

// Descriptors returns a decoded snapshot of the table for diagnostic
// readers. Mutating the snapshot does not touch the map.
func (m *Manager) Descriptors() ([]descriptor.Descriptor, error) {
	a, err := m.arena()
	if err != nil {
		return nil, err
	}
	n := m.DescriptorCount()
	out := make([]descriptor.Descriptor, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, a.At(i).Decode())
	}
	return out, nil
}

// Validate checks the map invariants: page-aligned starts, at least one
// page per record, pairwise non-overlapping physical ranges, and
// exactly one self-describing entry whose range contains the array's
// backing storage.
func (m *Manager) Validate() error {
	a, err := m.arena()
	if err != nil {
		return err
	}
	n := m.DescriptorCount()
	selfSeen := false
	for i := 0; i < n; i++ {
		v := a.At(i)
		if !physmem.PageAligned(v.PhysicalStart()) {
			return errors.Wrapf(ErrMapInconsistent, "record %d: physical start 0x%x not page aligned", i, v.PhysicalStart())
		}
		if v.NumberOfPages() == 0 {
			return errors.Wrapf(ErrMapInconsistent, "record %d: zero pages", i)
		}
		for j := i + 1; j < n; j++ {
			w := a.At(j)
			if v.PhysicalStart() < w.PhysicalEnd() && w.PhysicalStart() < v.PhysicalEnd() {
				return errors.Wrapf(ErrMapInconsistent, "records %d and %d overlap", i, j)
			}
		}
		if v.Type() == descriptor.SelfDescribingMap {
			if selfSeen {
				return errors.Wrap(ErrMapInconsistent, "more than one self-describing entry")
			}
			selfSeen = true
			if v.PhysicalStart() > m.base || v.PhysicalEnd() < m.base+physmem.Address(m.size) {
				return errors.Wrap(ErrMapInconsistent, "self-describing entry does not contain the array")
			}
		}
	}
	if !selfSeen {
		return errors.Wrap(ErrMapInconsistent, "no self-describing entry")
	}
	return nil
}
