package mapmgr

import (
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// nonRAM region types are address-space windows, not system RAM.
var nonRAM = map[descriptor.Type]bool{
	descriptor.MemoryMappedIo:          true,
	descriptor.MemoryMappedIoPortSpace: true,
	descriptor.PalCode:                 true,
	descriptor.PersistentMemory:        true,
	descriptor.MaxMemoryType:           true,
}

// MaxMappedPhysicalAddress returns the highest physical end address in
// the map, the upper bound of the physical address space for later
// paging use. Zero if the map is empty.
func (m *Manager) MaxMappedPhysicalAddress() physmem.Address {
	a, err := m.arena()
	if err != nil {
		return 0
	}
	var max physmem.Address
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		if end := a.At(i).PhysicalEnd(); end > max {
			max = end
		}
	}
	return max
}

// VisibleSystemRAM sums the page bytes of every region that is actual
// RAM, excluding memory-mapped IO and similar address-space windows.
func (m *Manager) VisibleSystemRAM() uint64 {
	return m.sumBytes(func(t descriptor.Type) bool { return !nonRAM[t] })
}

// FreeSystemRAM sums the page bytes of conventional (free) regions.
func (m *Manager) FreeSystemRAM() uint64 {
	return m.sumBytes(func(t descriptor.Type) bool { return t == descriptor.Conventional })
}

// FreePersistentRAM sums the page bytes of persistent-memory regions.
func (m *Manager) FreePersistentRAM() uint64 {
	return m.sumBytes(func(t descriptor.Type) bool { return t == descriptor.PersistentMemory })
}

// InstalledRAMEstimate approximates the installed RAM by rounding the
// visible total up to the nearest standard 64 MiB module boundary.
// Best effort only, for when firmware-reported SMBIOS sizes are
// unreliable; never authoritative.
func (m *Manager) InstalledRAMEstimate() uint64 {
	visible := m.VisibleSystemRAM()
	return (visible + 63*physmem.MiB) / (64 * physmem.MiB) * (64 * physmem.MiB)
}

// VerifyZero scans length raw bytes at addr and reports whether they
// are all zero. Used to validate the zero-fill postcondition of the
// allocator; an unmappable range reports false.
func (m *Manager) VerifyZero(addr physmem.Address, length uint64) bool {
	return physmem.IsZero(m.phys, addr, length)
}

func (m *Manager) sumBytes(include func(descriptor.Type) bool) uint64 {
	a, err := m.arena()
	if err != nil {
		return 0
	}
	var total uint64
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if include(v.Type()) {
			total += v.SizeBytes()
		}
	}
	return total
}
