// Package memmap manages the boot-time physical/virtual memory map a
// freestanding kernel inherits from platform firmware. It owns the
// single authoritative table of memory regions: which ranges are free,
// allocated, or reserved for the table's own bookkeeping.
//
// The table is self-describing. Its backing storage is one of its own
// entries, and the manager can relocate and grow that storage without
// overwriting live data. Records are traversed at the firmware-supplied
// stride, which may exceed the logical record size.
//
// The manager is strictly single-threaded: it runs during early bring-up
// before any scheduler exists, and mutating operations leave the table
// transiently inconsistent, so callers must guarantee one mutator at a
// time. Context parameters carry tracing and logging only.
package memmap

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/internal/mapmgr"
	"github.com/efikit/memmap/internal/oc"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// FirmwareRuntime is the platform firmware collaborator. The manager
// issues a single set-virtual-address-map call through it at
// initialization to request identity mapping of the table; everything
// else firmware-related is out of scope.
type FirmwareRuntime interface {
	SetVirtualAddressMap(mapSize, descriptorSize uint64, descriptorVersion uint32, records []byte) error
}

// Config is the firmware handoff: where the initial descriptor array
// lives and how to step through it.
type Config struct {
	// Memory is byte-level access to the physical address space the
	// table describes. It must cover the table's storage and every
	// conventional region, since allocation zero-fills through it.
	Memory physmem.Physical

	// MapAddress and MapSize locate the firmware-built array.
	MapAddress physmem.Address
	MapSize    uint64

	// DescriptorStride is the firmware's byte step between records;
	// it may exceed the 40-byte logical record.
	DescriptorStride uint64

	// DescriptorVersion is the firmware record-format version.
	DescriptorVersion uint32

	// Firmware, when non-nil, receives one identity-mapping request.
	// Failure is tolerated: the map then stays physical-only and
	// virtual-address operations return ErrVirtualMapNotSet.
	Firmware FirmwareRuntime
}

// Map is the exclusive handle to the memory map. All mutation goes
// through it; nothing else may touch the array while it is live.
type Map struct {
	mgr *mapmgr.Manager
}

// New takes ownership of the firmware-supplied array, relocates it once
// so it can describe its own storage, and optionally establishes the
// identity virtual mapping.
func New(ctx context.Context, cfg Config) (_ *Map, err error) {
	_, span := oc.StartSpan(ctx, "memmap::New")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()

	if cfg.Memory == nil {
		return nil, errors.New("memmap: no physical memory handle")
	}
	mgr, err := mapmgr.NewManager(cfg.Memory, cfg.MapAddress, cfg.MapSize, cfg.DescriptorStride, cfg.DescriptorVersion)
	if err != nil {
		return nil, err
	}
	if err := mgr.InstallSelfDescriptor(); err != nil {
		return nil, err
	}

	if cfg.Firmware != nil {
		records, err := cfg.Memory.Slice(mgr.Base(), mgr.SizeBytes())
		if err != nil {
			return nil, err
		}
		if fwErr := cfg.Firmware.SetVirtualAddressMap(mgr.SizeBytes(), mgr.Stride(), mgr.Version(), records); fwErr != nil {
			// Keep operating on the physical-only view.
			logrus.WithError(fwErr).Warn("memmap::New - set virtual address map refused")
		} else if err := mgr.EstablishIdentityMap(); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		logfields.Base:    mgr.Base(),
		logfields.Size:    mgr.SizeBytes(),
		logfields.Stride:  mgr.Stride(),
		logfields.Version: mgr.Version(),
	}).Debug("memmap::New")
	return &Map{mgr: mgr}, nil
}

// BaseAddress returns the current base of the descriptor array.
func (m *Map) BaseAddress() physmem.Address { return m.mgr.Base() }

// SizeBytes returns the populated byte length of the array.
func (m *Map) SizeBytes() uint64 { return m.mgr.SizeBytes() }

// CapacityBytes returns the byte length of the array's backing storage.
func (m *Map) CapacityBytes() uint64 { return m.mgr.CapacityBytes() }

// DescriptorStride returns the byte step between records.
func (m *Map) DescriptorStride() uint64 { return m.mgr.Stride() }

// DescriptorVersion returns the firmware record-format version.
func (m *Map) DescriptorVersion() uint32 { return m.mgr.Version() }

// DescriptorCount returns the number of populated records.
func (m *Map) DescriptorCount() int { return m.mgr.DescriptorCount() }

// VirtualEstablished reports whether the virtual address map is live.
func (m *Map) VirtualEstablished() bool { return m.mgr.VirtualEstablished() }

// Descriptors returns a decoded snapshot of the table for diagnostic
// readers such as a boot-log renderer.
func (m *Map) Descriptors() ([]descriptor.Descriptor, error) { return m.mgr.Descriptors() }

// Validate checks the map invariants and returns ErrMapInconsistent
// when one fails.
func (m *Map) Validate() error { return m.mgr.Validate() }

// MaxMappedPhysicalAddress returns the highest physical end address in
// the map.
func (m *Map) MaxMappedPhysicalAddress() physmem.Address { return m.mgr.MaxMappedPhysicalAddress() }

// VisibleSystemRAM returns the total bytes of mapped RAM, excluding
// MMIO and similar address-space windows.
func (m *Map) VisibleSystemRAM() uint64 { return m.mgr.VisibleSystemRAM() }

// FreeSystemRAM returns the total bytes of conventional (free) memory.
func (m *Map) FreeSystemRAM() uint64 { return m.mgr.FreeSystemRAM() }

// FreePersistentRAM returns the total bytes of persistent memory.
func (m *Map) FreePersistentRAM() uint64 { return m.mgr.FreePersistentRAM() }

// InstalledRAMEstimate approximates installed RAM at the nearest
// 64 MiB module boundary. Best effort, never authoritative.
func (m *Map) InstalledRAMEstimate() uint64 { return m.mgr.InstalledRAMEstimate() }

// VerifyZero reports whether length raw bytes at addr are all zero.
func (m *Map) VerifyZero(addr physmem.Address, length uint64) bool {
	return m.mgr.VerifyZero(addr, length)
}

// FindFreePages returns the next candidate address at or above floor
// with room for the requested pages, or physmem.NoAddress. This layer
// keeps the plain-integer sentinel contract; the allocation entry
// points wrap it in an error.
func (m *Map) FindFreePages(pages uint64, floor physmem.Address) physmem.Address {
	return m.mgr.FindFreePages(pages, floor)
}

// FindFreeBytes is FindFreePages measured in units of the 16-, 32- or
// 64-byte alignment class.
func (m *Map) FindFreeBytes(bytes, align uint64, floor physmem.Address) (physmem.Address, error) {
	return m.mgr.FindFreeBytes(bytes, align, floor)
}

// AllocatePages commits zero-filled physical pages and returns their
// address.
func (m *Map) AllocatePages(ctx context.Context, pages uint64) (physmem.Address, error) {
	return m.allocate(ctx, "memmap::AllocatePages", pages, m.mgr.AllocatePages)
}

// AllocateBytes commits a zero-filled sub-page allocation in the
// smallest alignment class satisfying n, escalating to whole pages at
// 4096 bytes.
func (m *Map) AllocateBytes(ctx context.Context, n uint64) (physmem.Address, error) {
	return m.allocate(ctx, "memmap::AllocateBytes", n, m.mgr.AllocateBytes)
}

// AllocateVirtualPages is AllocatePages on the virtual address column.
func (m *Map) AllocateVirtualPages(ctx context.Context, pages uint64) (physmem.Address, error) {
	return m.allocate(ctx, "memmap::AllocateVirtualPages", pages, m.mgr.AllocateVirtualPages)
}

// AllocateVirtualBytes is AllocateBytes on the virtual address column.
func (m *Map) AllocateVirtualBytes(ctx context.Context, n uint64) (physmem.Address, error) {
	return m.allocate(ctx, "memmap::AllocateVirtualBytes", n, m.mgr.AllocateVirtualBytes)
}

// AllocatePageTablePages commits zero-filled physical pages tagged as
// page-table storage.
func (m *Map) AllocatePageTablePages(ctx context.Context, pages uint64) (physmem.Address, error) {
	return m.allocate(ctx, "memmap::AllocatePageTablePages", pages, m.mgr.AllocatePageTablePages)
}

func (m *Map) allocate(ctx context.Context, name string, arg uint64, f func(uint64) (physmem.Address, error)) (_ physmem.Address, err error) {
	_, span := oc.StartSpan(ctx, name)
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.Int64Attribute("request", int64(arg)))

	addr, err := f(arg)
	if err != nil {
		return physmem.NoAddress, err
	}
	span.AddAttributes(trace.Int64Attribute("address", int64(addr)))
	return addr, nil
}

// MergeFreeRegions coalesces adjacent conventional regions and
// reclaims slack from the map's own footprint.
func (m *Map) MergeFreeRegions(ctx context.Context) (err error) {
	_, span := oc.StartSpan(ctx, "memmap::MergeFreeRegions")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()

	return m.mgr.MergeFreeRegions()
}

// ReclaimRegionType retypes a firmware-transient region type back to
// conventional memory and merges the result.
func (m *Map) ReclaimRegionType(ctx context.Context, from descriptor.Type) (err error) {
	_, span := oc.StartSpan(ctx, "memmap::ReclaimRegionType")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute(logfields.RegionType, from.String()))

	return m.mgr.ReclaimRegionType(from)
}

// ReclaimFirmwareMemory reclaims boot-services code and data and
// loader code once firmware services are torn down.
func (m *Map) ReclaimFirmwareMemory(ctx context.Context) (err error) {
	_, span := oc.StartSpan(ctx, "memmap::ReclaimFirmwareMemory")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()

	return m.mgr.ReclaimFirmwareMemory()
}
