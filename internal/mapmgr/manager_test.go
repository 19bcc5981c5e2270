package mapmgr

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

// ignoreVirtual compares tables on the physical axis only. Splits and
// merges keep the virtual column tracking by offset, which the virtual
// axis tests assert explicitly.
var ignoreVirtual = cmpopts.IgnoreFields(descriptor.Descriptor{}, "VirtualStart")

// testStride exceeds the 40-byte record so every traversal exercises
// the gap handling.
const testStride = 48

func conv(start physmem.Address, pages uint64) descriptor.Descriptor {
	return typed(descriptor.Conventional, start, pages)
}

func typed(t descriptor.Type, start physmem.Address, pages uint64) descriptor.Descriptor {
	return descriptor.Descriptor{Type: t, PhysicalStart: start, NumberOfPages: pages}
}

// newTestMap builds a manager over a zeroed synthetic space with the
// given regions plus a self-describing entry hosting the array 64 pages
// below the top of the space. Regions must stay clear of that window.
func newTestMap(t *testing.T, spaceSize uint64, regions ...descriptor.Descriptor) *Manager {
	t.Helper()
	return newTestMapSelfPages(t, spaceSize, 0, regions...)
}

// newTestMapSelfPages is newTestMap with an explicit page count behind
// the self-describing entry, for exercising slack reclamation. Zero
// means size it automatically with insert headroom.
func newTestMapSelfPages(t *testing.T, spaceSize, selfPages uint64, regions ...descriptor.Descriptor) *Manager {
	t.Helper()
	mem := physmem.NewBuffer(0, spaceSize)
	size := uint64(len(regions)+1) * testStride
	if selfPages == 0 {
		selfPages = physmem.PagesFor(size + 2*testStride)
	}
	mapBase := physmem.Address(spaceSize - 64*physmem.PageSize)

	all := append([]descriptor.Descriptor{
		typed(descriptor.SelfDescribingMap, mapBase, selfPages),
	}, regions...)
	buf, err := mem.Slice(mapBase, size)
	if err != nil {
		t.Fatal(err)
	}
	a, err := descriptor.NewArena(buf, testStride)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range all {
		a.At(i).Encode(d)
	}

	m := &Manager{
		phys:     mem,
		base:     mapBase,
		size:     size,
		capacity: selfPages * physmem.PageSize,
		stride:   testStride,
		version:  1,
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("test map invalid: %s", err)
	}
	return m
}

// snapshot returns the decoded table sorted by physical start so tests
// can compare without depending on record order.
func snapshot(t *testing.T, m *Manager) []descriptor.Descriptor {
	t.Helper()
	descs, err := m.Descriptors()
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].PhysicalStart < descs[j].PhysicalStart })
	return descs
}

func mustValidate(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Validate(); err != nil {
		t.Fatalf("map invariants broken: %s", err)
	}
}

func dirty(t *testing.T, m *Manager, addr physmem.Address, length uint64) {
	t.Helper()
	s, err := m.phys.Slice(addr, length)
	if err != nil {
		t.Fatal(err)
	}
	for i := range s {
		s[i] = 0xa5
	}
}

func Test_NewManager_RejectsBadGeometry(t *testing.T) {
	mem := physmem.NewBuffer(0, 64*physmem.KiB)

	if _, err := NewManager(mem, 0x1000, 2*testStride, descriptor.RecordSize-1, 1); !errors.Is(err, ErrInvalidStride) {
		t.Fatalf("expected ErrInvalidStride for short stride, got %v", err)
	}
	if _, err := NewManager(mem, 0x1000, testStride+1, testStride, 1); !errors.Is(err, ErrInvalidStride) {
		t.Fatalf("expected ErrInvalidStride for ragged size, got %v", err)
	}
	if _, err := NewManager(mem, 0x1000, 0, testStride, 1); !errors.Is(err, ErrInvalidStride) {
		t.Fatalf("expected ErrInvalidStride for empty map, got %v", err)
	}
	if _, err := NewManager(mem, 0x100000, testStride, testStride, 1); err == nil {
		t.Fatal("expected error for map storage outside the physical space")
	}
}

func Test_Validate_DetectsCorruption(t *testing.T) {
	for _, tc := range []struct {
		name    string
		corrupt func(a descriptor.Arena)
	}{
		{"overlap", func(a descriptor.Arena) { a.At(1).SetNumberOfPages(1 << 20) }},
		{"misaligned start", func(a descriptor.Arena) { a.At(1).SetPhysicalStart(0x100010) }},
		{"zero pages", func(a descriptor.Arena) { a.At(1).SetNumberOfPages(0) }},
		{"duplicate self", func(a descriptor.Arena) { a.At(1).SetType(descriptor.SelfDescribingMap) }},
		{"missing self", func(a descriptor.Arena) { a.At(0).SetType(descriptor.Conventional) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMap(t, 8*physmem.MiB, conv(0x100000, 4), typed(descriptor.Reserved, 0x200000, 2))
			a, err := m.arena()
			if err != nil {
				t.Fatal(err)
			}
			tc.corrupt(a)
			if err := m.Validate(); !errors.Is(err, ErrMapInconsistent) {
				t.Fatalf("expected ErrMapInconsistent, got %v", err)
			}
		})
	}
}

func Test_EstablishIdentityMap(t *testing.T) {
	m := newTestMap(t, 8*physmem.MiB, conv(0x100000, 4), typed(descriptor.Reserved, 0x200000, 2))
	if m.VirtualEstablished() {
		t.Fatal("virtual map reported live before establishment")
	}
	if err := m.EstablishIdentityMap(); err != nil {
		t.Fatal(err)
	}
	if !m.VirtualEstablished() {
		t.Fatal("virtual map not reported live")
	}
	for _, d := range snapshot(t, m) {
		if d.VirtualStart != d.PhysicalStart {
			t.Fatalf("%s at 0x%x: virtual 0x%x is not the identity mapping",
				d.Type, uint64(d.PhysicalStart), uint64(d.VirtualStart))
		}
	}
}

func Test_Descriptors_SnapshotDetached(t *testing.T) {
	m := newTestMap(t, 8*physmem.MiB, conv(0x100000, 4))
	before := snapshot(t, m)

	descs, err := m.Descriptors()
	if err != nil {
		t.Fatal(err)
	}
	for i := range descs {
		descs[i].Type = descriptor.Unusable
		descs[i].NumberOfPages = 0
	}

	if diff := cmp.Diff(before, snapshot(t, m)); diff != "" {
		t.Fatalf("mutating the snapshot changed the map (-want +got):\n%s", diff)
	}
}
