package memmap

import (
	"context"
	"errors"
	"testing"

	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

const testStride = 48

type fakeFirmware struct {
	refuse bool

	called  bool
	mapSize uint64
	stride  uint64
	version uint32
	records int
}

func (f *fakeFirmware) SetVirtualAddressMap(mapSize, descriptorSize uint64, descriptorVersion uint32, records []byte) error {
	f.called = true
	f.mapSize = mapSize
	f.stride = descriptorSize
	f.version = descriptorVersion
	f.records = len(records)
	if f.refuse {
		return errors.New("firmware refused the request")
	}
	return nil
}

// newHandoff builds a firmware-style physical space: a reserved first
// page, boot-services memory holding the initial descriptor array, and
// free memory for the rest.
func newHandoff(t *testing.T, spaceSize uint64, fw FirmwareRuntime) Config {
	t.Helper()
	mem := physmem.NewBuffer(0, spaceSize)
	const mapAddr = physmem.Address(0x1000)

	regions := []descriptor.Descriptor{
		{Type: descriptor.Reserved, NumberOfPages: 1},
		{Type: descriptor.BootServicesData, PhysicalStart: 0x1000, NumberOfPages: 4},
		{Type: descriptor.Conventional, PhysicalStart: 0x5000, NumberOfPages: spaceSize/physmem.PageSize - 5},
	}
	size := uint64(len(regions)) * testStride
	buf, err := mem.Slice(mapAddr, size)
	if err != nil {
		t.Fatal(err)
	}
	a, err := descriptor.NewArena(buf, testStride)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range regions {
		a.At(i).Encode(d)
	}

	return Config{
		Memory:            mem,
		MapAddress:        mapAddr,
		MapSize:           size,
		DescriptorStride:  testStride,
		DescriptorVersion: 1,
		Firmware:          fw,
	}
}

func Test_New_EstablishesIdentityMap(t *testing.T) {
	fw := &fakeFirmware{}
	m, err := New(context.Background(), newHandoff(t, 16*physmem.MiB, fw))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	if !fw.called {
		t.Fatal("firmware never received the set-virtual-address-map request")
	}
	if fw.stride != testStride || fw.version != 1 {
		t.Fatalf("firmware saw stride %d version %d, expected %d and 1", fw.stride, fw.version, testStride)
	}
	if fw.mapSize != m.SizeBytes() || fw.records != int(m.SizeBytes()) {
		t.Fatalf("firmware saw %d map bytes and %d record bytes, expected %d", fw.mapSize, fw.records, m.SizeBytes())
	}
	if !m.VirtualEstablished() {
		t.Fatal("virtual map not established after firmware accepted")
	}

	descs, err := m.Descriptors()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range descs {
		if d.VirtualStart != d.PhysicalStart {
			t.Fatalf("%s at 0x%x: virtual 0x%x is not identity mapped",
				d.Type, uint64(d.PhysicalStart), uint64(d.VirtualStart))
		}
	}
}

func Test_New_ToleratesFirmwareRefusal(t *testing.T) {
	fw := &fakeFirmware{refuse: true}
	m, err := New(context.Background(), newHandoff(t, 16*physmem.MiB, fw))
	if err != nil {
		t.Fatal(err)
	}
	if m.VirtualEstablished() {
		t.Fatal("virtual map established despite firmware refusal")
	}

	// Physical operations keep working; virtual ones fail cleanly.
	if _, err := m.AllocatePages(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateVirtualPages(context.Background(), 2); !errors.Is(err, ErrVirtualMapNotSet) {
		t.Fatalf("expected ErrVirtualMapNotSet, got %v", err)
	}
}

func Test_New_WithoutFirmware(t *testing.T) {
	m, err := New(context.Background(), newHandoff(t, 16*physmem.MiB, nil))
	if err != nil {
		t.Fatal(err)
	}
	if m.VirtualEstablished() {
		t.Fatal("virtual map established with no firmware collaborator")
	}
}

func Test_New_RejectsBadConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected an error for a config without memory")
	}

	cfg := newHandoff(t, 16*physmem.MiB, nil)
	cfg.DescriptorStride = descriptor.RecordSize - 1
	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrInvalidStride) {
		t.Fatalf("expected ErrInvalidStride, got %v", err)
	}
}

func Test_BootFlow(t *testing.T) {
	ctx := context.Background()
	fw := &fakeFirmware{}
	m, err := New(ctx, newHandoff(t, 16*physmem.MiB, fw))
	if err != nil {
		t.Fatal(err)
	}

	kernel, err := m.AllocatePages(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !m.VerifyZero(kernel, 8*physmem.PageSize) {
		t.Fatal("kernel pages were not zero-filled")
	}
	if _, err := m.AllocatePageTablePages(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateBytes(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateVirtualBytes(ctx, 200); err != nil {
		t.Fatal(err)
	}

	if err := m.ReclaimFirmwareMemory(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.MergeFreeRegions(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("map inconsistent after boot flow: %s", err)
	}

	// The boot-services region holding the original array is free again.
	if m.FreeSystemRAM() == 0 {
		t.Fatal("no free memory after reclaim")
	}
	for _, d := range mustDescriptors(t, m) {
		switch d.Type {
		case descriptor.BootServicesCode, descriptor.BootServicesData, descriptor.LoaderCode:
			t.Fatalf("transient %s region survived reclaim at 0x%x", d.Type, uint64(d.PhysicalStart))
		}
	}

	// The finder keeps the sentinel contract the allocators wrap.
	if got := m.FindFreePages(1<<32, 0); got != physmem.NoAddress {
		t.Fatalf("impossible request returned 0x%x, expected the no-address sentinel", uint64(got))
	}
	if _, err := m.AllocatePages(ctx, 1<<32); !errors.Is(err, ErrNotEnoughSpace) {
		t.Fatalf("expected ErrNotEnoughSpace, got %v", err)
	}
}

func mustDescriptors(t *testing.T, m *Map) []descriptor.Descriptor {
	t.Helper()
	descs, err := m.Descriptors()
	if err != nil {
		t.Fatal(err)
	}
	return descs
}
