package main

import (
	"context"
	"encoding/binary"
	"fmt"

	cli "github.com/urfave/cli/v2"

	"github.com/efikit/memmap"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

var exerciseCommand = &cli.Command{
	Name:  "exercise",
	Usage: "run a synthetic allocate/reclaim/merge workload and verify the map invariants",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "space",
			Usage: "size of the synthetic physical space in MiB",
			Value: 64,
		},
		&cli.Uint64Flag{
			Name:  "stride",
			Usage: "descriptor stride in bytes",
			Value: 48,
		},
		&cli.Uint64Flag{
			Name:  "allocs",
			Usage: "page allocations to attempt",
			Value: 256,
		},
	},
	Action: func(c *cli.Context) error {
		spaceBytes := c.Uint64("space") * physmem.MiB
		stride := c.Uint64("stride")

		mem, cleanup, err := newSpace(spaceBytes)
		if err != nil {
			return err
		}
		defer cleanup()

		cfg, err := seedFirmwareMap(mem, spaceBytes, stride)
		if err != nil {
			return err
		}

		ctx := context.Background()
		m, err := memmap.New(ctx, cfg)
		if err != nil {
			return err
		}

		allocated := 0
		for i := uint64(0); i < c.Uint64("allocs"); i++ {
			if _, err := m.AllocatePages(ctx, 1+i%4); err != nil {
				break
			}
			allocated++
		}
		for _, n := range []uint64{24, 40, 72, 512} {
			if _, err := m.AllocateBytes(ctx, n); err != nil {
				break
			}
		}
		if err := m.ReclaimFirmwareMemory(ctx); err != nil {
			return err
		}
		if err := m.MergeFreeRegions(ctx); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}

		fmt.Printf("page allocations:   %d\n", allocated)
		fmt.Printf("descriptors:        %d\n", m.DescriptorCount())
		fmt.Printf("map base:           0x%x (%d bytes of %d)\n", uint64(m.BaseAddress()), m.SizeBytes(), m.CapacityBytes())
		fmt.Printf("visible system RAM: %d MiB\n", m.VisibleSystemRAM()/physmem.MiB)
		fmt.Printf("free system RAM:    %d MiB\n", m.FreeSystemRAM()/physmem.MiB)
		fmt.Println("invariants hold")
		return nil
	},
}

// seedFirmwareMap lays out a plausible firmware handoff inside the
// synthetic space: a reserved first page, a boot-services region
// holding the initial descriptor array, and conventional memory for
// the rest.
func seedFirmwareMap(mem physmem.Physical, spaceBytes, stride uint64) (memmap.Config, error) {
	const mapAddr = physmem.Address(0x1000)
	regions := []descriptor.Descriptor{
		{Type: descriptor.Reserved, PhysicalStart: 0, NumberOfPages: 1},
		{Type: descriptor.BootServicesData, PhysicalStart: 0x1000, NumberOfPages: 4},
		{Type: descriptor.Conventional, PhysicalStart: 0x5000, NumberOfPages: spaceBytes/physmem.PageSize - 5},
	}

	size := uint64(len(regions)) * stride
	buf, err := mem.Slice(mapAddr, size)
	if err != nil {
		return memmap.Config{}, err
	}
	for i, d := range regions {
		rec := buf[uint64(i)*stride:]
		binary.LittleEndian.PutUint32(rec[0:], uint32(d.Type))
		binary.LittleEndian.PutUint64(rec[8:], uint64(d.PhysicalStart))
		binary.LittleEndian.PutUint64(rec[24:], d.NumberOfPages)
	}

	return memmap.Config{
		Memory:            mem,
		MapAddress:        mapAddr,
		MapSize:           size,
		DescriptorStride:  stride,
		DescriptorVersion: 1,
	}, nil
}
