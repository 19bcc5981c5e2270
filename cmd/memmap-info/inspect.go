package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	cli "github.com/urfave/cli/v2"

	"github.com/efikit/memmap/internal/mapmgr"
	"github.com/efikit/memmap/pkg/descriptor"
	"github.com/efikit/memmap/pkg/physmem"
)

var dumpFlags = []cli.Flag{
	&cli.Uint64Flag{
		Name:  "stride",
		Usage: "descriptor stride in bytes",
		Value: 48,
	},
	&cli.UintFlag{
		Name:  "version",
		Usage: "descriptor format version",
		Value: 1,
	},
	&cli.Uint64Flag{
		Name:  "base",
		Usage: "physical address the dump was taken from",
	},
}

// loadDump wraps a raw descriptor-array dump file in a read-only
// manager.
func loadDump(c *cli.Context) (*mapmgr.Manager, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one dump file argument")
	}
	raw, err := os.ReadFile(c.Args().First())
	if err != nil {
		return nil, err
	}
	base := physmem.Address(c.Uint64("base"))
	mem := physmem.NewBufferAt(base, raw)
	return mapmgr.NewManager(mem, base, uint64(len(raw)), c.Uint64("stride"), uint32(c.Uint("version")))
}

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "render the descriptor table of a raw memory-map dump",
	ArgsUsage: "<dump file>",
	Flags:     dumpFlags,
	Action: func(c *cli.Context) error {
		mgr, err := loadDump(c)
		if err != nil {
			return err
		}
		descs, err := mgr.Descriptors()
		if err != nil {
			return err
		}
		sort.Slice(descs, func(i, j int) bool {
			return descs[i].PhysicalStart < descs[j].PhysicalStart
		})

		fmt.Printf("%-24s %-18s %-18s %10s %18s\n", "TYPE", "PHYSICAL", "VIRTUAL", "PAGES", "ATTRIBUTE")
		for _, d := range descs {
			fmt.Printf("%-24s 0x%016x 0x%016x %10d 0x%016x\n",
				d.Type, uint64(d.PhysicalStart), uint64(d.VirtualStart), d.NumberOfPages, d.Attribute)
		}
		return nil
	},
}

var summaryCommand = &cli.Command{
	Name:      "summary",
	Usage:     "print aggregate totals for a raw memory-map dump",
	ArgsUsage: "<dump file>",
	Flags:     dumpFlags,
	Action: func(c *cli.Context) error {
		mgr, err := loadDump(c)
		if err != nil {
			return err
		}
		descs, err := mgr.Descriptors()
		if err != nil {
			return err
		}

		byType := lo.GroupBy(descs, func(d descriptor.Descriptor) descriptor.Type { return d.Type })
		types := lo.Keys(byType)
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, t := range types {
			total := lo.SumBy(byType[t], func(d descriptor.Descriptor) uint64 { return d.SizeBytes() })
			fmt.Printf("%-24s %4d region(s) %12d KiB\n", t, len(byType[t]), total/physmem.KiB)
		}

		fmt.Printf("\nmax mapped physical address: 0x%x\n", uint64(mgr.MaxMappedPhysicalAddress()))
		fmt.Printf("visible system RAM:          %d MiB\n", mgr.VisibleSystemRAM()/physmem.MiB)
		fmt.Printf("free system RAM:             %d MiB\n", mgr.FreeSystemRAM()/physmem.MiB)
		fmt.Printf("free persistent RAM:         %d MiB\n", mgr.FreePersistentRAM()/physmem.MiB)
		fmt.Printf("installed RAM estimate:      %d MiB\n", mgr.InstalledRAMEstimate()/physmem.MiB)
		return nil
	},
}
