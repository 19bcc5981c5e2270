// Package descriptor implements the firmware memory-descriptor wire
// format and the stride-addressed slot arena the map manager mutates.
//
// A descriptor is 40 logical bytes, but firmware reports a per-record
// stride that may be larger; every traversal in this package steps by
// the stride, never by the record size.
package descriptor

// Type tags a memory region. Values 0 through MaxMemoryType are
// firmware defined; kernel-private tags are appended numerically after
// MaxMemoryType so the field stays a plain integer with no format
// change.
type Type uint32

const (
	Reserved Type = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	Conventional
	Unusable
	AcpiReclaim
	AcpiNvs
	MemoryMappedIo
	MemoryMappedIoPortSpace
	PalCode
	PersistentMemory
	MaxMemoryType

	// Kernel-private extensions. These let the manager track its own
	// allocations inside the same table firmware uses instead of a
	// parallel structure.
	KernelMalloc
	KernelVmalloc
	SelfDescribingMap
	PageTableStorage
)

var typeNames = map[Type]string{
	Reserved:                "Reserved",
	LoaderCode:              "LoaderCode",
	LoaderData:              "LoaderData",
	BootServicesCode:        "BootServicesCode",
	BootServicesData:        "BootServicesData",
	RuntimeServicesCode:     "RuntimeServicesCode",
	RuntimeServicesData:     "RuntimeServicesData",
	Conventional:            "Conventional",
	Unusable:                "Unusable",
	AcpiReclaim:             "AcpiReclaim",
	AcpiNvs:                 "AcpiNvs",
	MemoryMappedIo:          "MemoryMappedIo",
	MemoryMappedIoPortSpace: "MemoryMappedIoPortSpace",
	PalCode:                 "PalCode",
	PersistentMemory:        "PersistentMemory",
	MaxMemoryType:           "MaxMemoryType",
	KernelMalloc:            "KernelMalloc",
	KernelVmalloc:           "KernelVmalloc",
	SelfDescribingMap:       "SelfDescribingMap",
	PageTableStorage:        "PageTableStorage",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Unknown"
}
