package descriptor

import (
	"encoding/binary"

	"github.com/efikit/memmap/pkg/physmem"
)

// RecordSize is the logical size of one descriptor record in bytes.
// The stride between records may be larger.
const RecordSize = 40

// Wire layout, little endian:
//
//	offset 0  : u32 region type
//	offset 4  : u32 pad (reserved, preserved verbatim)
//	offset 8  : u64 physical start
//	offset 16 : u64 virtual start
//	offset 24 : u64 number of pages
//	offset 32 : u64 attribute
const (
	offType     = 0
	offPad      = 4
	offPhysical = 8
	offVirtual  = 16
	offPages    = 24
	offAttr     = 32
)

// View is a mutable window over one record in the backing buffer.
// Setters write straight through to the map storage.
type View struct {
	b []byte
}

func (v View) Type() Type          { return Type(binary.LittleEndian.Uint32(v.b[offType:])) }
func (v View) Pad() uint32         { return binary.LittleEndian.Uint32(v.b[offPad:]) }
func (v View) NumberOfPages() uint64 {
	return binary.LittleEndian.Uint64(v.b[offPages:])
}
func (v View) Attribute() uint64 { return binary.LittleEndian.Uint64(v.b[offAttr:]) }

func (v View) PhysicalStart() physmem.Address {
	return physmem.Address(binary.LittleEndian.Uint64(v.b[offPhysical:]))
}

func (v View) VirtualStart() physmem.Address {
	return physmem.Address(binary.LittleEndian.Uint64(v.b[offVirtual:]))
}

// PhysicalEnd returns the exclusive end address of the region.
func (v View) PhysicalEnd() physmem.Address {
	return v.PhysicalStart() + physmem.Address(v.NumberOfPages()*physmem.PageSize)
}

// VirtualEnd returns the exclusive end of the region on the virtual axis.
func (v View) VirtualEnd() physmem.Address {
	return v.VirtualStart() + physmem.Address(v.NumberOfPages()*physmem.PageSize)
}

// SizeBytes returns the region length in bytes.
func (v View) SizeBytes() uint64 { return v.NumberOfPages() * physmem.PageSize }

// ContainsPhysical reports whether addr falls inside the region's
// physical range.
func (v View) ContainsPhysical(addr physmem.Address) bool {
	return v.PhysicalStart() <= addr && addr < v.PhysicalEnd()
}

// ContainsVirtual reports whether addr falls inside the region's
// virtual range.
func (v View) ContainsVirtual(addr physmem.Address) bool {
	return v.VirtualStart() <= addr && addr < v.VirtualEnd()
}

func (v View) SetType(t Type) {
	binary.LittleEndian.PutUint32(v.b[offType:], uint32(t))
}

func (v View) SetPad(p uint32) {
	binary.LittleEndian.PutUint32(v.b[offPad:], p)
}

func (v View) SetPhysicalStart(a physmem.Address) {
	binary.LittleEndian.PutUint64(v.b[offPhysical:], uint64(a))
}

func (v View) SetVirtualStart(a physmem.Address) {
	binary.LittleEndian.PutUint64(v.b[offVirtual:], uint64(a))
}

func (v View) SetNumberOfPages(n uint64) {
	binary.LittleEndian.PutUint64(v.b[offPages:], n)
}

func (v View) SetAttribute(a uint64) {
	binary.LittleEndian.PutUint64(v.b[offAttr:], a)
}

// Decode copies the record out into a plain struct.
func (v View) Decode() Descriptor {
	return Descriptor{
		Type:          v.Type(),
		Pad:           v.Pad(),
		PhysicalStart: v.PhysicalStart(),
		VirtualStart:  v.VirtualStart(),
		NumberOfPages: v.NumberOfPages(),
		Attribute:     v.Attribute(),
	}
}

// Encode writes the struct into the record.
func (v View) Encode(d Descriptor) {
	v.SetType(d.Type)
	v.SetPad(d.Pad)
	v.SetPhysicalStart(d.PhysicalStart)
	v.SetVirtualStart(d.VirtualStart)
	v.SetNumberOfPages(d.NumberOfPages)
	v.SetAttribute(d.Attribute)
}

// Descriptor is a decoded copy of one region record, detached from the
// map storage. The manager mutates records through View; Descriptor is
// for construction, snapshots and diagnostics.
type Descriptor struct {
	Type          Type
	Pad           uint32
	PhysicalStart physmem.Address
	VirtualStart  physmem.Address
	NumberOfPages uint64
	Attribute     uint64
}

// PhysicalEnd returns the exclusive end address of the region.
func (d Descriptor) PhysicalEnd() physmem.Address {
	return d.PhysicalStart + physmem.Address(d.NumberOfPages*physmem.PageSize)
}

// SizeBytes returns the region length in bytes.
func (d Descriptor) SizeBytes() uint64 { return d.NumberOfPages * physmem.PageSize }
