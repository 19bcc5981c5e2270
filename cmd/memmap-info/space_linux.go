//go:build linux

package main

import "github.com/efikit/memmap/pkg/physmem"

// newSpace backs the synthetic physical space with an anonymous
// mapping so large spaces stay off the Go heap.
func newSpace(size uint64) (physmem.Physical, func(), error) {
	arena, err := physmem.NewMmapArena(0, size)
	if err != nil {
		return nil, nil, err
	}
	return arena, func() { _ = arena.Close() }, nil
}
