package descriptor

import (
	"errors"
	"testing"
)

// testStride exceeds RecordSize so the gap handling is always exercised.
const testStride = 48

func makeArena(t *testing.T, slots int, records ...Descriptor) Arena {
	t.Helper()
	a, err := NewArena(make([]byte, slots*testStride), testStride)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range records {
		a.At(i).Encode(d)
	}
	return a
}

func Test_NewArena_RejectsShortStride(t *testing.T) {
	if _, err := NewArena(make([]byte, 4096), RecordSize-1); !errors.Is(err, ErrBadStride) {
		t.Fatalf("expected ErrBadStride, got %v", err)
	}
	if _, err := NewArena(make([]byte, 4096), RecordSize); err != nil {
		t.Fatalf("record-sized stride must be accepted, got %v", err)
	}
}

func Test_Arena_StrideTraversal(t *testing.T) {
	a := makeArena(t, 4,
		Descriptor{Type: Reserved, PhysicalStart: 0x1000, NumberOfPages: 1},
		Descriptor{Type: Conventional, PhysicalStart: 0x2000, NumberOfPages: 2},
	)
	// Poison the gap between the logical record and the next slot;
	// traversal must never read it as record content.
	a.buf[RecordSize] = 0xff
	a.buf[testStride-1] = 0xff

	if got := a.At(1).PhysicalStart(); got != 0x2000 {
		t.Fatalf("slot 1 physical start 0x%x, expected 0x2000", uint64(got))
	}
	if got := a.At(0).NumberOfPages(); got != 1 {
		t.Fatalf("slot 0 pages %d, expected 1", got)
	}
}

func Test_InsertAt_ShiftsUp(t *testing.T) {
	a := makeArena(t, 4,
		Descriptor{Type: Reserved, PhysicalStart: 0x1000, NumberOfPages: 1},
		Descriptor{Type: Conventional, PhysicalStart: 0x2000, NumberOfPages: 2},
		Descriptor{Type: LoaderCode, PhysicalStart: 0x4000, NumberOfPages: 3},
	)
	if err := a.InsertAt(1, 3*testStride); err != nil {
		t.Fatal(err)
	}

	if got := a.At(0).PhysicalStart(); got != 0x1000 {
		t.Fatalf("slot 0 moved to 0x%x", uint64(got))
	}
	freed := a.At(1)
	if freed.Type() != Reserved || freed.PhysicalStart() != 0 || freed.NumberOfPages() != 0 {
		t.Fatal("freed slot was not zeroed")
	}
	if got := a.At(2).PhysicalStart(); got != 0x2000 {
		t.Fatalf("slot 2 holds 0x%x, expected shifted 0x2000", uint64(got))
	}
	if got := a.At(3).PhysicalStart(); got != 0x4000 {
		t.Fatalf("slot 3 holds 0x%x, expected shifted 0x4000", uint64(got))
	}
}

func Test_InsertAt_AtEnd(t *testing.T) {
	a := makeArena(t, 2, Descriptor{Type: Reserved, PhysicalStart: 0x1000, NumberOfPages: 1})
	if err := a.InsertAt(1, testStride); err != nil {
		t.Fatal(err)
	}
	if got := a.At(0).PhysicalStart(); got != 0x1000 {
		t.Fatalf("slot 0 moved to 0x%x", uint64(got))
	}
}

func Test_InsertAt_Full(t *testing.T) {
	a := makeArena(t, 2,
		Descriptor{Type: Reserved, NumberOfPages: 1},
		Descriptor{Type: Reserved, NumberOfPages: 1},
	)
	if err := a.InsertAt(0, 2*testStride); !errors.Is(err, ErrArenaFull) {
		t.Fatalf("expected ErrArenaFull, got %v", err)
	}
}

func Test_RemoveAt_ShiftsDown(t *testing.T) {
	a := makeArena(t, 3,
		Descriptor{Type: Reserved, PhysicalStart: 0x1000, NumberOfPages: 1},
		Descriptor{Type: Conventional, PhysicalStart: 0x2000, NumberOfPages: 2},
		Descriptor{Type: LoaderCode, PhysicalStart: 0x4000, NumberOfPages: 3},
	)
	if err := a.RemoveAt(1, 3*testStride); err != nil {
		t.Fatal(err)
	}

	if got := a.At(1).PhysicalStart(); got != 0x4000 {
		t.Fatalf("slot 1 holds 0x%x, expected shifted 0x4000", uint64(got))
	}
	tail := a.At(2)
	if tail.Type() != Reserved || tail.PhysicalStart() != 0 || tail.NumberOfPages() != 0 {
		t.Fatal("vacated tail slot was not zeroed")
	}
}

func Test_SlotBounds(t *testing.T) {
	a := makeArena(t, 4, Descriptor{Type: Reserved, NumberOfPages: 1})
	used := testStride
	if err := a.RemoveAt(1, used); !errors.Is(err, ErrSlotBounds) {
		t.Fatalf("expected ErrSlotBounds removing past the prefix, got %v", err)
	}
	if err := a.InsertAt(2, used); !errors.Is(err, ErrSlotBounds) {
		t.Fatalf("expected ErrSlotBounds inserting past the prefix, got %v", err)
	}
	if err := a.InsertAt(-1, used); !errors.Is(err, ErrSlotBounds) {
		t.Fatalf("expected ErrSlotBounds for negative index, got %v", err)
	}
}

func Test_Arena_Counts(t *testing.T) {
	a := makeArena(t, 5)
	if got := a.Capacity(); got != 5 {
		t.Fatalf("capacity %d, expected 5", got)
	}
	if got := a.Count(3 * testStride); got != 3 {
		t.Fatalf("count %d, expected 3", got)
	}
	if got := a.Stride(); got != testStride {
		t.Fatalf("stride %d, expected %d", got, testStride)
	}
}
