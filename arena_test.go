package btf

import "testing"

func TestArenaReserveContiguousWithinPage(t *testing.T) {
	a := newArena(16)
	page1, off1, err := a.reserveContiguous(4)
	if err != nil {
		t.Fatal(err)
	}
	page2, off2, err := a.reserveContiguous(4)
	if err != nil {
		t.Fatal(err)
	}
	if page1 != page2 {
		t.Fatal("two reservations fitting in one page should share it")
	}
	if off2 != off1+4 {
		t.Fatalf("second reservation offset = %d, want %d", off2, off1+4)
	}
}

// spec.md §4.6: a compound's children must always be physically contiguous
// within a single page.
func TestArenaChildrenContiguousAcrossPageBoundary(t *testing.T) {
	a := newArena(4)
	if _, _, err := a.reserveContiguous(3); err != nil {
		t.Fatal(err)
	}
	page, off, err := a.reserveContiguous(3)
	if err != nil {
		t.Fatal(err)
	}
	if page.free() < 0 {
		t.Fatal("page overcommitted")
	}
	if off != 0 {
		t.Fatalf("a 3-node reservation that doesn't fit the remaining 1 slot must start a fresh page at offset 0, got %d", off)
	}
}

func TestArenaDedicatedPageForOversizedCompound(t *testing.T) {
	a := newArena(8)
	if _, _, err := a.reserveContiguous(1); err != nil {
		t.Fatal(err)
	}
	page, _, err := a.reserveContiguous(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.nodes) != 100 {
		t.Fatalf("oversized compound should get a dedicated page of exactly 100 nodes, got %d", len(page.nodes))
	}
}

func TestArenaStandardPageForSmallCompoundWithRoom(t *testing.T) {
	a := newArena(64)
	page, _, err := a.reserveContiguous(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.nodes) != 64 {
		t.Fatalf("a small compound on a fresh arena should get a standard %d-node page, got %d", 64, len(page.nodes))
	}
}

func TestArenaPoolModeExhaustion(t *testing.T) {
	a := newArenaFromSlice(make([]node, 4))
	if _, _, err := a.reserveContiguous(4); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.reserveContiguous(1); err == nil || err.Kind != ErrMemory {
		t.Fatalf("reserving past pool-mode capacity must fail ErrMemory, got %v", err)
	}
}

func TestArenaAtAndChild(t *testing.T) {
	a := newArena(8)
	page, off, err := a.reserveContiguous(1)
	if err != nil {
		t.Fatal(err)
	}
	pageIdx := uint32(a.pageIndex(page))
	n := a.at(pageIdx, uint32(off))
	n.kind = KindArray
	n.count = 2
	childPage, childOff, err := a.reserveContiguous(2)
	if err != nil {
		t.Fatal(err)
	}
	n.childPage, n.childOffset = uint32(a.pageIndex(childPage)), uint32(childOff)
	a.at(n.childPage, n.childOffset).kind = KindNil
	a.at(n.childPage, n.childOffset+1).kind = KindBool
	if a.child(n, 0).kind != KindNil || a.child(n, 1).kind != KindBool {
		t.Fatal("child() did not address the reserved children correctly")
	}
}
