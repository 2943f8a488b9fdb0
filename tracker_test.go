package btf

import "testing"

func TestTrackerArrayBalance(t *testing.T) {
	var tr tracker
	tr.push(KindArray, 2)
	if err := tr.element(); err != nil {
		t.Fatalf("first element: %v", err)
	}
	if err := tr.element(); err != nil {
		t.Fatalf("second element: %v", err)
	}
	if err := tr.element(); err == nil {
		t.Fatal("a third element past the declared length must fail")
	}
	if err := tr.pop(KindArray); err != nil {
		t.Fatalf("pop after fully consumed: %v", err)
	}
	if err := tr.checkEmpty(); err != nil {
		t.Fatalf("checkEmpty after balanced use: %v", err)
	}
}

// A map with N pairs accounts for 2N element() calls (key, value, key,
// value, ...) before it can be closed.
func TestTrackerMapKeyValueAccounting(t *testing.T) {
	var tr tracker
	tr.push(KindMap, 3*2)
	for i := 0; i < 3; i++ {
		if err := tr.element(); err != nil { // key
			t.Fatalf("pair %d key: %v", i, err)
		}
		if err := tr.element(); err != nil { // value
			t.Fatalf("pair %d value: %v", i, err)
		}
	}
	if err := tr.pop(KindMap); err != nil {
		t.Fatalf("pop after 3 complete pairs: %v", err)
	}
}

func TestTrackerMapCannotCloseWithDanglingKey(t *testing.T) {
	var tr tracker
	tr.push(KindMap, 2)
	if err := tr.element(); err != nil { // key only, no value yet
		t.Fatal(err)
	}
	if err := tr.pop(KindMap); err == nil {
		t.Fatal("closing a map with a key awaiting its value must fail")
	}
}

func TestTrackerPopWrongKind(t *testing.T) {
	var tr tracker
	tr.push(KindArray, 0)
	if err := tr.pop(KindMap); err == nil || err.Kind != ErrBug {
		t.Fatalf("popping the wrong kind must be ErrBug, got %v", err)
	}
}

func TestTrackerPopNothingOpen(t *testing.T) {
	var tr tracker
	if err := tr.pop(KindArray); err == nil || err.Kind != ErrBug {
		t.Fatalf("popping with nothing open must be ErrBug, got %v", err)
	}
}

func TestTrackerBytesConsumed(t *testing.T) {
	var tr tracker
	tr.push(KindStr, 5)
	if err := tr.bytesConsumed(3); err != nil {
		t.Fatal(err)
	}
	if err := tr.bytesConsumed(3); err == nil {
		t.Fatal("consuming more bytes than declared must fail")
	}
	if err := tr.bytesConsumed(2); err != nil {
		t.Fatal(err)
	}
	if err := tr.pop(KindStr); err != nil {
		t.Fatalf("pop after fully consumed bytes: %v", err)
	}
}

func TestTrackerCheckEmptyReportsOpenCompound(t *testing.T) {
	var tr tracker
	tr.push(KindArray, 1)
	if err := tr.checkEmpty(); err == nil || err.Kind != ErrBug {
		t.Fatalf("checkEmpty with an open compound must be ErrBug, got %v", err)
	}
}
