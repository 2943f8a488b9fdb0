package btf

import (
	"math"
	"testing"
)

func TestEqualIntUintCrossKind(t *testing.T) {
	if !Equal(TagInt(42), TagUint(42)) {
		t.Fatal("int(42) and uint(42) must compare equal")
	}
	if Equal(TagInt(-1), TagUint(0xffffffffffffffff)) {
		t.Fatal("negative int must never equal any uint")
	}
}

func TestEqualFloatBitExact(t *testing.T) {
	nan1 := TagFloat64(math.Float64frombits(0x7ff8000000000001))
	nan2 := TagFloat64(math.Float64frombits(0x7ff8000000000002))
	if Equal(nan1, nan2) {
		t.Fatal("differently-payloaded NaNs must not compare equal")
	}
	if !Equal(nan1, nan1) {
		t.Fatal("identical NaN bit patterns must compare equal")
	}
	if Equal(TagFloat32(1.5), TagFloat64(1.5)) {
		t.Fatal("float32 and float64 must never cross-compare equal")
	}
}

func TestCmpTotalOrder(t *testing.T) {
	vals := []Tag{TagNil(), TagBool(false), TagBool(true), TagUint(1), TagInt(-5), TagStr(3), TagArray(2)}
	for i := range vals {
		for j := range vals {
			if i == j {
				continue
			}
			c, rc := Cmp(vals[i], vals[j]), Cmp(vals[j], vals[i])
			if c == 0 || rc == 0 || (c < 0) == (rc < 0) {
				t.Fatalf("distinct tags %v vs %v must order strictly and antisymmetrically, got %d and %d", vals[i], vals[j], c, rc)
			}
		}
	}
}

func TestKindStringCovers(t *testing.T) {
	for k := KindNil; k <= KindNoop; k++ {
		if k.String() == "unknown" {
			t.Errorf("Kind %d has no String() case", k)
		}
	}
}
