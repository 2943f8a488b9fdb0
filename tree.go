package btf

import (
	"math"
	"unicode/utf8"
)

// Tree owns an arena's worth of materialized nodes plus the retained
// str/bin/ext payload bytes they reference. A Tree is immutable and safe
// for concurrent readers once TreeParser.Finish has returned it
// (spec.md §5.2); Release must be called exactly once when it is no longer
// needed.
type Tree struct {
	arena      *arena
	data       []byte
	rootPage   uint32
	rootOffset uint32
}

// Root returns the tree's root node.
func (t *Tree) Root() Node { return Node{tree: t, page: t.rootPage, offset: t.rootOffset} }

// NodeCount returns the total number of nodes materialized by the parse
// that built this tree, root included.
func (t *Tree) NodeCount() int { return t.arena.totalNodes() }

// Release returns the tree's arena pages to their pool. The Tree and any
// Node obtained from it must not be used afterward.
func (t *Tree) Release() {
	t.arena.release()
	t.data = nil
}

// Node is a lightweight, by-value handle into a Tree: a (page, offset)
// address plus the owning Tree pointer. Copying a Node is cheap and never
// materializes or duplicates the referenced value (spec.md §4.8,
// "O(1) typed getters").
type Node struct {
	tree   *Tree
	page   uint32
	offset uint32
}

// MissingNode is the zero Node, returned by optional lookups that find
// nothing. Every accessor on it reports IsMissing.
var MissingNode = Node{}

func (n Node) ref() *node { return n.tree.arena.at(n.page, n.offset) }

// IsMissing reports whether n is the sentinel returned by an optional
// lookup that found no match.
func (n Node) IsMissing() bool { return n.tree == nil }

// Type returns the node's kind, or KindMissing if n IsMissing.
func (n Node) Type() Kind {
	if n.IsMissing() {
		return KindMissing
	}
	return n.ref().kind
}

func (n Node) IsNil() bool { return n.Type() == KindNil }

func (n Node) typeError(want string) *Error {
	return newError(ErrType, "expected %s, got %s", want, n.Type())
}

// Bool returns the node's boolean value.
func (n Node) Bool() (bool, *Error) {
	if n.Type() != KindBool {
		return false, n.typeError("bool")
	}
	return n.ref().boolVal, nil
}

// Int64 and Uint64 return the node's full-width integer value, accepting
// either an Int or Uint tag as long as the value is representable
// (invariant 1: non-negative ints and uints of the same magnitude are the
// same value).
func (n Node) Int64() (int64, *Error) { return n.signedRange(64) }
func (n Node) Uint64() (uint64, *Error) { return n.unsignedRange(64) }

func (n Node) I8() (int8, *Error)   { v, err := n.signedRange(8); return int8(v), err }
func (n Node) I16() (int16, *Error) { v, err := n.signedRange(16); return int16(v), err }
func (n Node) I32() (int32, *Error) { v, err := n.signedRange(32); return int32(v), err }
func (n Node) I64() (int64, *Error) { return n.signedRange(64) }

func (n Node) U8() (uint8, *Error)   { v, err := n.unsignedRange(8); return uint8(v), err }
func (n Node) U16() (uint16, *Error) { v, err := n.unsignedRange(16); return uint16(v), err }
func (n Node) U32() (uint32, *Error) { v, err := n.unsignedRange(32); return uint32(v), err }
func (n Node) U64() (uint64, *Error) { return n.unsignedRange(64) }

func (n Node) signedRange(bits int) (int64, *Error) {
	var v int64
	switch n.Type() {
	case KindInt:
		v = n.ref().intVal
	case KindUint:
		u := n.ref().uintVal
		if u > uint64(math.MaxInt64) {
			return 0, newError(ErrType, "value %d does not fit in a signed 64-bit range", u)
		}
		v = int64(u)
	default:
		return 0, n.typeError("int")
	}
	lo, hi := signedBounds(bits)
	if v < lo || v > hi {
		return 0, newError(ErrType, "value %d does not fit in %d signed bits", v, bits)
	}
	return v, nil
}

func (n Node) unsignedRange(bits int) (uint64, *Error) {
	var v uint64
	switch n.Type() {
	case KindUint:
		v = n.ref().uintVal
	case KindInt:
		i := n.ref().intVal
		if i < 0 {
			return 0, newError(ErrType, "value %d is negative, not unsigned", i)
		}
		v = uint64(i)
	default:
		return 0, n.typeError("uint")
	}
	if bits < 64 && v > uint64(1)<<uint(bits)-1 {
		return 0, newError(ErrType, "value %d does not fit in %d unsigned bits", v, bits)
	}
	return v, nil
}

func signedBounds(bits int) (int64, int64) {
	switch bits {
	case 8:
		return math.MinInt8, math.MaxInt8
	case 16:
		return math.MinInt16, math.MaxInt16
	case 32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// Float returns a float32, narrowing a Float64 node if necessary. FloatStrict
// requires the node to already be Float32 (mpack's node_float/
// node_float_strict split, spec.md §4.8).
func (n Node) Float() (float32, *Error) {
	switch n.Type() {
	case KindFloat32:
		return n.ref().f32Val, nil
	case KindFloat64:
		return float32(n.ref().f64Val), nil
	default:
		return 0, n.typeError("float32 or float64")
	}
}

func (n Node) FloatStrict() (float32, *Error) {
	if n.Type() != KindFloat32 {
		return 0, n.typeError("float32")
	}
	return n.ref().f32Val, nil
}

// Double returns a float64, widening a Float32 node if necessary.
// DoubleStrict requires the node to already be Float64.
func (n Node) Double() (float64, *Error) {
	switch n.Type() {
	case KindFloat64:
		return n.ref().f64Val, nil
	case KindFloat32:
		return float64(n.ref().f32Val), nil
	default:
		return 0, n.typeError("float32 or float64")
	}
}

func (n Node) DoubleStrict() (float64, *Error) {
	if n.Type() != KindFloat64 {
		return 0, n.typeError("float64")
	}
	return n.ref().f64Val, nil
}

// Data returns a zero-copy view of a Str or Bin node's bytes, valid only
// as long as the owning Tree has not been Released.
func (n Node) Data() ([]byte, *Error) {
	switch n.Type() {
	case KindStr, KindBin:
		r := n.ref()
		return n.tree.data[r.dataOff : r.dataOff+r.dataLen], nil
	default:
		return nil, n.typeError("str or bin")
	}
}

// CopyData returns an owned copy of a Str or Bin node's bytes.
func (n Node) CopyData() ([]byte, *Error) {
	d, err := n.Data()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

// Str returns a Str node's value as a string (a copy; Go strings are
// immutable, so this cannot be zero-copy without risking the Tree's
// buffer being mutated out from under it).
func (n Node) Str() (string, *Error) {
	if n.Type() != KindStr {
		return "", n.typeError("str")
	}
	d, _ := n.Data()
	return string(d), nil
}

// StrLen returns the byte length of a Str node without copying it.
func (n Node) StrLen() (uint64, *Error) {
	if n.Type() != KindStr {
		return 0, n.typeError("str")
	}
	return uint64(n.ref().dataLen), nil
}

// CheckUTF8 validates that a Str or Bin node's bytes are well-formed UTF-8,
// rejecting overlong encodings, unpaired surrogates, and out-of-range code
// points the way unicode/utf8 already does — the same stdlib call the
// vom example repo uses for its own scanner (see DESIGN.md).
func (n Node) CheckUTF8() *Error {
	d, err := n.Data()
	if err != nil {
		return err
	}
	if !utf8.Valid(d) {
		return newError(ErrType, "str value is not valid UTF-8")
	}
	return nil
}

// Ext returns an Ext node's extension type and payload.
func (n Node) Ext() (int8, []byte, *Error) {
	if n.Type() != KindExt {
		return 0, nil, n.typeError("ext")
	}
	r := n.ref()
	return r.extType, n.tree.data[r.dataOff : r.dataOff+r.dataLen], nil
}

// Timestamp decodes an Ext node with the reserved timestamp subtype.
func (n Node) Timestamp() (sec int64, nsec int32, err *Error) {
	extType, payload, terr := n.Ext()
	if terr != nil {
		return 0, 0, terr
	}
	if extType != ExtTimestamp {
		return 0, 0, newError(ErrType, "ext type %d is not the timestamp subtype", extType)
	}
	return DecodeTimestampPayload(payload)
}

// ArrayLength returns the number of elements in an Array node.
func (n Node) ArrayLength() (uint64, *Error) {
	if n.Type() != KindArray {
		return 0, n.typeError("array")
	}
	return uint64(n.ref().count), nil
}

// ArrayAt returns the element at index i of an Array node.
func (n Node) ArrayAt(i uint64) (Node, *Error) {
	if n.Type() != KindArray {
		return MissingNode, n.typeError("array")
	}
	r := n.ref()
	if i >= uint64(r.count) {
		return MissingNode, newError(ErrData, "array index %d out of range [0,%d)", i, r.count)
	}
	return Node{tree: n.tree, page: r.childPage, offset: r.childOffset + uint32(i)}, nil
}

// MapCount returns the number of key/value pairs in a Map node.
func (n Node) MapCount() (uint64, *Error) {
	if n.Type() != KindMap {
		return 0, n.typeError("map")
	}
	return uint64(n.ref().count) / 2, nil
}

// MapKeyAt and MapValueAt return the i'th pair's key and value.
func (n Node) MapKeyAt(i uint64) (Node, *Error)   { return n.mapPairSlot(i, 0) }
func (n Node) MapValueAt(i uint64) (Node, *Error) { return n.mapPairSlot(i, 1) }

func (n Node) mapPairSlot(i uint64, half uint64) (Node, *Error) {
	count, err := n.MapCount()
	if err != nil {
		return MissingNode, err
	}
	if i >= count {
		return MissingNode, newError(ErrData, "map pair index %d out of range [0,%d)", i, count)
	}
	r := n.ref()
	return Node{tree: n.tree, page: r.childPage, offset: r.childOffset + uint32(2*i+half)}, nil
}

// MapStrOptional scans a Map node's keys for one matching key and returns
// its value, or MissingNode with no error if absent. It fails with ErrData
// if more than one key matches — a linear scan over a map with duplicate
// keys cannot tell which value the application meant (spec.md §4.8).
func (n Node) MapStrOptional(key string) (Node, *Error) {
	count, err := n.MapCount()
	if err != nil {
		return MissingNode, err
	}
	found := MissingNode
	matches := 0
	for i := uint64(0); i < count; i++ {
		k, kerr := n.MapKeyAt(i)
		if kerr != nil {
			return MissingNode, kerr
		}
		if k.Type() != KindStr {
			continue
		}
		ks, serr := k.Str()
		if serr != nil {
			return MissingNode, serr
		}
		if ks == key {
			matches++
			if matches > 1 {
				return MissingNode, newError(ErrData, "duplicate map key %q", key)
			}
			found, err = n.MapValueAt(i)
			if err != nil {
				return MissingNode, err
			}
		}
	}
	return found, nil
}

// MapStr is MapStrOptional but fails with ErrData if the key is absent.
func (n Node) MapStr(key string) (Node, *Error) {
	v, err := n.MapStrOptional(key)
	if err != nil {
		return MissingNode, err
	}
	if v.IsMissing() {
		return MissingNode, newError(ErrData, "missing required map key %q", key)
	}
	return v, nil
}

// MapInt and MapUint are convenience wrappers over MapStr + Int64/Uint64.
func (n Node) MapInt(key string) (int64, *Error) {
	v, err := n.MapStr(key)
	if err != nil {
		return 0, err
	}
	return v.Int64()
}

func (n Node) MapUint(key string) (uint64, *Error) {
	v, err := n.MapStr(key)
	if err != nil {
		return 0, err
	}
	return v.Uint64()
}

// Enum matches a Str node's text against values and returns the matching
// index, or len(values) with ErrType if none match — the miss value doubles
// as a ready-made "unknown" trailing enum member (mpack's node_enum,
// spec.md §4.8).
func (n Node) Enum(values []string) (int, *Error) {
	i, err := n.enumIndex(values)
	if err != nil {
		return len(values), err
	}
	if i < 0 {
		return len(values), newError(ErrType, "value does not match any of %d known enum values", len(values))
	}
	return i, nil
}

// EnumOptional is Enum without the error on a miss: it always returns
// len(values) on no match, but with a nil error (mpack's node_enum_optional).
func (n Node) EnumOptional(values []string) (int, *Error) {
	i, err := n.enumIndex(values)
	if err != nil {
		return len(values), err
	}
	if i < 0 {
		return len(values), nil
	}
	return i, nil
}

func (n Node) enumIndex(values []string) (int, *Error) {
	s, err := n.Str()
	if err != nil {
		return 0, err
	}
	for i, v := range values {
		if v == s {
			return i, nil
		}
	}
	return -1, nil
}
