package btf

import (
	"encoding/binary"
	"math"
)

// Wire opcodes (spec.md §6.1). All multi-byte integer and float fields are
// big-endian (network byte order).
const (
	opPosFixIntMin byte = 0x00
	opPosFixIntMax byte = 0x7f
	opFixMapMin    byte = 0x80
	opFixMapMax    byte = 0x8f
	opFixArrMin    byte = 0x90
	opFixArrMax    byte = 0x9f
	opFixStrMin    byte = 0xa0
	opFixStrMax    byte = 0xbf
	opNil          byte = 0xc0
	opReserved     byte = 0xc1
	opFalse        byte = 0xc2
	opTrue         byte = 0xc3
	opBin8         byte = 0xc4
	opBin16        byte = 0xc5
	opBin32        byte = 0xc6
	opExt8         byte = 0xc7
	opExt16        byte = 0xc8
	opExt32        byte = 0xc9
	opFloat32      byte = 0xca
	opFloat64      byte = 0xcb
	opU8           byte = 0xcc
	opU16          byte = 0xcd
	opU32          byte = 0xce
	opU64          byte = 0xcf
	opI8           byte = 0xd0
	opI16          byte = 0xd1
	opI32          byte = 0xd2
	opI64          byte = 0xd3
	opFixExt1      byte = 0xd4
	opFixExt2      byte = 0xd5
	opFixExt4      byte = 0xd6
	opFixExt8      byte = 0xd7
	opFixExt16     byte = 0xd8
	opStr8         byte = 0xd9
	opStr16        byte = 0xda
	opStr32        byte = 0xdb
	opArray16      byte = 0xdc
	opArray32      byte = 0xdd
	opMap16        byte = 0xde
	opMap32        byte = 0xdf
	opNegFixIntMin byte = 0xe0
	opNegFixIntMax byte = 0xff
)

// ExtTimestamp is the reserved ext subtype for timestamps (spec.md §6.1).
const ExtTimestamp int8 = -1

// EncodeTag appends the wire encoding of tag to dst and returns the
// extended slice plus the number of bytes appended. It never writes
// str/bin/ext payload bytes or array/map element bytes — those are the
// caller's responsibility via the byte writer (C4) or tree parser (C7).
func EncodeTag(dst []byte, tag Tag, compat Compat, extensionsEnabled bool) ([]byte, int, error) {
	start := len(dst)
	var err *Error
	switch tag.kind {
	case KindNil:
		dst = append(dst, opNil)
	case KindBool:
		if tag.boolVal {
			dst = append(dst, opTrue)
		} else {
			dst = append(dst, opFalse)
		}
	case KindInt:
		dst = encodeIntMinimal(dst, tag.intVal)
	case KindUint:
		dst = encodeUintMinimal(dst, tag.uintVal)
	case KindFloat32:
		dst = append(dst, opFloat32, 0, 0, 0, 0)
		binary.BigEndian.PutUint32(dst[len(dst)-4:], math.Float32bits(tag.f32Val))
	case KindFloat64:
		dst = append(dst, opFloat64, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(dst[len(dst)-8:], math.Float64bits(tag.f64Val))
	case KindStr:
		dst, err = encodeStrHeader(dst, tag.length, compat)
	case KindBin:
		if compat == CompatV4 {
			// v4 has no bin opcodes; a bin value degrades to a raw str
			// header of the same length rather than failing (spec.md §6.1).
			dst, err = encodeStrHeader(dst, tag.length, compat)
		} else {
			dst = encodeBinHeader(dst, tag.length)
		}
	case KindArray:
		dst = encodeCompoundHeader(dst, tag.length, opFixArrMin, opFixArrMax, opArray16, opArray32)
	case KindMap:
		dst = encodeCompoundHeader(dst, tag.length, opFixMapMin, opFixMapMax, opMap16, opMap32)
	case KindExt:
		if compat == CompatV4 {
			return dst[:start], 0, newError(ErrUnsupported, "ext is not representable in compatibility v4")
		}
		if !extensionsEnabled {
			return dst[:start], 0, newError(ErrUnsupported, "extensions are disabled")
		}
		dst = encodeExtHeader(dst, tag.extType, tag.length)
	case KindMissing, KindNoop:
		return dst[:start], 0, newError(ErrBug, "%s is not a wire kind and cannot be encoded", tag.kind)
	default:
		return dst[:start], 0, newError(ErrBug, "unknown tag kind %d", tag.kind)
	}
	if err != nil {
		return dst[:start], 0, err
	}
	return dst, len(dst) - start, nil
}

// EncodedTagSize returns the number of header bytes EncodeTag would write
// for tag, without writing anything.
func EncodedTagSize(tag Tag, compat Compat, extensionsEnabled bool) (int, error) {
	var buf [MaxTagSize + HeaderExt32Tot]byte
	out, n, err := EncodeTag(buf[:0], tag, compat, extensionsEnabled)
	_ = out
	if err != nil {
		return 0, err
	}
	return n, nil
}

func encodeIntMinimal(dst []byte, v int64) []byte {
	switch {
	case v >= 0:
		return encodeUintMinimal(dst, uint64(v))
	case v >= -32:
		return append(dst, byte(v))
	case v >= math.MinInt8:
		return append(dst, opI8, byte(v))
	case v >= math.MinInt16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(v))
		return append(append(dst, opI16), tmp[:]...)
	case v >= math.MinInt32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v))
		return append(append(dst, opI32), tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v))
		return append(append(dst, opI64), tmp[:]...)
	}
}

func encodeUintMinimal(dst []byte, v uint64) []byte {
	switch {
	case v <= opPosFixIntMax:
		return append(dst, byte(v))
	case v <= math.MaxUint8:
		return append(dst, opU8, byte(v))
	case v <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(v))
		return append(append(dst, opU16), tmp[:]...)
	case v <= math.MaxUint32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v))
		return append(append(dst, opU32), tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], v)
		return append(append(dst, opU64), tmp[:]...)
	}
}

func encodeStrHeader(dst []byte, length uint64, compat Compat) ([]byte, *Error) {
	switch {
	case length <= 31:
		return append(dst, opFixStrMin|byte(length)), nil
	case length <= math.MaxUint8 && compat == CompatV5:
		return append(dst, opStr8, byte(length)), nil
	case length <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(length))
		return append(append(dst, opStr16), tmp[:]...), nil
	case length <= math.MaxUint32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(length))
		return append(append(dst, opStr32), tmp[:]...), nil
	default:
		return dst, newError(ErrTooBig, "str length %d exceeds 32 bits", length)
	}
}

func encodeBinHeader(dst []byte, length uint64) []byte {
	switch {
	case length <= math.MaxUint8:
		return append(dst, opBin8, byte(length))
	case length <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(length))
		return append(append(dst, opBin16), tmp[:]...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(length))
		return append(append(dst, opBin32), tmp[:]...)
	}
}

func encodeCompoundHeader(dst []byte, count uint64, fixMin, _ byte, op16, op32 byte) []byte {
	switch {
	case count <= 15:
		return append(dst, fixMin|byte(count))
	case count <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(count))
		return append(append(dst, op16), tmp[:]...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(count))
		return append(append(dst, op32), tmp[:]...)
	}
}

func encodeExtHeader(dst []byte, extType int8, length uint64) []byte {
	switch length {
	case 1:
		return append(dst, opFixExt1, byte(extType))
	case 2:
		return append(dst, opFixExt2, byte(extType))
	case 4:
		return append(dst, opFixExt4, byte(extType))
	case 8:
		return append(dst, opFixExt8, byte(extType))
	case 16:
		return append(dst, opFixExt16, byte(extType))
	}
	switch {
	case length <= math.MaxUint8:
		return append(dst, opExt8, byte(length), byte(extType))
	case length <= math.MaxUint16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(length))
		return append(append(dst, opExt16), append(tmp[:], byte(extType))...)
	default:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(length))
		return append(append(dst, opExt32), append(tmp[:], byte(extType))...)
	}
}

// ParseTag parses one tag header from the front of src and returns the tag
// plus the number of header bytes consumed. It does not read str/bin/ext
// payload bytes or array/map elements. extensionsEnabled gates ext opcodes
// per spec.md §6.3; when false, any ext opcode (fixext* or ext8/16/32)
// fails with ErrUnsupported even though it is well-formed.
func ParseTag(src []byte, extensionsEnabled bool) (Tag, int, *Error) {
	if len(src) < 1 {
		return Tag{}, 0, newError(ErrInvalid, "empty input")
	}
	b0 := src[0]
	switch {
	case b0 <= opPosFixIntMax:
		return TagUint(uint64(b0)), 1, nil
	case b0 >= opFixMapMin && b0 <= opFixMapMax:
		return TagMap(uint64(b0 & 0x0f)), 1, nil
	case b0 >= opFixArrMin && b0 <= opFixArrMax:
		return TagArray(uint64(b0 & 0x0f)), 1, nil
	case b0 >= opFixStrMin && b0 <= opFixStrMax:
		return TagStr(uint64(b0 & 0x1f)), 1, nil
	case b0 >= opNegFixIntMin:
		return TagInt(int64(int8(b0))), 1, nil
	}

	switch b0 {
	case opNil:
		return TagNil(), 1, nil
	case opReserved:
		return Tag{}, 0, newError(ErrInvalid, "0xc1 is a reserved opcode")
	case opFalse:
		return TagBool(false), 1, nil
	case opTrue:
		return TagBool(true), 1, nil
	case opBin8, opBin16, opBin32:
		return parseLengthPrefixed(src, b0, KindBin, opBin8, opBin16, opBin32)
	case opExt8, opExt16, opExt32:
		return parseExt(src, b0, extensionsEnabled)
	case opFloat32:
		if len(src) < 5 {
			return Tag{}, 0, newError(ErrInvalid, "truncated float32")
		}
		return TagFloat32(math.Float32frombits(binary.BigEndian.Uint32(src[1:5]))), 5, nil
	case opFloat64:
		if len(src) < 9 {
			return Tag{}, 0, newError(ErrInvalid, "truncated float64")
		}
		return TagFloat64(math.Float64frombits(binary.BigEndian.Uint64(src[1:9]))), 9, nil
	case opU8:
		if len(src) < 2 {
			return Tag{}, 0, newError(ErrInvalid, "truncated u8")
		}
		return TagUint(uint64(src[1])), 2, nil
	case opU16:
		if len(src) < 3 {
			return Tag{}, 0, newError(ErrInvalid, "truncated u16")
		}
		return TagUint(uint64(binary.BigEndian.Uint16(src[1:3]))), 3, nil
	case opU32:
		if len(src) < 5 {
			return Tag{}, 0, newError(ErrInvalid, "truncated u32")
		}
		return TagUint(uint64(binary.BigEndian.Uint32(src[1:5]))), 5, nil
	case opU64:
		if len(src) < 9 {
			return Tag{}, 0, newError(ErrInvalid, "truncated u64")
		}
		return TagUint(binary.BigEndian.Uint64(src[1:9])), 9, nil
	case opI8:
		if len(src) < 2 {
			return Tag{}, 0, newError(ErrInvalid, "truncated i8")
		}
		return TagInt(int64(int8(src[1]))), 2, nil
	case opI16:
		if len(src) < 3 {
			return Tag{}, 0, newError(ErrInvalid, "truncated i16")
		}
		return TagInt(int64(int16(binary.BigEndian.Uint16(src[1:3])))), 3, nil
	case opI32:
		if len(src) < 5 {
			return Tag{}, 0, newError(ErrInvalid, "truncated i32")
		}
		return TagInt(int64(int32(binary.BigEndian.Uint32(src[1:5])))), 5, nil
	case opI64:
		if len(src) < 9 {
			return Tag{}, 0, newError(ErrInvalid, "truncated i64")
		}
		return TagInt(int64(binary.BigEndian.Uint64(src[1:9]))), 9, nil
	case opFixExt1, opFixExt2, opFixExt4, opFixExt8, opFixExt16:
		return parseFixExt(src, b0, extensionsEnabled)
	case opStr8, opStr16, opStr32:
		return parseLengthPrefixed(src, b0, KindStr, opStr8, opStr16, opStr32)
	case opArray16, opArray32:
		return parseArrayOrMap16_32(src, b0, KindArray, opArray16)
	case opMap16, opMap32:
		return parseArrayOrMap16_32(src, b0, KindMap, opMap16)
	}
	return Tag{}, 0, newError(ErrInvalid, "unknown opcode 0x%02x", b0)
}

func parseLengthPrefixed(src []byte, b0 byte, kind Kind, op8, op16, op32 byte) (Tag, int, *Error) {
	switch b0 {
	case op8:
		if len(src) < 2 {
			return Tag{}, 0, newError(ErrInvalid, "truncated 8-bit length")
		}
		return lengthTag(kind, uint64(src[1])), 2, nil
	case op16:
		if len(src) < 3 {
			return Tag{}, 0, newError(ErrInvalid, "truncated 16-bit length")
		}
		return lengthTag(kind, uint64(binary.BigEndian.Uint16(src[1:3]))), 3, nil
	default: // op32
		if len(src) < 5 {
			return Tag{}, 0, newError(ErrInvalid, "truncated 32-bit length")
		}
		return lengthTag(kind, uint64(binary.BigEndian.Uint32(src[1:5]))), 5, nil
	}
}

func lengthTag(kind Kind, length uint64) Tag {
	if kind == KindBin {
		return TagBin(length)
	}
	return TagStr(length)
}

func parseArrayOrMap16_32(src []byte, b0 byte, kind Kind, op16 byte) (Tag, int, *Error) {
	if b0 == op16 {
		if len(src) < 3 {
			return Tag{}, 0, newError(ErrInvalid, "truncated 16-bit count")
		}
		count := uint64(binary.BigEndian.Uint16(src[1:3]))
		if kind == KindArray {
			return TagArray(count), 3, nil
		}
		return TagMap(count), 3, nil
	}
	if len(src) < 5 {
		return Tag{}, 0, newError(ErrInvalid, "truncated 32-bit count")
	}
	count := uint64(binary.BigEndian.Uint32(src[1:5]))
	if kind == KindArray {
		return TagArray(count), 5, nil
	}
	return TagMap(count), 5, nil
}

func parseFixExt(src []byte, b0 byte, extensionsEnabled bool) (Tag, int, *Error) {
	if !extensionsEnabled {
		return Tag{}, 0, newError(ErrUnsupported, "extensions are disabled")
	}
	if len(src) < 2 {
		return Tag{}, 0, newError(ErrInvalid, "truncated fixext header")
	}
	var length uint64
	switch b0 {
	case opFixExt1:
		length = 1
	case opFixExt2:
		length = 2
	case opFixExt4:
		length = 4
	case opFixExt8:
		length = 8
	case opFixExt16:
		length = 16
	}
	return TagExt(int8(src[1]), length), 2, nil
}

func parseExt(src []byte, b0 byte, extensionsEnabled bool) (Tag, int, *Error) {
	if !extensionsEnabled {
		return Tag{}, 0, newError(ErrUnsupported, "extensions are disabled")
	}
	switch b0 {
	case opExt8:
		if len(src) < 3 {
			return Tag{}, 0, newError(ErrInvalid, "truncated ext8 header")
		}
		return TagExt(int8(src[2]), uint64(src[1])), 3, nil
	case opExt16:
		if len(src) < 4 {
			return Tag{}, 0, newError(ErrInvalid, "truncated ext16 header")
		}
		length := uint64(binary.BigEndian.Uint16(src[1:3]))
		return TagExt(int8(src[3]), length), 4, nil
	default: // opExt32
		if len(src) < 6 {
			return Tag{}, 0, newError(ErrInvalid, "truncated ext32 header")
		}
		length := uint64(binary.BigEndian.Uint32(src[1:5]))
		return TagExt(int8(src[5]), length), 6, nil
	}
}

// EncodeTimestampPayload encodes (sec, nsec) into the smallest timestamp
// payload that represents it exactly: 4 bytes if sec fits an unsigned
// 32-bit value and nsec is zero, 8 bytes if sec fits 34 bits, else 12
// bytes. nsec must be in [0, 999_999_999] (invariant 6).
func EncodeTimestampPayload(sec int64, nsec int32) ([]byte, *Error) {
	if nsec < 0 || nsec > 999_999_999 {
		return nil, newError(ErrInvalid, "timestamp nanoseconds %d out of range", nsec)
	}
	switch {
	case nsec == 0 && sec >= 0 && sec <= math.MaxUint32:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(sec))
		return buf[:], nil
	case sec >= 0 && sec < (1<<34):
		packed := (uint64(nsec) << 34) | uint64(sec)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], packed)
		return buf[:], nil
	default:
		var buf [12]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(nsec))
		binary.BigEndian.PutUint64(buf[4:12], uint64(sec))
		return buf[:], nil
	}
}

// DecodeTimestampPayload decodes a 4/8/12-byte ext(-1) payload into
// (sec, nsec). Any other length, or nsec out of [0, 999_999_999], fails
// with ErrInvalid (invariant 6, §8.1 property 7).
func DecodeTimestampPayload(payload []byte) (sec int64, nsec int32, err *Error) {
	switch len(payload) {
	case 4:
		return int64(binary.BigEndian.Uint32(payload)), 0, nil
	case 8:
		packed := binary.BigEndian.Uint64(payload)
		nsec = int32(packed >> 34)
		sec = int64(packed & ((1 << 34) - 1))
	case 12:
		nsec = int32(binary.BigEndian.Uint32(payload[0:4]))
		sec = int64(binary.BigEndian.Uint64(payload[4:12]))
	default:
		return 0, 0, newError(ErrInvalid, "timestamp payload must be 4, 8 or 12 bytes, got %d", len(payload))
	}
	if nsec < 0 || nsec > 999_999_999 {
		return 0, 0, newError(ErrInvalid, "timestamp nanoseconds %d out of range", nsec)
	}
	return sec, nsec, nil
}
