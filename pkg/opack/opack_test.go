package opack

import (
	"bytes"
	"testing"
)

func TestPackSmallInt(t *testing.T) {
	if got := Pack(IntVal(0, 0)); !bytes.Equal(got, []byte{0x08}) {
		t.Fatalf("pack(0) = % X, want 08", got)
	}
	if got := Pack(IntVal(0x27, 0)); !bytes.Equal(got, []byte{0x2F}) {
		t.Fatalf("pack(0x27) = % X, want 2F", got)
	}
}

func TestPackArrayBackReference(t *testing.T) {
	v := ArrayVal(StringVal("foo"), StringVal("bar"), StringVal("foo"), StringVal("bar"))
	got := Pack(v)
	want := []byte{0xD4, 0x43, 0x66, 0x6F, 0x6F, 0x43, 0x62, 0x61, 0x72, 0xA0, 0xA1}
	if !bytes.Equal(got, want) {
		t.Fatalf("Pack() = % X, want % X", got, want)
	}
}

func TestUnpackBackReferenceResolvesToOriginalValue(t *testing.T) {
	v := ArrayVal(StringVal("foo"), StringVal("bar"), StringVal("foo"), StringVal("bar"))
	decoded, err := Unpack(Pack(v))
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(decoded.Array) != 4 {
		t.Fatalf("expected 4 items, got %d", len(decoded.Array))
	}
	for i, want := range []string{"foo", "bar", "foo", "bar"} {
		if decoded.Array[i].Str != want {
			t.Fatalf("item %d = %q, want %q", i, decoded.Array[i].Str, want)
		}
	}
}

func TestRoundTripScalarTypes(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		IntVal(1234, 2),
		IntVal(5, 0),
		Float32Val(1.5),
		Float64Val(3.14159),
		StringVal("hello companion"),
		BytesVal([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		UUIDVal([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}),
	}
	for _, v := range cases {
		encoded := Pack(v)
		decoded, err := Unpack(encoded)
		if err != nil {
			t.Fatalf("Unpack(%+v): %v", v, err)
		}
		if !valuesEqual(v, decoded) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, v)
		}
	}
}

func TestRoundTripSizedIntegerWidthPreserved(t *testing.T) {
	for _, width := range []int{1, 2, 4, 8} {
		v := IntVal(1000, width)
		decoded, err := Unpack(Pack(v))
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		if decoded.IntWidth != width {
			t.Fatalf("width %d: got IntWidth=%d", width, decoded.IntWidth)
		}
		if decoded.Int != 1000 {
			t.Fatalf("width %d: got Int=%d", width, decoded.Int)
		}
	}
}

func TestRoundTripNestedMapAndArray(t *testing.T) {
	v := MapVal(
		Entry("_i", StringVal("_systemInfo")),
		Entry("_t", IntVal(1, 0)),
		Entry("_c", MapVal(
			Entry("_pubID", StringVal("AA:BB:CC:DD:EE:FF")),
			Entry("_sv", StringVal("230.1")),
			Entry("_bf", IntVal(0, 0)),
			Entry("_i", ArrayVal(StringVal("a"), StringVal("b"), StringVal("a"))),
		)),
	)
	decoded, err := Unpack(Pack(v))
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !valuesEqual(v, decoded) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, v)
	}
}

func TestRoundTripEndlessArrayAndMap(t *testing.T) {
	items := make([]Value, 20)
	for i := range items {
		items[i] = IntVal(int64(i), 0)
	}
	v := ArrayVal(items...)
	encoded := Pack(v)
	if encoded[0] != tagArrayEndles {
		t.Fatalf("expected endless array tag, got 0x%02X", encoded[0])
	}
	decoded, err := Unpack(encoded)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(decoded.Array) != 20 {
		t.Fatalf("expected 20 items, got %d", len(decoded.Array))
	}

	entries := make([]MapEntry, 20)
	for i := range entries {
		entries[i] = Entry(string(rune('a'+i)), IntVal(int64(i), 0))
	}
	mv := MapVal(entries...)
	encodedMap := Pack(mv)
	if encodedMap[0] != tagMapEndless {
		t.Fatalf("expected endless map tag, got 0x%02X", encodedMap[0])
	}
	decodedMap, err := Unpack(encodedMap)
	if err != nil {
		t.Fatalf("Unpack map: %v", err)
	}
	if len(decodedMap.Map) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(decodedMap.Map))
	}
}

func TestUnpackUnknownTagIsFatal(t *testing.T) {
	if _, err := Unpack([]byte{0xFF}); err == nil {
		t.Fatal("expected error for unknown tag 0xFF")
	}
}

func TestUnpackUndefinedBackReferenceIsFatal(t *testing.T) {
	if _, err := Unpack([]byte{0xA5}); err == nil {
		t.Fatal("expected error for back-reference to undefined index")
	}
}

func TestArraysAndMapsAreNeverBackReferenced(t *testing.T) {
	inner := ArrayVal(IntVal(1, 0), IntVal(2, 0))
	v := ArrayVal(inner, inner)
	encoded := Pack(v)
	// Both copies of `inner` must be fully re-emitted; there should be no
	// back-reference tag (0xA0-0xC4) anywhere after the first array header.
	for i, b := range encoded {
		if i == 0 {
			continue
		}
		if b >= 0xA0 && b <= 0xC4 {
			t.Fatalf("found back-reference byte 0x%02X at offset %d; arrays must never be indexed", b, i)
		}
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat32:
		return a.Float32 == b.Float32
	case KindFloat64:
		return a.Float64 == b.Float64
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return bytes.Equal(a.Bytes, b.Bytes)
	case KindUUID:
		return a.UUID == b.UUID
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !valuesEqual(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for i := range a.Map {
			if a.Map[i].Key != b.Map[i].Key || !valuesEqual(a.Map[i].Value, b.Map[i].Value) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
