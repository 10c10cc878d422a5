package handle

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeBackingRoundTrip(t *testing.T) {
	wire, err := EncodeBacking(7, []byte("inode-42"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != Size {
		t.Fatalf("expected wire size %d, got %d", Size, len(wire))
	}

	d, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Kind != KindBacking || d.ExportID != 7 || !bytes.Equal(d.Opaque, []byte("inode-42")) {
		t.Fatalf("unexpected decode result: %+v", d)
	}
}

func TestEncodeDecodePseudoRoundTrip(t *testing.T) {
	wire, err := EncodePseudo("/export/a/b")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Kind != KindPseudo || d.ExportID != 0 {
		t.Fatalf("unexpected decode result: %+v", d)
	}
	if d.Hash != HashPath("/export/a/b") {
		t.Fatalf("hash mismatch")
	}
	if d.PathLen != len("/export/a/b") {
		t.Fatalf("expected path len %d, got %d", len("/export/a/b"), d.PathLen)
	}
}

func TestEncodeBackingTooLong(t *testing.T) {
	big := bytes.Repeat([]byte("x"), Size)
	if _, err := EncodeBacking(0, big); err == nil {
		t.Fatalf("expected error for oversized opaque")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	buf := make([]byte, Size)
	buf[0] = 0xFF
	if _, err := Decode(buf); err != ErrUnknownVersion {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestHashBackingDeterministic(t *testing.T) {
	h1 := HashBacking(1, []byte("a"))
	h2 := HashBacking(1, []byte("a"))
	h3 := HashBacking(1, []byte("b"))
	if h1 != h2 {
		t.Fatalf("expected identical hashes for identical input")
	}
	if h1 == h3 {
		t.Fatalf("expected different hashes for different input")
	}
}

func TestPathPrefixTruncation(t *testing.T) {
	long := "/" + string(make([]byte, Size*2))
	wire, err := EncodePseudo(long)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.PathLen != len(long) {
		t.Fatalf("expected recorded length %d, got %d", len(long), d.PathLen)
	}
}
