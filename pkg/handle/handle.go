// Package handle encodes and decodes the opaque file handles the core
// hands to wire dispatch. A handle is either a backing handle (wraps an
// export id and an adapter-opaque byte string) or a pseudo handle (a
// stable hash of a pseudo-filesystem path). Both are padded to a fixed
// size so dispatch can treat them as uninterpreted byte blobs.
package handle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the fixed wire size of every encoded handle, in bytes.
const Size = 128

const (
	versionPseudo byte = 1
	versionBacking byte = 2
)

const (
	pseudoHeaderLen  = 1 + 4 + 8 + 2 // version + export_id + hash + path_len
	backingHeaderLen = 1 + 4 + 2     // version + export_id + opaque_len
)

var (
	// ErrTruncated means the input is shorter than the fixed wire size.
	ErrTruncated = errors.New("handle: truncated")
	// ErrUnknownVersion means the leading version byte is not recognized.
	ErrUnknownVersion = errors.New("handle: unknown version")
	// ErrTooLong means an opaque payload does not fit in the fixed wire size.
	ErrTooLong = errors.New("handle: payload too long for fixed handle size")
)

// Kind distinguishes a decoded handle's origin.
type Kind int

const (
	// KindBacking identifies a handle minted from a backing adapter ID.
	KindBacking Kind = iota
	// KindPseudo identifies a handle minted from a pseudo-filesystem path.
	KindPseudo
)

// Decoded is the parsed form of a wire handle.
type Decoded struct {
	Kind     Kind
	ExportID uint32

	// Valid when Kind == KindBacking: the adapter-opaque identifier.
	Opaque []byte

	// Valid when Kind == KindPseudo: the path hash and truncated prefix
	// recorded at encode time. The prefix alone is not authoritative;
	// callers resolve the full path via the hash against the pseudofs
	// node table.
	Hash       uint64
	PathLen    int
	PathPrefix []byte
}

// HashBacking returns the 64-bit hash used to shard the cache index by
// backing identity. The export id is hashed in ahead of the opaque bytes,
// so the same opaque id under two exports generally lands on different
// shards.
func HashBacking(exportID uint32, opaque []byte) uint64 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], exportID)
	h := xxhash.New()
	h.Write(buf[:])
	h.Write(opaque)
	return h.Sum64()
}

// HashPath returns the stable 64-bit hash of a pseudo-filesystem path,
// used both as the handle's embedded hash and as the pseudofs node id.
func HashPath(path string) uint64 {
	return xxhash.Sum64String(path)
}

// EncodeBacking produces a fixed-size wire handle for a backing-adapter
// object.
func EncodeBacking(exportID uint32, opaque []byte) ([]byte, error) {
	if backingHeaderLen+len(opaque) > Size {
		return nil, fmt.Errorf("%w: opaque len %d", ErrTooLong, len(opaque))
	}
	buf := make([]byte, Size)
	buf[0] = versionBacking
	binary.BigEndian.PutUint32(buf[1:5], exportID)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(opaque)))
	copy(buf[7:], opaque)
	return buf, nil
}

// EncodePseudo produces a fixed-size wire handle for a pseudo-filesystem
// path. The export id is always 0 for pseudo handles.
func EncodePseudo(path string) ([]byte, error) {
	h := HashPath(path)
	prefixMax := Size - pseudoHeaderLen
	prefix := []byte(path)
	if len(prefix) > prefixMax {
		prefix = prefix[:prefixMax] // hash alone stays authoritative for a truncated prefix
	}

	buf := make([]byte, Size)
	buf[0] = versionPseudo
	binary.BigEndian.PutUint32(buf[1:5], 0)
	binary.BigEndian.PutUint64(buf[5:13], h)
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(path)))
	copy(buf[15:], prefix)
	return buf, nil
}

// Decode parses a fixed-size wire handle.
func Decode(buf []byte) (Decoded, error) {
	if len(buf) != Size {
		return Decoded{}, ErrTruncated
	}
	switch buf[0] {
	case versionBacking:
		exportID := binary.BigEndian.Uint32(buf[1:5])
		opaqueLen := binary.BigEndian.Uint16(buf[5:7])
		if int(opaqueLen) > Size-backingHeaderLen {
			return Decoded{}, ErrTooLong
		}
		opaque := make([]byte, opaqueLen)
		copy(opaque, buf[7:7+int(opaqueLen)])
		return Decoded{Kind: KindBacking, ExportID: exportID, Opaque: opaque}, nil
	case versionPseudo:
		h := binary.BigEndian.Uint64(buf[5:13])
		pathLen := binary.BigEndian.Uint16(buf[13:15])
		prefix := make([]byte, Size-pseudoHeaderLen)
		copy(prefix, buf[15:])
		return Decoded{Kind: KindPseudo, ExportID: 0, Hash: h, PathLen: int(pathLen), PathPrefix: prefix}, nil
	default:
		return Decoded{}, ErrUnknownVersion
	}
}
