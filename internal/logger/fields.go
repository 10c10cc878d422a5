package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the cache core.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Operation & Identity
	// ========================================================================
	KeyOperation = "operation" // core operation name: lookup, create, setattr, ...
	KeyHandle    = "handle"    // opaque handle (hex-encoded)
	KeyExport    = "export"    // export/share name
	KeyStatus    = "status"    // abstract core error code
	KeyStatusMsg = "status_msg"
	KeyClientIP  = "client_ip"
	KeyUID       = "uid"
	KeyGID       = "gid"

	// ========================================================================
	// Filesystem Operations
	// ========================================================================
	KeyPath       = "path"
	KeyFilename   = "filename"
	KeyParentPath = "parent_path"
	KeyOldPath    = "old_path"
	KeyNewPath    = "new_path"
	KeyKind       = "kind" // entry kind: regular, directory, symlink, ...
	KeySize       = "size"
	KeyMode       = "mode"
	KeyOffset     = "offset"
	KeyCount      = "count"
	KeyLinkTarget = "link_target"
	KeyLinkCount  = "link_count"

	// ========================================================================
	// Cache / LRU / reclaimer
	// ========================================================================
	KeyRefCount   = "refcount"
	KeyLane       = "lane"
	KeyTier       = "tier"
	KeyPinned     = "pinned"
	KeyEntryCount = "entry_count"
	KeyFDCount    = "fd_count"
	KeyEvicted    = "evicted"
	KeyShard      = "shard"

	// ========================================================================
	// State & lease registry
	// ========================================================================
	KeyClientID  = "client_id"
	KeyStateID   = "state_id"
	KeyLeaseLeft = "lease_seconds_left"

	// ========================================================================
	// Generic
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyEntries    = "entries"
	KeyCookieEnd  = "cookie_end"
)

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for the correlation ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Operation & Identity
// ----------------------------------------------------------------------------

// Operation returns a slog.Attr for the core operation name
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Handle returns a slog.Attr for an opaque handle (hex-encoded)
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// Export returns a slog.Attr for export/share name
func Export(name string) slog.Attr {
	return slog.String(KeyExport, name)
}

// Status returns a slog.Attr for the abstract core error code
func Status(code string) slog.Attr {
	return slog.String(KeyStatus, code)
}

// ClientIP returns a slog.Attr for client address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// UID returns a slog.Attr for user ID
func UID(uid uint32) slog.Attr {
	return slog.Any(KeyUID, uid)
}

// GID returns a slog.Attr for group ID
func GID(gid uint32) slog.Attr {
	return slog.Any(KeyGID, gid)
}

// ----------------------------------------------------------------------------
// Filesystem Operations
// ----------------------------------------------------------------------------

// Path returns a slog.Attr for a path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Filename returns a slog.Attr for a basename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// OldPath returns a slog.Attr for the rename source path
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the rename destination path
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// Kind returns a slog.Attr for entry kind
func Kind(k string) slog.Attr {
	return slog.String(KeyKind, k)
}

// Size returns a slog.Attr for a size in bytes
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Offset returns a slog.Attr for a read/write offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for a byte count
func Count(c uint32) slog.Attr {
	return slog.Any(KeyCount, c)
}

// LinkCount returns a slog.Attr for hard link count
func LinkCount(n uint32) slog.Attr {
	return slog.Any(KeyLinkCount, n)
}

// ----------------------------------------------------------------------------
// Cache / LRU / reclaimer
// ----------------------------------------------------------------------------

// RefCount returns a slog.Attr for an entry's reference count
func RefCount(n int32) slog.Attr {
	return slog.Int(KeyRefCount, int(n))
}

// Lane returns a slog.Attr for an LRU lane index
func Lane(n int) slog.Attr {
	return slog.Int(KeyLane, n)
}

// Tier returns a slog.Attr for an LRU tier name
func Tier(t string) slog.Attr {
	return slog.String(KeyTier, t)
}

// Pinned returns a slog.Attr for pinned status
func Pinned(p bool) slog.Attr {
	return slog.Bool(KeyPinned, p)
}

// EntryCount returns a slog.Attr for the total tracked entry count
func EntryCount(n int) slog.Attr {
	return slog.Int(KeyEntryCount, n)
}

// FDCount returns a slog.Attr for the live fd counter
func FDCount(n int64) slog.Attr {
	return slog.Int64(KeyFDCount, n)
}

// Evicted returns a slog.Attr for a number of entries/fds evicted
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// Shard returns a slog.Attr for a shard index
func Shard(n int) slog.Attr {
	return slog.Int(KeyShard, n)
}

// ----------------------------------------------------------------------------
// State & lease registry
// ----------------------------------------------------------------------------

// ClientID returns a slog.Attr for a client identifier
func ClientID(id uint64) slog.Attr {
	return slog.Uint64(KeyClientID, id)
}

// StateID returns a slog.Attr for a state entry identifier
func StateID(id string) slog.Attr {
	return slog.String(KeyStateID, id)
}

// ----------------------------------------------------------------------------
// Generic
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Entries returns a slog.Attr for a directory entry count
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// CookieEnd returns a slog.Attr for a readdir cookie
func CookieEnd(cookie uint64) slog.Attr {
	return slog.Uint64(KeyCookieEnd, cookie)
}
