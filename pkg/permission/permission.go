// Package permission implements the unified mode+ACL access check and
// setattr admissibility rules the operation surface consults before
// calling into the backing adapter (§4.I).
package permission

import (
	"time"

	"github.com/vfscache/corefs/pkg/backing"
)

// Want is a bitmask of the access classes an operation may require.
type Want uint32

const (
	WantRead Want = 1 << iota
	WantWrite
	WantExecute
	WantLookup
	WantAddFile
	WantDeleteChild
	WantListDir
	WantWriteOwner
	WantWriteAcl
	WantWriteAttr
	WantWriteData
)

// Context carries the caller identity and export policy consulted by
// access checks (the per-request "operation context" of §6).
type Context struct {
	UID              uint32
	GID              uint32
	SupplementaryGID []uint32
	RootBypass       bool // if false, UID 0 is not special-cased (export squashes root)
	ACLEnabled       bool
}

func (c Context) inGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.SupplementaryGID {
		if g == gid {
			return true
		}
	}
	return false
}

// ACLChecker evaluates an ACL against a requested access mask when present
// and enabled. Adapters that support ACLs implement this; the in-memory
// reference adapter does not, so Access always falls through to mode bits.
type ACLChecker interface {
	CheckACL(attr backing.Attr, want Want, ctx Context) (granted Want, hasACL bool)
}

// Engine evaluates access and setattr admissibility against cached
// attributes.
type Engine struct {
	acl ACLChecker
}

// New constructs a permission Engine. acl may be nil if no ACL support is
// wired in, in which case the engine always falls back to POSIX mode bits.
func New(acl ACLChecker) *Engine {
	return &Engine{acl: acl}
}

// Access reports whether ctx is granted every bit set in want against attr.
func (e *Engine) Access(attr backing.Attr, want Want, ctx Context) bool {
	if ctx.RootBypass && ctx.UID == 0 {
		return true
	}

	if e.acl != nil && ctx.ACLEnabled {
		if granted, ok := e.acl.CheckACL(attr, want, ctx); ok {
			return granted&want == want
		}
	}

	granted := posixGranted(attr, ctx)
	return granted&want == want
}

// posixGranted maps attr's mode bits to a Want mask based on which class
// (owner/group/other) ctx falls into.
func posixGranted(attr backing.Attr, ctx Context) Want {
	var bits uint32
	switch {
	case ctx.UID == attr.UID:
		bits = (attr.Mode >> 6) & 0x7
	case ctx.inGroup(attr.GID):
		bits = (attr.Mode >> 3) & 0x7
	default:
		bits = attr.Mode & 0x7
	}

	var granted Want
	if bits&0x4 != 0 {
		granted |= WantRead | WantListDir | WantLookup
	}
	if bits&0x2 != 0 {
		granted |= WantWrite | WantWriteData | WantAddFile | WantDeleteChild
	}
	if bits&0x1 != 0 {
		granted |= WantExecute | WantLookup
	}
	if ctx.UID == attr.UID {
		granted |= WantWriteOwner | WantWriteAcl | WantWriteAttr
	}
	return granted
}

// StickyDeleteAllowed implements the sticky-bit directory delete/rename
// admissibility rule supplemented from original_source: when dir's mode
// has the sticky bit (01000) set, the caller must be root, dir's owner, or
// the owner of the child being removed/renamed.
func StickyDeleteAllowed(dir backing.Attr, child backing.Attr, ctx Context) bool {
	const stickyBit = 0o1000
	if dir.Mode&stickyBit == 0 {
		return true
	}
	if ctx.RootBypass && ctx.UID == 0 {
		return true
	}
	return ctx.UID == dir.UID || ctx.UID == child.UID
}

// SetAttrChanges mirrors backing.SetAttr but is also consulted for the
// additional rule inputs (whether the size change is already-open-for-write)
// that SetAttr alone doesn't carry.
type SetAttrChanges struct {
	backing.SetAttr
	ChGID         *uint32 // requested new group, when distinct from SetAttr.GID semantics
	AtimeExplicit bool    // true if Atime was set to a caller-supplied value rather than server-now
	MtimeExplicit bool
}

// CheckSetAttr computes the access mask the caller must additionally be
// granted (beyond what CheckSetAttr itself enforces) before the change can
// proceed, per §4.I. err is non-nil for unconditional rejections (chown to
// another user by a non-root caller, or an invalid nanosecond field).
func CheckSetAttr(attr backing.Attr, changes SetAttrChanges, ctx Context, isOpenWrite bool) (Want, error) {
	if ctx.RootBypass && ctx.UID == 0 {
		return 0, nil
	}

	var need Want

	if changes.UID != nil {
		if *changes.UID != attr.UID {
			return 0, backing.NewError(backing.ErrAccessDenied, "setattr", "", nil)
		}
		if ctx.UID != attr.UID {
			need |= WantWriteOwner
		}
	}

	if changes.GID != nil {
		if !ctx.inGroup(*changes.GID) {
			return 0, backing.NewError(backing.ErrAccessDenied, "setattr", "", nil)
		}
		if ctx.UID != attr.UID {
			need |= WantWriteOwner
		}
	}

	if changes.Mode != nil {
		if ctx.UID != attr.UID {
			need |= WantWriteAcl
		}
	}

	if changes.Size != nil {
		if !isOpenWrite {
			need |= WantWriteData
		}
	}

	if changes.Atime != nil {
		if changes.Atime.Nanosecond() >= 1_000_000_000 {
			return 0, backing.NewError(backing.ErrInvalidArgument, "setattr", "", nil)
		}
		if changes.AtimeExplicit {
			if ctx.UID != attr.UID {
				need |= WantWriteAttr
			}
		} else {
			need |= WantWriteData
		}
	}

	if changes.Mtime != nil {
		if changes.Mtime.Nanosecond() >= 1_000_000_000 {
			return 0, backing.NewError(backing.ErrInvalidArgument, "setattr", "", nil)
		}
		if changes.MtimeExplicit {
			if ctx.UID != attr.UID {
				need |= WantWriteAttr
			}
		} else {
			need |= WantWriteData
		}
	}

	return need, nil
}

// nowTruncated is a small helper callers use to build a server-now
// timestamp with a valid (zero) nanosecond field for SetAttr.Mtime/Atime.
func nowTruncated() time.Time {
	return time.Now().Truncate(time.Second)
}
