package backing

import "time"

// Kind identifies the type of a backing object.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// ID identifies an object within a single backing adapter. It is opaque to
// pkg/inode and pkg/ops; only pkg/handle knows how to turn it into a wire
// handle and back.
type ID string

// Attr is the backing adapter's view of an object's attributes. pkg/inode
// caches a copy of this under its attr lock and refreshes it on demand.
type Attr struct {
	Kind       Kind
	Mode       uint32
	UID        uint32
	GID        uint32
	Nlink      uint32
	Size       uint64
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	LinkTarget string // valid when Kind == KindSymlink
	Rdev       uint64
}

// SetAttr carries the subset of Attr fields a setattr call may change. A nil
// field means "leave unchanged".
type SetAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name   string
	ID     ID
	Kind   Kind
	Cookie uint64 // opaque position marker for the next ReadDir call
}
