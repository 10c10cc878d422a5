// Package inode implements the cache entry, cache index, directory-entry
// index, and LRU/pin subsystem at the core of this server: the tracked,
// in-memory view of every backing object reachable through it.
package inode

import (
	"context"
	"sync"
	"time"

	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/weakref"
)

// Kind mirrors backing.Kind plus the two bookkeeping states an entry can be
// in while it sits on the LRU free path.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindUnassigned // freshly allocated, not yet populated
	KindRecycled   // reused LRU victim, attrs not yet refreshed
)

// OpenFlags records what a cached descriptor was opened for.
type OpenFlags int

const (
	FlagsClosed OpenFlags = iota
	FlagsRead
	FlagsWrite
	FlagsReadWrite
)

// Satisfies reports whether the cached descriptor's flags cover a request
// for need.
func (f OpenFlags) Satisfies(need OpenFlags) bool {
	if f == FlagsReadWrite {
		return true
	}
	return f == need
}

// regularContent is the content view for regular files.
type regularContent struct {
	handle         backing.FileHandle
	openFlags      OpenFlags
	lastUse        time.Time
	pinnedForState bool
}

// directoryContent is the content view for directories.
type directoryContent struct {
	populated      bool
	dirents        *DirentIndex
	activeChildren int
	cookieVerifier uint64
	parent         weakref.Ref
	hasParent      bool
}

// symlinkContent is the content view for symlinks.
type symlinkContent struct {
	target string
	valid  bool
}

// Entry is the cache's tracked object: one per live backing identity.
// Per invariant 7, the three locks below are always acquired in order
// attr -> content -> state, and no lock is held across a call into the
// backing adapter that might block for arbitrary time, except where noted.
type Entry struct {
	Key   backing.ID
	Store backing.Store

	attrMu         sync.RWMutex
	attr           backing.Attr
	attrsTrusted   bool
	contentTrusted bool
	verifier       uint64

	contentMu sync.RWMutex
	kind      Kind
	regular   *regularContent
	directory *directoryContent
	symlink   *symlinkContent

	stateMu    sync.RWMutex
	stateCount int

	// LRU membership, guarded by the owning lane's mutex (see lru.go).
	lane     int
	tier     Tier
	pinned   bool
	refcount int32
	prev     *Entry
	next     *Entry

	weak weakref.Ref
}

func newEntry(key backing.ID, store backing.Store, kind Kind, attr backing.Attr) *Entry {
	e := &Entry{
		Key:          key,
		Store:        store,
		attr:         attr,
		attrsTrusted: true,
		kind:         kind,
		refcount:     1,
	}
	switch kind {
	case KindRegular:
		e.regular = &regularContent{}
	case KindDirectory:
		e.directory = &directoryContent{dirents: NewDirentIndex()}
	case KindSymlink:
		e.symlink = &symlinkContent{}
	}
	return e
}

// Kind returns the entry's object kind.
func (e *Entry) Kind() Kind {
	e.contentMu.RLock()
	defer e.contentMu.RUnlock()
	return e.kind
}

// Attr returns a snapshot of the cached attributes and whether they are
// currently trusted.
func (e *Entry) Attr() (backing.Attr, bool) {
	e.attrMu.RLock()
	defer e.attrMu.RUnlock()
	return e.attr, e.attrsTrusted
}

// RefreshAttr replaces the cached attributes with a freshly fetched value
// and marks them trusted. Callers must hold no backing call in flight while
// holding the attr write lock beyond this assignment.
func (e *Entry) RefreshAttr(attr backing.Attr) {
	e.attrMu.Lock()
	e.attr = attr
	e.attrsTrusted = true
	e.attrMu.Unlock()
}

// InvalidateAttr clears the trusted bit so the next reader refreshes from
// the backing layer (invariant 6).
func (e *Entry) InvalidateAttr() {
	e.attrMu.Lock()
	e.attrsTrusted = false
	e.attrMu.Unlock()
}

// LockTrustAttrs checks trust under the attr read lock and, if attrs are
// not trusted, fetches a fresh copy via the backing adapter and installs it
// through RefreshAttr. It returns the current attrs with the lock released;
// needWrite does not change its behavior.
func (e *Entry) LockTrustAttrs(ctx context.Context, needWrite bool) (backing.Attr, error) {
	e.attrMu.RLock()
	if e.attrsTrusted {
		a := e.attr
		e.attrMu.RUnlock()
		return a, nil
	}
	e.attrMu.RUnlock()

	a, err := e.Store.GetAttr(ctx, e.Key)
	if err != nil {
		return backing.Attr{}, err
	}
	e.RefreshAttr(a)
	_ = needWrite
	return a, nil
}

// FixupAfterWrite updates local timestamps after a successful modifying
// backing call and marks attrs trusted again, per §4.E.
func (e *Entry) FixupAfterWrite(now time.Time, newSize *uint64) {
	e.attrMu.Lock()
	e.attr.Mtime = now
	e.attr.Ctime = now
	if newSize != nil {
		e.attr.Size = *newSize
	}
	e.attrsTrusted = true
	e.attrMu.Unlock()
}

// ContentTrusted reports whether the content view (dirent index, symlink
// target) can be served without a backing re-query.
func (e *Entry) ContentTrusted() bool {
	e.contentMu.RLock()
	defer e.contentMu.RUnlock()
	return e.contentTrusted
}

// InvalidateContent clears the content-trusted bit (invariant 6).
func (e *Entry) InvalidateContent() {
	e.contentMu.Lock()
	e.contentTrusted = false
	if e.directory != nil {
		e.directory.populated = false
	}
	if e.symlink != nil {
		e.symlink.valid = false
	}
	e.contentMu.Unlock()
}

// directoryLocked returns the directory content view, or nil if this entry is not
// a directory. Caller must hold contentMu.
func (e *Entry) directoryLocked() *directoryContent {
	return e.directory
}

// ContentRLock/ContentRUnlock/ContentLock/ContentUnlock expose the content
// lock directly to callers (ops) that need to hold it across a multi-step
// directory or symlink operation, per invariant 7's lock ordering.
func (e *Entry) ContentRLock()   { e.contentMu.RLock() }
func (e *Entry) ContentRUnlock() { e.contentMu.RUnlock() }
func (e *Entry) ContentLock()    { e.contentMu.Lock() }
func (e *Entry) ContentUnlock()  { e.contentMu.Unlock() }

// Dirents returns the directory-entry index. Caller must hold the content
// lock and the entry must be a directory.
func (e *Entry) Dirents() *DirentIndex {
	if e.directory == nil {
		return nil
	}
	return e.directory.dirents
}

// DirPopulated/SetDirPopulated track whether the dirent index reflects a
// backing READDIR already. Caller must hold the content lock.
func (e *Entry) DirPopulated() bool        { return e.directory != nil && e.directory.populated }
func (e *Entry) SetDirPopulated(v bool)    { e.directory.populated = v }
func (e *Entry) CookieVerifier() uint64    { return e.directory.cookieVerifier }
func (e *Entry) SetCookieVerifier(v uint64) { e.directory.cookieVerifier = v }

// SymlinkTarget/SetSymlinkTarget expose the cached link text. Caller must
// hold the content lock and the entry must be a symlink.
func (e *Entry) SymlinkTarget() (string, bool) {
	if e.symlink == nil {
		return "", false
	}
	return e.symlink.target, e.symlink.valid
}

func (e *Entry) SetSymlinkTarget(target string) {
	e.symlink.target = target
	e.symlink.valid = true
}

// RegularHandle/SetRegularHandle expose the cached open descriptor for a
// regular file. Caller must hold the content lock.
func (e *Entry) RegularHandle() (backing.FileHandle, OpenFlags) {
	if e.regular == nil {
		return nil, FlagsClosed
	}
	return e.regular.handle, e.regular.openFlags
}

func (e *Entry) SetRegularHandle(h backing.FileHandle, flags OpenFlags) {
	e.regular.handle = h
	e.regular.openFlags = flags
	e.regular.lastUse = time.Now()
}

// SetContentTrusted marks whether the content view (dirent index, symlink
// target) reflects the backing layer. Caller must hold the content lock.
func (e *Entry) SetContentTrusted(v bool) {
	e.contentTrusted = v
}

// WeakRef returns the weak reference the cache index issued for this entry
// (§4.B), used by dirent slots and by directory parent pointers so they
// never hold a strong reference to a child or parent.
func (e *Entry) WeakRef() weakref.Ref {
	return e.weak
}

// ParentRef returns the weak reference to this directory's parent, if one
// has been recorded. Root directories (exports, pseudofs root) have none.
// Caller must hold the content lock.
func (e *Entry) ParentRef() (weakref.Ref, bool) {
	if e.directory == nil {
		return weakref.Ref{}, false
	}
	return e.directory.parent, e.directory.hasParent
}

// SetParent records ref as this directory's parent. Caller must hold the
// content lock.
func (e *Entry) SetParent(ref weakref.Ref) {
	e.directory.parent = ref
	e.directory.hasParent = true
}

// HasState reports whether any open/lock/delegation state is attached.
func (e *Entry) HasState() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.stateCount > 0
}

// AddState records that a new state holder was attached to this entry,
// pinning it against reclamation (§4.G: "granted a state holder -> move to
// pinned partition").
func (e *Entry) AddState() {
	e.stateMu.Lock()
	e.stateCount++
	e.stateMu.Unlock()
}

// RemoveState records that a state holder detached. When the count returns
// to zero the entry becomes reclaimable again.
func (e *Entry) RemoveState() {
	e.stateMu.Lock()
	if e.stateCount > 0 {
		e.stateCount--
	}
	e.stateMu.Unlock()
}
