package inode

import (
	"sort"

	"github.com/vfscache/corefs/pkg/weakref"
)

// Dirent is one slot in a directory's name index: a name plus a weak
// reference to the child entry. The parent never owns the child (§3).
type Dirent struct {
	Name string
	Ref  weakref.Ref
}

// DirentIndex is a per-directory, name-ordered index of children. Callers
// must hold the owning entry's content lock (read for lookups that don't
// need to repair a broken slot, write otherwise) while using it.
type DirentIndex struct {
	names   []string // kept sorted, case-sensitive byte compare
	entries map[string]weakref.Ref
}

// NewDirentIndex creates an empty index.
func NewDirentIndex() *DirentIndex {
	return &DirentIndex{entries: make(map[string]weakref.Ref)}
}

// Len returns the number of entries.
func (d *DirentIndex) Len() int {
	return len(d.names)
}

// Lookup returns the weak reference stored for name.
func (d *DirentIndex) Lookup(name string) (weakref.Ref, bool) {
	ref, ok := d.entries[name]
	return ref, ok
}

// Insert adds or replaces the slot for name.
func (d *DirentIndex) Insert(name string, ref weakref.Ref) {
	if _, exists := d.entries[name]; !exists {
		i := sort.SearchStrings(d.names, name)
		d.names = append(d.names, "")
		copy(d.names[i+1:], d.names[i:])
		d.names[i] = name
	}
	d.entries[name] = ref
}

// Remove deletes the slot for name, if present.
func (d *DirentIndex) Remove(name string) {
	if _, exists := d.entries[name]; !exists {
		return
	}
	delete(d.entries, name)
	i := sort.SearchStrings(d.names, name)
	if i < len(d.names) && d.names[i] == name {
		d.names = append(d.names[:i], d.names[i+1:]...)
	}
}

// Reset clears the index, used before a full repopulation from the backing
// layer.
func (d *DirentIndex) Reset() {
	d.names = d.names[:0]
	for k := range d.entries {
		delete(d.entries, k)
	}
}

// ListFrom returns up to max entries whose name sorts strictly after
// cookie (an opaque position marker here implemented as "last name seen";
// an empty cookie starts from the beginning), plus whether the listing
// reached the end.
func (d *DirentIndex) ListFrom(cookie string, max int) ([]Dirent, bool) {
	start := 0
	if cookie != "" {
		start = sort.SearchStrings(d.names, cookie)
		if start < len(d.names) && d.names[start] == cookie {
			start++
		}
	}

	end := start + max
	eof := true
	if end >= len(d.names) {
		end = len(d.names)
	} else {
		eof = false
	}

	out := make([]Dirent, 0, end-start)
	for _, name := range d.names[start:end] {
		out = append(out, Dirent{Name: name, Ref: d.entries[name]})
	}
	return out, eof
}
