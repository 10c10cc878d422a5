// Package memory implements an in-process reference backing.Store: a plain
// tree of nodes held in memory, with no persistence. It exists so pkg/inode
// and pkg/ops can be exercised end to end without a real storage backend.
package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vfscache/corefs/pkg/backing"
)

// node is one file, directory, or symlink in the tree.
type node struct {
	mu sync.RWMutex

	id   backing.ID
	attr backing.Attr
	data []byte // regular file content

	// children is written with both Store.treeMu and node.mu held, since a
	// change can affect more than one node at a time (rename touches two
	// parents); readers hold node.mu.
	children map[string]backing.ID // directory only
}

// Store is the in-memory reference backing.Store.
type Store struct {
	treeMu  sync.RWMutex
	nodes   map[backing.ID]*node
	nextID  atomic.Uint64
	rootID  backing.ID
	openFDs atomic.Int64
}

// New creates an empty Store with a single root directory.
func New() *Store {
	s := &Store{nodes: make(map[backing.ID]*node)}
	root := s.newNode(backing.KindDirectory, 0755, 0, 0)
	root.children = make(map[string]backing.ID)
	s.rootID = root.id
	s.nodes[root.id] = root
	return s
}

func (s *Store) newNode(kind backing.Kind, mode, uid, gid uint32) *node {
	id := backing.ID(strconv64(s.nextID.Add(1)))
	now := time.Now()
	n := &node{
		id: id,
		attr: backing.Attr{
			Kind:  kind,
			Mode:  mode,
			UID:   uid,
			GID:   gid,
			Nlink: 1,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
	if kind == backing.KindDirectory {
		n.children = make(map[string]backing.ID)
		n.attr.Nlink = 2 // "." and the entry in its parent
	}
	return n
}

func strconv64(v uint64) string {
	const hex = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

func (s *Store) get(id backing.ID) (*node, error) {
	s.treeMu.RLock()
	n, ok := s.nodes[id]
	s.treeMu.RUnlock()
	if !ok {
		return nil, backing.NewError(backing.ErrStaleHandle, "get", string(id), nil)
	}
	return n, nil
}

func (s *Store) RootID(ctx context.Context) (backing.ID, error) {
	return s.rootID, nil
}

func (s *Store) Lookup(ctx context.Context, parent backing.ID, name string) (backing.ID, backing.Attr, error) {
	p, err := s.get(parent)
	if err != nil {
		return "", backing.Attr{}, err
	}
	if p.attr.Kind != backing.KindDirectory {
		return "", backing.Attr{}, backing.NewError(backing.ErrNotDirectory, "lookup", name, nil)
	}

	p.mu.RLock()
	childID, ok := p.children[name]
	p.mu.RUnlock()
	if !ok {
		return "", backing.Attr{}, backing.NewError(backing.ErrNotFound, "lookup", name, nil)
	}

	child, err := s.get(childID)
	if err != nil {
		return "", backing.Attr{}, err
	}
	child.mu.RLock()
	attr := child.attr
	child.mu.RUnlock()
	return childID, attr, nil
}

func (s *Store) GetAttr(ctx context.Context, id backing.ID) (backing.Attr, error) {
	n, err := s.get(id)
	if err != nil {
		return backing.Attr{}, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attr, nil
}

func (s *Store) SetAttr(ctx context.Context, id backing.ID, changes backing.SetAttr) (backing.Attr, error) {
	n, err := s.get(id)
	if err != nil {
		return backing.Attr{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if changes.Mode != nil {
		n.attr.Mode = *changes.Mode
	}
	if changes.UID != nil {
		n.attr.UID = *changes.UID
	}
	if changes.GID != nil {
		n.attr.GID = *changes.GID
	}
	if changes.Size != nil {
		newSize := *changes.Size
		if newSize < uint64(len(n.data)) {
			n.data = n.data[:newSize]
		} else if newSize > uint64(len(n.data)) {
			grown := make([]byte, newSize)
			copy(grown, n.data)
			n.data = grown
		}
		n.attr.Size = newSize
	}
	if changes.Atime != nil {
		n.attr.Atime = *changes.Atime
	}
	if changes.Mtime != nil {
		n.attr.Mtime = *changes.Mtime
	}
	n.attr.Ctime = time.Now()

	return n.attr, nil
}

func (s *Store) Create(ctx context.Context, parent backing.ID, name string, kind backing.Kind, mode uint32, linkTarget string) (backing.ID, backing.Attr, error) {
	if strings.ContainsRune(name, '/') {
		return "", backing.Attr{}, backing.NewError(backing.ErrInvalidArgument, "create", name, nil)
	}

	p, err := s.get(parent)
	if err != nil {
		return "", backing.Attr{}, err
	}
	if p.attr.Kind != backing.KindDirectory {
		return "", backing.Attr{}, backing.NewError(backing.ErrNotDirectory, "create", name, nil)
	}

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	p.mu.Lock()
	if _, exists := p.children[name]; exists {
		p.mu.Unlock()
		return "", backing.Attr{}, backing.NewError(backing.ErrExists, "create", name, nil)
	}

	n := s.newNode(kind, mode, p.attr.UID, p.attr.GID)
	n.attr.LinkTarget = linkTarget
	s.nodes[n.id] = n
	p.children[name] = n.id
	p.attr.Mtime = time.Now()
	p.mu.Unlock()

	n.mu.RLock()
	attr := n.attr
	n.mu.RUnlock()
	return n.id, attr, nil
}

func (s *Store) Link(ctx context.Context, parent backing.ID, name string, id backing.ID) (backing.Attr, error) {
	p, err := s.get(parent)
	if err != nil {
		return backing.Attr{}, err
	}
	target, err := s.get(id)
	if err != nil {
		return backing.Attr{}, err
	}
	if target.attr.Kind == backing.KindDirectory {
		return backing.Attr{}, backing.NewError(backing.ErrIsDirectory, "link", name, nil)
	}

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	p.mu.Lock()
	if _, exists := p.children[name]; exists {
		p.mu.Unlock()
		return backing.Attr{}, backing.NewError(backing.ErrExists, "link", name, nil)
	}
	p.children[name] = id
	p.mu.Unlock()

	target.mu.Lock()
	target.attr.Nlink++
	target.attr.Ctime = time.Now()
	attr := target.attr
	target.mu.Unlock()

	return attr, nil
}

func (s *Store) Rename(ctx context.Context, oldParent backing.ID, oldName string, newParent backing.ID, newName string) error {
	op, err := s.get(oldParent)
	if err != nil {
		return err
	}
	np, err := s.get(newParent)
	if err != nil {
		return err
	}

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	op.mu.Lock()
	childID, ok := op.children[oldName]
	if !ok {
		op.mu.Unlock()
		return backing.NewError(backing.ErrNotFound, "rename", oldName, nil)
	}
	delete(op.children, oldName)
	op.mu.Unlock()

	np.mu.Lock()
	if existingID, exists := np.children[newName]; exists && existingID != childID {
		if existing, ok := s.nodes[existingID]; ok && existing.attr.Kind == backing.KindDirectory && len(existing.children) > 0 {
			np.mu.Unlock()
			return backing.NewError(backing.ErrNotEmpty, "rename", newName, nil)
		}
	}
	np.children[newName] = childID
	np.attr.Mtime = time.Now()
	np.mu.Unlock()

	return nil
}

func (s *Store) Remove(ctx context.Context, parent backing.ID, name string) error {
	p, err := s.get(parent)
	if err != nil {
		return err
	}

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	p.mu.Lock()
	childID, ok := p.children[name]
	if !ok {
		p.mu.Unlock()
		return backing.NewError(backing.ErrNotFound, "remove", name, nil)
	}

	// treeMu is already held for writing, so read s.nodes directly rather
	// than through s.get, which would try to take treeMu again.
	child, ok := s.nodes[childID]
	if !ok {
		p.mu.Unlock()
		return backing.NewError(backing.ErrStaleHandle, "remove", name, nil)
	}
	child.mu.Lock()
	if child.attr.Kind == backing.KindDirectory && len(child.children) > 0 {
		child.mu.Unlock()
		p.mu.Unlock()
		return backing.NewError(backing.ErrNotEmpty, "remove", name, nil)
	}
	child.attr.Nlink--
	remaining := child.attr.Nlink
	child.mu.Unlock()

	delete(p.children, name)
	p.attr.Mtime = time.Now()
	p.mu.Unlock()

	if remaining == 0 {
		delete(s.nodes, childID)
	}
	return nil
}

func (s *Store) ReadDir(ctx context.Context, id backing.ID, cookie uint64, limit int) ([]backing.DirEntry, bool, error) {
	n, err := s.get(id)
	if err != nil {
		return nil, false, err
	}
	if n.attr.Kind != backing.KindDirectory {
		return nil, false, backing.NewError(backing.ErrNotDirectory, "readdir", string(id), nil)
	}

	n.mu.RLock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	n.mu.RUnlock()
	sortStrings(names)

	if cookie > uint64(len(names)) {
		return nil, false, backing.NewError(backing.ErrBadCookie, "readdir", string(id), nil)
	}

	entries := make([]backing.DirEntry, 0, limit)
	i := int(cookie)
	for ; i < len(names) && len(entries) < limit; i++ {
		name := names[i]
		n.mu.RLock()
		childID := n.children[name]
		n.mu.RUnlock()
		child, err := s.get(childID)
		if err != nil {
			continue
		}
		entries = append(entries, backing.DirEntry{
			Name:   name,
			ID:     childID,
			Kind:   child.attr.Kind,
			Cookie: uint64(i + 1),
		})
	}

	return entries, i >= len(names), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (s *Store) ReadLink(ctx context.Context, id backing.ID) (string, error) {
	n, err := s.get(id)
	if err != nil {
		return "", err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.attr.Kind != backing.KindSymlink {
		return "", backing.NewError(backing.ErrInvalidArgument, "readlink", string(id), nil)
	}
	return n.attr.LinkTarget, nil
}

func (s *Store) Read(ctx context.Context, id backing.ID, off uint64, buf []byte) (int, error) {
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	if off >= uint64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[off:]), nil
}

func (s *Store) Write(ctx context.Context, id backing.ID, off uint64, data []byte, stable bool) (int, error) {
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	end := off + uint64(len(data))
	if end > uint64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:], data)
	n.attr.Size = uint64(len(n.data))
	n.attr.Mtime = time.Now()
	return len(data), nil
}

// handle is the FileHandle returned by Open.
type handle struct {
	store *Store
}

func (h *handle) Close() error {
	h.store.openFDs.Add(-1)
	return nil
}

func (s *Store) Open(ctx context.Context, id backing.ID) (backing.FileHandle, error) {
	if _, err := s.get(id); err != nil {
		return nil, err
	}
	s.openFDs.Add(1)
	return &handle{store: s}, nil
}

// OpenFDCount reports the number of handles currently open, for tests.
func (s *Store) OpenFDCount() int64 {
	return s.openFDs.Load()
}
