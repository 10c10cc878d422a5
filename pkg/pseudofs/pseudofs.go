// Package pseudofs implements the read-only composite NFSv4 namespace that
// stitches exported subtrees together under one root with stable handles
// (§4.K). Reconfiguring the export list triggers Rebuild, which preserves
// handle and node-id stability for any path that survives.
package pseudofs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/vfscache/corefs/pkg/handle"
)

// Node is a single node in the pseudo-filesystem tree (§3's "Pseudofs
// node"). Every node is a directory; a junction node additionally carries
// the export it delegates to.
type Node struct {
	Name     string
	Path     string
	ID       uint64 // stable within one process lifetime, per invariant 10
	Handle   []byte
	Parent   *Node
	Children map[string]*Node

	IsJunction bool
	Export     string // export name when IsJunction is true
}

// FS is the pseudo-filesystem tree.
type FS struct {
	mu       sync.RWMutex
	root     *Node
	byID     map[uint64]*Node
	byHandle map[uint64]*Node // keyed by handle.HashPath(path)
}

// New creates an empty FS with just a root node at "/".
func New() *FS {
	fs := &FS{
		byID:     make(map[uint64]*Node),
		byHandle: make(map[uint64]*Node),
	}
	fs.root = &Node{Name: "", Path: "/", ID: 0, Children: make(map[string]*Node)}
	fs.root.Parent = fs.root
	fs.root.Handle, _ = handle.EncodePseudo("/")
	fs.byID[0] = fs.root
	fs.byHandle[handle.HashPath("/")] = fs.root
	return fs
}

// Root returns the root node.
func (fs *FS) Root() *Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.root
}

// LookupByHandle resolves a decoded pseudo handle's hash to its node.
func (fs *FS) LookupByHandle(hash uint64) (*Node, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.byHandle[hash]
	return n, ok
}

// LookupChild finds a named child of parent.
func (fs *FS) LookupChild(parent *Node, name string) (*Node, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if parent == nil {
		return nil, false
	}
	c, ok := parent.Children[name]
	return c, ok
}

// Parent returns node's parent; root's parent is itself (LOOKUPP on root
// returns root, per NFSv4).
func (fs *FS) Parent(node *Node) *Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return node.Parent
}

// ListChildren returns node's children in id order (§4.K): node ids are
// assigned in discovery order at Rebuild time and held stable across
// reconfiguration, so this also gives a stable readdir cookie ordering.
func (fs *FS) ListChildren(node *Node) []*Node {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if node == nil {
		return nil
	}
	out := make([]*Node, 0, len(node.Children))
	for _, c := range node.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindJunction returns the junction node for a given export name, used by
// LOOKUPP to cross back from an export's real filesystem to the pseudofs.
func (fs *FS) FindJunction(export string) (*Node, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, n := range fs.byID {
		if n.IsJunction && n.Export == export {
			return n, true
		}
	}
	return nil, false
}

// Rebuild reconstructs the tree from a list of export paths, preserving
// handle and node-id stability for any path that survives: it snapshots
// the old path->handle and path->id maps before clearing and re-walking
// the new export list, so clients holding a handle to a node that still
// exists after reconfiguration keep a valid reference.
func (fs *FS) Rebuild(exports []string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldHandles := make(map[string][]byte)
	oldIDs := make(map[string]uint64)
	var walk func(n *Node)
	walk = func(n *Node) {
		oldHandles[n.Path] = n.Handle
		oldIDs[n.Path] = n.ID
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(fs.root)

	fs.root.Children = make(map[string]*Node)
	fs.byID = map[uint64]*Node{0: fs.root}
	fs.byHandle = map[uint64]*Node{handle.HashPath("/"): fs.root}

	nextID := uint64(1)
	for _, id := range oldIDs {
		if id >= nextID {
			nextID = id + 1
		}
	}

	for _, exportPath := range exports {
		exportPath = path.Clean(exportPath)
		if !strings.HasPrefix(exportPath, "/") {
			exportPath = "/" + exportPath
		}
		parts := strings.Split(strings.TrimPrefix(exportPath, "/"), "/")
		current := fs.root

		for i, part := range parts {
			if part == "" {
				continue
			}
			childPath := "/" + strings.Join(parts[:i+1], "/")
			isJunction := i == len(parts)-1

			child, exists := current.Children[part]
			if !exists {
				h, ok := oldHandles[childPath]
				if !ok {
					h, _ = handle.EncodePseudo(childPath)
				}
				id, ok := oldIDs[childPath]
				if !ok {
					id = nextID
					nextID++
				}
				child = &Node{
					Name:     part,
					Path:     childPath,
					ID:       id,
					Handle:   h,
					Children: make(map[string]*Node),
					Parent:   current,
				}
				current.Children[part] = child
			}
			if isJunction {
				child.IsJunction = true
				child.Export = exportPath
			}
			fs.byID[child.ID] = child
			fs.byHandle[handle.HashPath(childPath)] = child
			current = child
		}
	}
}
