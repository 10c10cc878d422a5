package ops

import (
	"context"

	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/handle"
	"github.com/vfscache/corefs/pkg/inode"
	"github.com/vfscache/corefs/pkg/permission"
	"github.com/vfscache/corefs/pkg/pseudofs"
)

// ExportResolver maps an export name (as recorded on a pseudofs junction
// node) to the Ops instance that serves it. One Ops per backing.Store means
// a composite namespace spanning several exports needs one resolver shared
// by all of them to cross from the pseudofs tree into an export's backing
// root.
type ExportResolver interface {
	ResolveExport(name string) (*Ops, error)
}

// Handle is the operation surface's view of a resolved object: either a
// pseudofs node or a cached backing entry, bound to the Ops instance that
// can operate on it. Lookup/ReadDir dispatch on Kind so a traversal that
// crosses a junction switches from the pseudofs tree to the backing-rooted
// export it delegates to (§4.K).
type Handle struct {
	ops   *Ops
	Kind  handle.Kind
	Node  *pseudofs.Node // valid when Kind == handle.KindPseudo
	Entry *inode.Entry   // valid when Kind == handle.KindBacking
}

// SetPseudo attaches the pseudo-filesystem tree and the export resolver used
// to cross junctions. An Ops instance with no pseudofs attached only ever
// produces KindBacking handles, matching a plain single-export deployment.
func (o *Ops) SetPseudo(pfs *pseudofs.FS, exports ExportResolver) {
	o.pfs = pfs
	o.exports = exports
}

// PseudoRoot returns the root of this Ops's pseudofs tree as a Handle. Only
// valid on the Ops instance SetPseudo was called on (normally the one
// fronting the pseudofs's own synthetic root export).
func (o *Ops) PseudoRoot() (Handle, error) {
	if o.pfs == nil {
		return Handle{}, backing.NewError(backing.ErrNotSupported, "pseudoroot", "", nil)
	}
	return Handle{ops: o, Kind: handle.KindPseudo, Node: o.pfs.Root()}, nil
}

// BackingRoot resolves this Ops's own backing store's root entry as a
// Handle, used both for a plain single-export deployment and as the target
// of a junction crossing.
func (o *Ops) BackingRoot(ctx context.Context) (Handle, error) {
	rootID, err := o.cache.Store().RootID(ctx)
	if err != nil {
		return Handle{}, err
	}
	attr, err := o.cache.Store().GetAttr(ctx, rootID)
	if err != nil {
		return Handle{}, err
	}
	e, err := o.cache.Lookup(ctx, rootID, attr.Kind, attr)
	if err != nil {
		return Handle{}, err
	}
	return Handle{ops: o, Kind: handle.KindBacking, Entry: e}, nil
}

// IsPseudo reports whether h resolves to the pseudofs side of the namespace.
func (h Handle) IsPseudo() bool {
	return h.Kind == handle.KindPseudo
}

// Release drops the strong cache reference a KindBacking handle holds. A
// KindPseudo handle owns no cache reference and Release is a no-op for it.
func (h Handle) Release(ctx context.Context) {
	if h.Kind == handle.KindBacking && h.Entry != nil {
		h.ops.cache.Release(ctx, h.Entry)
	}
}

// Lookup resolves name under h, dispatching to the pseudofs tree or the
// backing operation surface per h.Kind. Crossing a junction switches the
// returned Handle to the target export's Ops and its backing root entry.
func (h Handle) Lookup(ctx context.Context, name string, pctx permission.Context) (Handle, error) {
	if h.Kind != handle.KindPseudo {
		e, err := h.ops.Lookup(ctx, h.Entry, name, pctx)
		if err != nil {
			return Handle{}, err
		}
		return Handle{ops: h.ops, Kind: handle.KindBacking, Entry: e}, nil
	}
	return h.ops.lookupPseudo(ctx, h.Node, name)
}

func (o *Ops) lookupPseudo(ctx context.Context, node *pseudofs.Node, name string) (Handle, error) {
	switch name {
	case ".":
		return Handle{ops: o, Kind: handle.KindPseudo, Node: node}, nil
	case "..":
		return Handle{ops: o, Kind: handle.KindPseudo, Node: o.pfs.Parent(node)}, nil
	}

	child, ok := o.pfs.LookupChild(node, name)
	if !ok {
		return Handle{}, backing.NewError(backing.ErrNotFound, "lookup", name, nil)
	}
	if !child.IsJunction {
		return Handle{ops: o, Kind: handle.KindPseudo, Node: child}, nil
	}

	if o.exports == nil {
		return Handle{}, backing.NewError(backing.ErrNotSupported, "lookup", name, nil)
	}
	exportOps, err := o.exports.ResolveExport(child.Export)
	if err != nil {
		return Handle{}, err
	}
	return exportOps.BackingRoot(ctx)
}

// PseudoDirListEntry is one row of a pseudofs ReadDir listing (§4.K): the
// pseudofs tree carries no cookie/attr bookkeeping of its own, so listings
// are returned in full rather than paginated.
type PseudoDirListEntry struct {
	Name string
	Node *pseudofs.Node
}

// ReadDir lists h's children, dispatching to the pseudofs tree or the
// backing operation surface per h.Kind.
func (h Handle) ReadDir(ctx context.Context, cookie string, verifier uint64, max int, pctx permission.Context) ([]DirListEntry, []PseudoDirListEntry, bool, error) {
	if h.Kind != handle.KindPseudo {
		out, eof, err := h.ops.ReadDir(ctx, h.Entry, cookie, verifier, max, pctx)
		return out, nil, eof, err
	}
	children := h.ops.pfs.ListChildren(h.Node)
	out := make([]PseudoDirListEntry, 0, len(children))
	for _, c := range children {
		out = append(out, PseudoDirListEntry{Name: c.Name, Node: c})
	}
	return nil, out, true, nil
}
