package ops

import (
	"context"
	"testing"

	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/inode"
	"github.com/vfscache/corefs/pkg/pseudofs"
)

// singleExportResolver resolves every junction back to the one Ops a test
// stack runs, mirroring the demo CLI's single-backing-store deployment.
type singleExportResolver struct{ ops *Ops }

func (r singleExportResolver) ResolveExport(name string) (*Ops, error) {
	return r.ops, nil
}

func newTestOpsWithPseudo(t *testing.T) (*Ops, *inode.Cache, *inode.Entry) {
	t.Helper()
	o, cache, root := newTestOps(t)
	pfs := pseudofs.New()
	pfs.Rebuild([]string{"/export"})
	o.SetPseudo(pfs, singleExportResolver{o})
	return o, cache, root
}

func TestPseudoLookupMissingChildIsNotFound(t *testing.T) {
	o, cache, root := newTestOpsWithPseudo(t)
	defer cache.Release(context.Background(), root)
	ctx := context.Background()

	pseudoRoot, err := o.PseudoRoot()
	if err != nil {
		t.Fatalf("pseudo root: %v", err)
	}

	if _, err := pseudoRoot.Lookup(ctx, "nonexistent", rootCtx()); !backing.Is(err, backing.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for a missing pseudofs child, got %v", err)
	}
}

func TestPseudoLookupCrossesJunctionToBackingRoot(t *testing.T) {
	o, cache, root := newTestOpsWithPseudo(t)
	defer cache.Release(context.Background(), root)
	ctx := context.Background()

	pseudoRoot, err := o.PseudoRoot()
	if err != nil {
		t.Fatalf("pseudo root: %v", err)
	}

	h, err := pseudoRoot.Lookup(ctx, "export", rootCtx())
	if err != nil {
		t.Fatalf("lookup export junction: %v", err)
	}
	if h.IsPseudo() {
		t.Fatalf("expected crossing the junction to produce a backing handle")
	}
	defer h.Release(ctx)

	if h.Entry == nil {
		t.Fatalf("expected a backing entry for the crossed handle")
	}
	if h.Entry.Key != root.Key {
		t.Fatalf("expected junction to resolve to the backing root, got %v want %v", h.Entry.Key, root.Key)
	}
}

func TestPseudoReadDirListsJunctions(t *testing.T) {
	o, cache, root := newTestOpsWithPseudo(t)
	defer cache.Release(context.Background(), root)
	ctx := context.Background()

	pseudoRoot, err := o.PseudoRoot()
	if err != nil {
		t.Fatalf("pseudo root: %v", err)
	}

	_, pseudoEntries, eof, err := pseudoRoot.ReadDir(ctx, "", 0, 100, rootCtx())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if !eof {
		t.Fatalf("expected pseudofs readdir to always report eof")
	}
	if len(pseudoEntries) != 1 || pseudoEntries[0].Name != "export" {
		t.Fatalf("expected a single 'export' junction child, got %v", pseudoEntries)
	}
}

func TestPseudoLookupDot(t *testing.T) {
	o, cache, root := newTestOpsWithPseudo(t)
	defer cache.Release(context.Background(), root)
	ctx := context.Background()

	pseudoRoot, err := o.PseudoRoot()
	if err != nil {
		t.Fatalf("pseudo root: %v", err)
	}

	back, err := pseudoRoot.Lookup(ctx, ".", rootCtx())
	if err != nil {
		t.Fatalf("lookup .: %v", err)
	}
	if !back.IsPseudo() || back.Node != pseudoRoot.Node {
		t.Fatalf("expected '.' to stay on the pseudo root node")
	}
}

func TestPseudoLookupWithoutSetPseudoIsNotSupported(t *testing.T) {
	o, cache, root := newTestOps(t)
	defer cache.Release(context.Background(), root)

	if _, err := o.PseudoRoot(); !backing.Is(err, backing.ErrNotSupported) {
		t.Fatalf("expected NOT_SUPPORTED for an Ops with no pseudofs attached, got %v", err)
	}
}
