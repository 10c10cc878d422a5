package pseudofs

import (
	"testing"

	"github.com/vfscache/corefs/pkg/handle"
)

func TestRebuildBuildsIntermediateDirectories(t *testing.T) {
	fs := New()
	fs.Rebuild([]string{"/data/archive", "/export"})

	data, ok := fs.LookupChild(fs.Root(), "data")
	if !ok || data.IsJunction {
		t.Fatalf("expected /data to be a non-junction intermediate directory")
	}
	archive, ok := fs.LookupChild(data, "archive")
	if !ok || !archive.IsJunction || archive.Export != "/data/archive" {
		t.Fatalf("expected /data/archive to be a junction, got %+v", archive)
	}

	export, ok := fs.LookupChild(fs.Root(), "export")
	if !ok || !export.IsJunction {
		t.Fatalf("expected /export to be a junction")
	}
}

func TestRebuildPreservesHandleStability(t *testing.T) {
	fs := New()
	fs.Rebuild([]string{"/export"})
	export1, _ := fs.LookupChild(fs.Root(), "export")
	handle1 := export1.Handle
	id1 := export1.ID

	fs.Rebuild([]string{"/export", "/other"})
	export2, _ := fs.LookupChild(fs.Root(), "export")

	if string(export2.Handle) != string(handle1) {
		t.Fatalf("expected handle to remain stable across rebuild for a surviving path")
	}
	if export2.ID != id1 {
		t.Fatalf("expected node id to remain stable across rebuild for a surviving path")
	}
}

func TestParentOfRootIsRoot(t *testing.T) {
	fs := New()
	if fs.Parent(fs.Root()) != fs.Root() {
		t.Fatalf("expected root's parent to be itself")
	}
}

func TestFindJunctionByExportName(t *testing.T) {
	fs := New()
	fs.Rebuild([]string{"/export"})

	n, ok := fs.FindJunction("/export")
	if !ok || n.Name != "export" {
		t.Fatalf("expected to find junction for /export")
	}
}

func TestListChildrenSortedByID(t *testing.T) {
	fs := New()
	fs.Rebuild([]string{"/b", "/a", "/c"})

	children := fs.ListChildren(fs.Root())
	if len(children) != 3 || children[0].Name != "b" || children[1].Name != "a" || children[2].Name != "c" {
		t.Fatalf("expected children in id (discovery) order b,a,c, got %v", children)
	}
	for i := 1; i < len(children); i++ {
		if children[i-1].ID >= children[i].ID {
			t.Fatalf("expected strictly increasing ids, got %v", children)
		}
	}
}

func TestLookupByHandle(t *testing.T) {
	fs := New()
	fs.Rebuild([]string{"/export"})
	export, _ := fs.LookupChild(fs.Root(), "export")

	found, ok := fs.LookupByHandle(handle.HashPath(export.Path))
	if !ok || found != export {
		t.Fatalf("expected lookup by handle hash to find the export node")
	}
}
