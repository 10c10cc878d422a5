package memory

import (
	"context"
	"testing"

	"github.com/vfscache/corefs/pkg/backing"
)

func TestCreateLookupRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)

	id, attr, err := s.Create(ctx, root, "a.txt", backing.KindRegular, 0644, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if attr.Kind != backing.KindRegular {
		t.Fatalf("expected regular kind, got %v", attr.Kind)
	}

	gotID, _, err := s.Lookup(ctx, root, "a.txt")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if gotID != id {
		t.Fatalf("expected id %v, got %v", id, gotID)
	}

	if err := s.Remove(ctx, root, "a.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := s.Lookup(ctx, root, "a.txt"); !backing.Is(err, backing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)

	id, _, err := s.Create(ctx, root, "b.txt", backing.KindRegular, 0644, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := s.Write(ctx, id, 0, []byte("hello"), true)
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 5)
	n, err = s.Read(ctx, id, 0, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("read: n=%d err=%v buf=%q", n, err, buf)
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)

	dirID, _, err := s.Create(ctx, root, "dir", backing.KindDirectory, 0755, "")
	if err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if _, _, err := s.Create(ctx, dirID, "child", backing.KindRegular, 0644, ""); err != nil {
		t.Fatalf("create child: %v", err)
	}

	if err := s.Remove(ctx, root, "dir"); !backing.Is(err, backing.ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestRenameMovesEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)

	dirID, _, _ := s.Create(ctx, root, "dst", backing.KindDirectory, 0755, "")
	fileID, _, _ := s.Create(ctx, root, "src.txt", backing.KindRegular, 0644, "")

	if err := s.Rename(ctx, root, "src.txt", dirID, "moved.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, _, err := s.Lookup(ctx, root, "src.txt"); !backing.Is(err, backing.ErrNotFound) {
		t.Fatalf("expected old name gone, got %v", err)
	}
	gotID, _, err := s.Lookup(ctx, dirID, "moved.txt")
	if err != nil || gotID != fileID {
		t.Fatalf("expected moved file at new name, got id=%v err=%v", gotID, err)
	}
}

func TestOpenCloseTracksFDCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)
	id, _, _ := s.Create(ctx, root, "f.txt", backing.KindRegular, 0644, "")

	h, err := s.Open(ctx, id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.OpenFDCount() != 1 {
		t.Fatalf("expected 1 open fd, got %d", s.OpenFDCount())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.OpenFDCount() != 0 {
		t.Fatalf("expected 0 open fds after close, got %d", s.OpenFDCount())
	}
}

func TestReadDirPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, _ := s.RootID(ctx)

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := s.Create(ctx, root, name, backing.KindRegular, 0644, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	entries, eof, err := s.ReadDir(ctx, root, 0, 2)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 || eof {
		t.Fatalf("expected 2 entries and more to come, got %d entries eof=%v", len(entries), eof)
	}

	rest, eof, err := s.ReadDir(ctx, root, entries[len(entries)-1].Cookie, 2)
	if err != nil {
		t.Fatalf("readdir cont: %v", err)
	}
	if len(rest) != 1 || !eof {
		t.Fatalf("expected 1 remaining entry and eof, got %d eof=%v", len(rest), eof)
	}
}
