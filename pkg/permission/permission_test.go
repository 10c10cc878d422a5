package permission

import (
	"testing"
	"time"

	"github.com/vfscache/corefs/pkg/backing"
)

func TestRootBypass(t *testing.T) {
	e := New(nil)
	attr := backing.Attr{Mode: 0o000, UID: 10, GID: 10}
	ctx := Context{UID: 0, RootBypass: true}
	if !e.Access(attr, WantRead|WantWrite, ctx) {
		t.Fatalf("expected root to bypass all checks")
	}
}

func TestOwnerBits(t *testing.T) {
	e := New(nil)
	attr := backing.Attr{Mode: 0o640, UID: 10, GID: 20}
	owner := Context{UID: 10, GID: 20}
	if !e.Access(attr, WantRead|WantWrite, owner) {
		t.Fatalf("expected owner to have read+write per 0640")
	}
	if e.Access(attr, WantExecute, owner) {
		t.Fatalf("expected owner to lack execute per 0640")
	}
}

func TestGroupBits(t *testing.T) {
	e := New(nil)
	attr := backing.Attr{Mode: 0o640, UID: 10, GID: 20}
	member := Context{UID: 99, GID: 20}
	if !e.Access(attr, WantRead, member) {
		t.Fatalf("expected group member to have read per 0640")
	}
	if e.Access(attr, WantWrite, member) {
		t.Fatalf("expected group member to lack write per 0640")
	}
}

func TestSupplementaryGroup(t *testing.T) {
	e := New(nil)
	attr := backing.Attr{Mode: 0o640, UID: 10, GID: 20}
	member := Context{UID: 99, GID: 30, SupplementaryGID: []uint32{20}}
	if !e.Access(attr, WantRead, member) {
		t.Fatalf("expected supplementary group membership to grant group bits")
	}
}

func TestOtherBits(t *testing.T) {
	e := New(nil)
	attr := backing.Attr{Mode: 0o604, UID: 10, GID: 20}
	stranger := Context{UID: 99, GID: 99}
	if !e.Access(attr, WantRead, stranger) {
		t.Fatalf("expected other read per 0604")
	}
	if e.Access(attr, WantWrite, stranger) {
		t.Fatalf("expected stranger to lack write per 0604")
	}
}

func TestStickyBitBlocksNonOwnerDelete(t *testing.T) {
	dir := backing.Attr{Mode: 0o1777, UID: 0, GID: 0}
	child := backing.Attr{UID: 50}
	stranger := Context{UID: 99}
	if StickyDeleteAllowed(dir, child, stranger) {
		t.Fatalf("expected sticky bit to block a non-owner stranger")
	}

	childOwner := Context{UID: 50}
	if !StickyDeleteAllowed(dir, child, childOwner) {
		t.Fatalf("expected the child's owner to be allowed")
	}
}

func TestStickyBitAllowsDirOwner(t *testing.T) {
	dir := backing.Attr{Mode: 0o1777, UID: 42, GID: 0}
	child := backing.Attr{UID: 50}
	dirOwner := Context{UID: 42}
	if !StickyDeleteAllowed(dir, child, dirOwner) {
		t.Fatalf("expected dir owner to be allowed regardless of child owner")
	}
}

func TestCheckSetAttrChownRejectedForNonRoot(t *testing.T) {
	attr := backing.Attr{UID: 10, GID: 10}
	newUID := uint32(20)
	changes := SetAttrChanges{SetAttr: backing.SetAttr{UID: &newUID}}
	_, err := CheckSetAttr(attr, changes, Context{UID: 10}, false)
	if err == nil {
		t.Fatalf("expected chown to another user to be rejected for non-root")
	}
}

func TestCheckSetAttrSizeRequiresWriteDataUnlessOpen(t *testing.T) {
	attr := backing.Attr{UID: 10, GID: 10}
	size := uint64(100)
	changes := SetAttrChanges{SetAttr: backing.SetAttr{Size: &size}}

	need, err := CheckSetAttr(attr, changes, Context{UID: 10}, false)
	if err != nil || need&WantWriteData == 0 {
		t.Fatalf("expected WriteData required when not already open for write, err=%v need=%v", err, need)
	}

	need, err = CheckSetAttr(attr, changes, Context{UID: 10}, true)
	if err != nil || need&WantWriteData != 0 {
		t.Fatalf("expected no WriteData requirement when already open for write")
	}
}

func TestCheckSetAttrMtimeExplicitByNonOwnerRequiresWriteAttr(t *testing.T) {
	attr := backing.Attr{UID: 10, GID: 10}
	when := time.Unix(1_700_000_000, 0)
	changes := SetAttrChanges{SetAttr: backing.SetAttr{Mtime: &when}, MtimeExplicit: true}

	need, err := CheckSetAttr(attr, changes, Context{UID: 99, GID: 10}, false)
	if err != nil || need&WantWriteAttr == 0 {
		t.Fatalf("expected WriteAttr required for non-owner explicit mtime, got need=%v err=%v", need, err)
	}

	need, err = CheckSetAttr(attr, changes, Context{UID: 10}, false)
	if err != nil || need&WantWriteAttr != 0 {
		t.Fatalf("expected no WriteAttr requirement for owner, got need=%v", need)
	}
}

func TestCheckSetAttrRootAlwaysAllowed(t *testing.T) {
	attr := backing.Attr{UID: 10, GID: 10}
	newUID := uint32(999)
	changes := SetAttrChanges{SetAttr: backing.SetAttr{UID: &newUID}}
	need, err := CheckSetAttr(attr, changes, Context{UID: 0, RootBypass: true}, false)
	if err != nil || need != 0 {
		t.Fatalf("expected root setattr to be unconditionally allowed, got need=%v err=%v", need, err)
	}
}
