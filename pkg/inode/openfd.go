package inode

import (
	"context"
	"time"

	"github.com/vfscache/corefs/pkg/backing"
)

// OpenForIO returns a cached descriptor satisfying need, opening (or
// reopening, if the cached one's flags do not satisfy need) via the backing
// adapter as required (§4.H). Must be called with the entry's content lock
// held for writing by the caller; read/write use it after promoting.
func (e *Entry) OpenForIO(ctx context.Context, lru *LRU, need OpenFlags) (backing.FileHandle, error) {
	if e.regular == nil {
		return nil, backing.NewError(backing.ErrInvalidArgument, "open", string(e.Key), nil)
	}

	if e.regular.handle != nil && e.regular.openFlags.Satisfies(need) {
		e.regular.lastUse = time.Now()
		return e.regular.handle, nil
	}

	if e.regular.handle != nil {
		e.regular.handle.Close()
		lru.RecordFDClosed()
		e.regular.handle = nil
		e.regular.openFlags = FlagsClosed
	}

	h, err := e.Store.Open(ctx, e.Key)
	if err != nil {
		return nil, err
	}
	e.regular.handle = h
	e.regular.openFlags = need
	e.regular.lastUse = time.Now()
	lru.RecordFDOpened()
	return h, nil
}

// CloseIfCached closes and clears any cached descriptor on this entry. Used
// by the reclaimer and by kill/invalidate paths. Must be called with the
// entry's content lock held for writing.
func (e *Entry) CloseIfCached(lru *LRU) {
	if e.regular == nil || e.regular.handle == nil {
		return
	}
	e.regular.handle.Close()
	lru.RecordFDClosed()
	e.regular.handle = nil
	e.regular.openFlags = FlagsClosed
}

// closeCachedFD is the hook passed to LRU.ReclaimFDs/StartReclaimer: it
// closes a victim's cached descriptor only if the entry holds no state,
// taking the content lock in writer mode per §4.G's ordering guarantee.
func closeCachedFD(lru *LRU) func(e *Entry) {
	return func(e *Entry) {
		if e.HasState() {
			return
		}
		e.contentMu.Lock()
		e.CloseIfCached(lru)
		e.contentMu.Unlock()
	}
}
