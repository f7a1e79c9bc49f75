package workflow

import "sync"

// assetLocks hands out one mutex per asset id so only a single
// transition chain runs against an asset at a time. Entries are
// reference counted and dropped once the last holder releases.
type assetLocks struct {
	mu   sync.Mutex
	held map[int64]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func newAssetLocks() *assetLocks {
	return &assetLocks{held: make(map[int64]*lockEntry)}
}

// acquire blocks until the asset's lock is free and returns the
// release function.
func (l *assetLocks) acquire(assetID int64) func() {
	l.mu.Lock()
	entry := l.held[assetID]
	if entry == nil {
		entry = &lockEntry{}
		l.held[assetID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, assetID)
		}
		l.mu.Unlock()
	}
}
