package storage

import "sync"

// lockTable hands out exclusive per-key locks. Entries are created on
// first use and dropped once the last holder releases, so the table stays
// proportional to in-flight units of work, not to the keyspace.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

func (t *lockTable) acquire(key string) {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &lockEntry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
}

func (t *lockTable) release(key string) {
	t.mu.Lock()
	e := t.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()

	e.mu.Unlock()
}
