package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
)

var keySeq = []byte("m/seq")

// seqLease is how far ahead of the last handed-out sequence number the
// persisted ceiling runs. A crash wastes at most one lease of numbers.
const seqLease = 128

// DB wraps a pebble store and hands out units of work. Every mutation of
// venue state goes through a UnitOfWork: reads see the unit's own writes,
// Commit applies them as one atomic synced batch, Rollback discards them.
type DB struct {
	pdb   *pebble.DB
	locks *lockTable

	seqMu      sync.Mutex
	seq        uint64
	seqCeiling uint64
}

func Open(dir string) (*DB, error) {
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	db := &DB{pdb: pdb, locks: newLockTable()}

	val, closer, err := pdb.Get(keySeq)
	if err == nil {
		// The persisted value is a ceiling, at or above every number ever
		// handed out; starting there can never reissue one.
		db.seq = DecodeUint64(val)
		db.seqCeiling = db.seq
		closer.Close()
	} else if err != pebble.ErrNotFound {
		pdb.Close()
		return nil, fmt.Errorf("read sequence counter: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.pdb.Close() }

// Get reads committed state outside any unit of work. The returned value
// is a copy.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := db.pdb.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, true, nil
}

// Scan iterates committed keys with the given prefix in ascending order.
// fn returns false to stop early.
func (db *DB) Scan(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	iter, err := db.pdb.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// ScanReverse iterates committed keys with the given prefix in descending
// order.
func (db *DB) ScanReverse(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	iter, err := db.pdb.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

func prefixBounds(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	}
}

// Begin opens a unit of work. The caller must finish it with exactly one
// Commit or Rollback.
func (db *DB) Begin() *UnitOfWork {
	return &UnitOfWork{
		db:    db,
		batch: db.pdb.NewIndexedBatch(),
	}
}

// UnitOfWork is an indexed pebble batch plus the set of exclusive locks
// held on behalf of one submission. Lock acquisition is two-tier: at most
// one instrument lock, taken before any balance locks, and balance locks
// taken in one sorted batch. Units that follow that order cannot
// deadlock against each other.
type UnitOfWork struct {
	db       *DB
	batch    *pebble.Batch
	held     []string
	balances bool
	done     bool
}

// LockInstrument serializes all matching and cancellation on a ticker.
func (u *UnitOfWork) LockInstrument(ticker string) {
	if u.balances {
		panic("storage: instrument lock requested after balance locks")
	}
	key := "instr/" + ticker
	u.db.locks.acquire(key)
	u.held = append(u.held, key)
}

// LockBalances locks the given balance keys. Keys are deduplicated and
// acquired in sorted order. May be called at most once per unit.
func (u *UnitOfWork) LockBalances(keys []string) {
	if u.balances {
		panic("storage: balance locks requested twice")
	}
	u.balances = true

	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, "bal/"+k)
	}
	sort.Strings(uniq)
	for _, k := range uniq {
		u.db.locks.acquire(k)
		u.held = append(u.held, k)
	}
}

func (u *UnitOfWork) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := u.batch.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, true, nil
}

func (u *UnitOfWork) Set(key, val []byte) error {
	return u.batch.Set(key, val, nil)
}

func (u *UnitOfWork) Delete(key []byte) error {
	return u.batch.Delete(key, nil)
}

// Scan iterates keys with the given prefix in ascending order, seeing
// both committed state and this unit's own writes.
func (u *UnitOfWork) Scan(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	iter, err := u.batch.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// NextSeq returns the next value of the venue-wide monotonic sequence.
// Numbers handed to rolled-back or crashed units leave gaps, which is
// fine; only monotonicity matters.
func (u *UnitOfWork) NextSeq() (uint64, error) {
	return u.db.nextSeq()
}

// nextSeq persists the counter as a leased ceiling written synchronously
// ahead of use, outside any batch. Batches commit in arbitrary order, so
// the counter must never ride with them: the ceiling only ever grows, and
// a restart resumes above it.
func (db *DB) nextSeq() (uint64, error) {
	db.seqMu.Lock()
	defer db.seqMu.Unlock()
	db.seq++
	if db.seq > db.seqCeiling {
		ceiling := db.seq + seqLease
		if err := db.pdb.Set(keySeq, Uint64Key(ceiling), pebble.Sync); err != nil {
			db.seq--
			return 0, fmt.Errorf("extend sequence lease: %w", err)
		}
		db.seqCeiling = ceiling
	}
	return db.seq, nil
}

// Commit applies the batch with sync durability, then releases locks.
func (u *UnitOfWork) Commit() error {
	if u.done {
		panic("storage: unit of work finished twice")
	}
	u.done = true
	err := u.batch.Commit(pebble.Sync)
	_ = u.batch.Close()
	u.releaseLocks()
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Rollback discards the batch and releases locks. Safe to call after
// Commit; it then does nothing, so it can sit in a defer.
func (u *UnitOfWork) Rollback() {
	if u.done {
		return
	}
	u.done = true
	_ = u.batch.Close()
	u.releaseLocks()
}

func (u *UnitOfWork) releaseLocks() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.db.locks.release(u.held[i])
	}
	u.held = nil
}
