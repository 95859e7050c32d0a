package region

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// LockID identifies a held row lock.
type LockID uuid.UUID

// NoLock asks an operation to take and release the row lock itself.
var NoLock = LockID(uuid.Nil)

func (id LockID) String() string { return uuid.UUID(id).String() }

type heldLock struct {
	row []byte
}

type rowLocks struct {
	mu   sync.Mutex
	cond *sync.Cond
	rows map[string]LockID
	ids  map[LockID]*heldLock
}

func (l *rowLocks) init() {
	l.cond = sync.NewCond(&l.mu)
	l.rows = make(map[string]LockID)
	l.ids = make(map[LockID]*heldLock)
}

// ObtainRowLock blocks until no one else holds row, then locks it.
func (r *Region) ObtainRowLock(row []byte) (LockID, error) {
	if err := r.checkRow(row); err != nil {
		return NoLock, err
	}
	if err := r.checkServing(); err != nil {
		return NoLock, err
	}

	r.locks.mu.Lock()
	defer r.locks.mu.Unlock()
	for {
		if err := r.checkServing(); err != nil {
			return NoLock, err
		}
		if _, held := r.locks.rows[string(row)]; !held {
			break
		}
		r.locks.cond.Wait()
	}
	id := LockID(uuid.New())
	r.locks.rows[string(row)] = id
	r.locks.ids[id] = &heldLock{row: append([]byte(nil), row...)}
	return id, nil
}

// ReleaseRowLock unlocks the row held by id and wakes its waiters.
func (r *Region) ReleaseRowLock(id LockID) error {
	r.locks.mu.Lock()
	defer r.locks.mu.Unlock()
	held, ok := r.locks.ids[id]
	if !ok {
		return newError(ErrInvalidLock, "%s", id)
	}
	delete(r.locks.ids, id)
	delete(r.locks.rows, string(held.row))
	r.locks.cond.Broadcast()
	return nil
}

// lock returns a lock on row: id itself when it holds row, or a fresh lock
// the caller must release when id is NoLock.
func (r *Region) lock(id LockID, row []byte) (LockID, bool, error) {
	if id == NoLock {
		got, err := r.ObtainRowLock(row)
		return got, true, err
	}
	r.locks.mu.Lock()
	defer r.locks.mu.Unlock()
	held, ok := r.locks.ids[id]
	if !ok || !bytes.Equal(held.row, row) {
		return NoLock, false, newError(ErrInvalidLock, "%s does not hold row %q", id, row)
	}
	return id, false, nil
}

// waitOnRowLocks blocks until every row lock is released.
func (r *Region) waitOnRowLocks() {
	r.locks.mu.Lock()
	defer r.locks.mu.Unlock()
	for len(r.locks.ids) > 0 {
		r.locks.cond.Wait()
	}
}

// wakeLockWaiters lets callers blocked on a row notice the region closing.
func (r *Region) wakeLockWaiters() {
	r.locks.mu.Lock()
	r.locks.cond.Broadcast()
	r.locks.mu.Unlock()
}
