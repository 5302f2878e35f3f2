package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errBackendDown = errors.New("backend down")

// fakeBackend is an in-memory Backend with failure injection.
type fakeBackend struct {
	mu          sync.Mutex
	rows        map[ID]Row
	tableExists bool

	ensureCalls int
	ensureErr   error
	insertCalls int
	getErr      error

	// sweepErrs is consumed one entry per DeleteExpired call; nil entries succeed.
	sweepErrs  []error
	sweepCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[ID]Row)}
}

func (f *fakeBackend) EnsureTable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.tableExists = true
	return nil
}

func (f *fakeBackend) Insert(ctx context.Context, row Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if _, ok := f.rows[row.ID]; ok {
		return fmt.Errorf("%w: %s", ErrCollision, row.ID)
	}
	f.rows[row.ID] = row
	return nil
}

func (f *fakeBackend) Upsert(ctx context.Context, row Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ID] = row
	return nil
}

func (f *fakeBackend) Get(ctx context.Context, id ID) (*Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeBackend) Delete(ctx context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.sweepCalls
	f.sweepCalls++
	if call < len(f.sweepErrs) && f.sweepErrs[call] != nil {
		return 0, f.sweepErrs[call]
	}

	var n int64
	for id, row := range f.rows {
		if row.Expiry != nil && !row.Expiry.After(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweepCalls
}

// sequenceIDs returns a generator yielding ids in order, then fresh UUIDs.
func sequenceIDs(ids ...ID) IDGenerator {
	var mu sync.Mutex
	return func() ID {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return NewUUID()
		}
		id := ids[0]
		ids = ids[1:]
		return id
	}
}
