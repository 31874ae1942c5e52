package store

import (
	"context"
	"errors"
	"fmt"

	dbm "github.com/tendermint/tm-db"
)

var (
	// ErrTxDone is returned when a committed or rolled back transaction is used.
	ErrTxDone = errors.New("transaction already committed or rolled back")

	errKeyEmpty = errors.New("key cannot be empty")
	errValueNil = errors.New("value cannot be nil")
)

// Reader gives read access to the store.
type Reader interface {
	// Get returns nil for a missing key.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Writer gives write access to the store.
type Writer interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Tx is a read-write transaction. Reads observe the transaction's own
// pending writes. Nothing is visible to other readers before Commit.
type Tx interface {
	Reader
	Writer

	Commit() error
	Rollback()
}

/*
Provider hands out transactions over a tm-db database.

At most one read-write transaction exists at a time: BeginRW blocks until
the previous transaction is committed or rolled back. A transaction's writes
are buffered and applied atomically with a single synced batch on Commit.
*/
type Provider struct {
	db dbm.DB

	// single slot semaphore, held by the open read-write transaction
	rw chan struct{}
}

// NewProvider returns a Provider over db.
func NewProvider(db dbm.DB) *Provider {
	return &Provider{
		db: db,
		rw: make(chan struct{}, 1),
	}
}

// BeginRW opens the read-write transaction, waiting for the current one to
// finish or for ctx to be done.
func (p *Provider) BeginRW(ctx context.Context) (Tx, error) {
	select {
	case p.rw <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return newTx(p.db, func() { <-p.rw }), nil
}

// Update runs fn in a read-write transaction, committing it when fn returns
// nil and rolling it back otherwise.
func (p *Provider) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.BeginRW(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns a read-only view of the committed state.
func (p *Provider) Reader() Reader {
	return p.db
}

// Close closes the underlying database.
func (p *Provider) Close() error {
	return p.db.Close()
}

type pendingOp struct {
	value   []byte
	deleted bool
}

type tx struct {
	db      dbm.DB
	pending map[string]pendingOp
	release func()
	done    bool
}

func newTx(db dbm.DB, release func()) *tx {
	return &tx{
		db:      db,
		pending: make(map[string]pendingOp),
		release: release,
	}
}

func (t *tx) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if len(key) == 0 {
		return nil, errKeyEmpty
	}
	if op, ok := t.pending[string(key)]; ok {
		if op.deleted {
			return nil, nil
		}
		return op.value, nil
	}
	return t.db.Get(key)
}

func (t *tx) Has(key []byte) (bool, error) {
	bz, err := t.Get(key)
	if err != nil {
		return false, err
	}
	return bz != nil, nil
}

func (t *tx) Set(key, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	if len(key) == 0 {
		return errKeyEmpty
	}
	if value == nil {
		return errValueNil
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.pending[string(key)] = pendingOp{value: v}
	return nil
}

func (t *tx) Delete(key []byte) error {
	if t.done {
		return ErrTxDone
	}
	if len(key) == 0 {
		return errKeyEmpty
	}
	t.pending[string(key)] = pendingOp{deleted: true}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	defer t.finish()

	batch := t.db.NewBatch()
	defer batch.Close()

	for k, op := range t.pending {
		var err error
		if op.deleted {
			err = batch.Delete([]byte(k))
		} else {
			err = batch.Set([]byte(k), op.value)
		}
		if err != nil {
			return fmt.Errorf("staging write for key %X: %w", k, err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards pending writes. It is a no-op on a finished transaction.
func (t *tx) Rollback() {
	if t.done {
		return
	}
	t.finish()
}

func (t *tx) finish() {
	t.done = true
	t.pending = nil
	t.release()
}
