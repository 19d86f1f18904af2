package store

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often an optimistic transaction is replayed
// after another writer committed a conflicting key first.
const maxConflictRetries = 16

type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadger opens (or creates) the database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, logger *zap.Logger) (*Badger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger at %q", dir)
	}
	return &Badger{db: db, logger: logger}, nil
}

func (b *Badger) View(fn func(tx Tx) error) error {
	err := b.db.View(func(txn *badger.Txn) error {
		return fn(badgerTx{txn: txn})
	})
	return translateBadgerErr(err)
}

func (b *Badger) Update(fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := b.db.Update(func(txn *badger.Txn) error {
			return fn(badgerTx{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) {
			b.logger.Debug("badger transaction conflict, replaying", zap.Int("attempt", attempt))
			continue
		}
		return translateBadgerErr(err)
	}
	return ErrConflict
}

func (b *Badger) Sync() error {
	if b.db.Opts().InMemory {
		return nil
	}
	return errors.Wrap(b.db.Sync(), "syncing badger")
}

func (b *Badger) Close() error {
	return errors.Wrap(b.db.Close(), "closing badger")
}

type badgerTx struct {
	txn *badger.Txn
}

func (t badgerTx) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, translateBadgerErr(err)
	}
	return item.ValueCopy(nil)
}

func (t badgerTx) Set(key, value []byte) error {
	return translateBadgerErr(t.txn.Set(key, value))
}

func (t badgerTx) Delete(key []byte) error {
	return translateBadgerErr(t.txn.Delete(key))
}

func (t badgerTx) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return errors.Wrapf(err, "reading value of %s", item.Key())
		}
		if err = fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

func translateBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return ErrReadOnly
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	}
	return err
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
