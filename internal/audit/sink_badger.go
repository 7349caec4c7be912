package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var badgerPrefix = []byte("audit/")

// BadgerSink stores events in an embedded badger database keyed by run and chain
// sequence, so iteration order is chain order within each run.
type BadgerSink struct {
	name string
	db   *badger.DB
	run  uint64
}

// OpenBadgerSink opens (or creates) the database at path. inMemory ignores path.
func OpenBadgerSink(path string, inMemory bool, logger *slog.Logger) (*BadgerSink, error) {
	if !inMemory && path == "" {
		return nil, errors.New("badger path is empty")
	}
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	name := "badger:" + path
	if inMemory {
		name = "badger:memory"
	}
	return &BadgerSink{name: name, db: db, run: uint64(time.Now().UnixNano())}, nil
}

func (s *BadgerSink) Name() string { return s.name }

func (s *BadgerSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(ev.Chain.Seq), data)
	})
}

// Events reads every stored event, oldest run first.
func (s *BadgerSink) Events(ctx context.Context) ([]*Event, error) {
	var out []*Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				out = append(out, &ev)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerSink) Close(context.Context) error {
	return s.db.Close()
}

func (s *BadgerSink) key(seq uint64) []byte {
	n := len(badgerPrefix)
	k := make([]byte, n+16)
	copy(k, badgerPrefix)
	binary.BigEndian.PutUint64(k[n:], s.run)
	binary.BigEndian.PutUint64(k[n+8:], seq)
	return k
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
