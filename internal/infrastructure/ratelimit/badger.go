// badger.go: Embedded durable counter and abuse stores backed by BadgerDB
package ratelimit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	badgerCounterPrefix = "ctr:"
	badgerAbusePrefix   = "abuse:"
	badgerMaxRetries    = 64
)

// BadgerStore implements CounterStore and AbuseStore on one BadgerDB. Counter
// entries carry a TTL so expired windows are compacted away; the window end
// is also stored in the value and compared against the store clock.
type BadgerStore struct {
	db  *badger.DB
	now Clock
}

// OpenBadgerStore opens (or creates) a store at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string, clock Clock) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &BadgerStore{db: db, now: clock}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Name implements HealthChecker.
func (s *BadgerStore) Name() string { return "badger" }

// HealthCheck implements HealthChecker.
func (s *BadgerStore) HealthCheck(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Check implements CounterStore. Concurrent checks on one key conflict at
// commit and are retried, so increments are never lost.
func (s *BadgerStore) Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error) {
	k := []byte(badgerCounterPrefix + key)
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, backendError("badger fixed window", err)
		}
		var res Result
		err := s.db.Update(func(txn *badger.Txn) error {
			now := s.now()
			count, expiresAt, err := readCounter(txn, k)
			if err != nil {
				return err
			}
			if expiresAt <= now.Unix() {
				count = 0
				expiresAt = now.Unix() + int64(windowSeconds)
			}
			if count >= int64(limit) {
				res = windowResult(false, int(count), limit, expiresAt)
				return nil
			}
			count++
			res = windowResult(true, int(count), limit, expiresAt)
			ttl := time.Duration(expiresAt-now.Unix()) * time.Second
			return txn.SetEntry(badger.NewEntry(k, encodeCounter(count, expiresAt)).WithTTL(ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return Result{}, backendError("badger fixed window", err)
		}
		return res, nil
	}
	return Result{}, backendError("badger fixed window", badger.ErrConflict)
}

func readCounter(txn *badger.Txn, k []byte) (count, expiresAt int64, err error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, 0, err
	}
	if len(val) != 16 {
		return 0, 0, fmt.Errorf("corrupt counter value for %s", k)
	}
	return int64(binary.BigEndian.Uint64(val[:8])), int64(binary.BigEndian.Uint64(val[8:])), nil
}

func encodeCounter(count, expiresAt int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(count))
	binary.BigEndian.PutUint64(buf[8:], uint64(expiresAt))
	return buf
}

// Get implements AbuseStore.
func (s *BadgerStore) Get(_ context.Context, identity string) (AbuseState, bool, error) {
	var st AbuseState
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerAbusePrefix + identity))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &st)
		})
	})
	if err != nil {
		return AbuseState{}, false, backendError("badger abuse get", err)
	}
	return st, found, nil
}

// Put implements AbuseStore.
func (s *BadgerStore) Put(_ context.Context, identity string, state AbuseState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode abuse state: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerAbusePrefix+identity), data)
	})
	if err != nil {
		return backendError("badger abuse put", err)
	}
	return nil
}

// Delete implements AbuseStore.
func (s *BadgerStore) Delete(_ context.Context, identity string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerAbusePrefix + identity))
	})
	if err != nil {
		return backendError("badger abuse delete", err)
	}
	return nil
}
