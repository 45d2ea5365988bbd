package dht

import (
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/log"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/logging"
)

// ValueStore is the pebble-backed local store for DHT records, with
// per-record expiry. A record past its TTL reads back as errs.ErrExpired
// on Get (distinct from errs.ErrNotFound) and is physically reclaimed by
// Expire, which callers run on a timer alongside Republish.
//
// Grounded on the DHT's domain-stack requirement to back the value
// store with the same embedded engine (cockroachdb/pebble) the commit
// log already uses; no in-pack Rust source covers storage (dht_key.rs,
// dht_config.rs, client.rs, events.rs stop at the keyspace/RPC layer),
// so the TTL/expiry/republish shape follows dht_config.rs's
// value_expiration/republish_interval fields instead.
type ValueStore struct {
	db  *pebble.DB
	log log.Logger
}

// OpenValueStore opens (creating if absent) a pebble-backed value store
// at dir.
func OpenValueStore(dir string, logger log.Logger) (*ValueStore, error) {
	return OpenValueStoreWithFS(dir, logger, nil)
}

// OpenValueStoreWithFS opens a value store using a caller-supplied
// pebble vfs.FS (an in-memory FS in tests).
func OpenValueStoreWithFS(dir string, logger log.Logger, fs vfs.FS) (*ValueStore, error) {
	if logger == nil {
		logger = logging.NewNoOp()
	}
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "open dht value store", err)
	}
	return &ValueStore{db: db, log: logger}, nil
}

// Put persists value under key, replacing whatever was stored there.
func (s *ValueStore) Put(key Key, value Value) error {
	payload, err := cbor.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.Serialization, "encode dht value", err)
	}
	if err := s.db.Set(key.Bytes(), payload, pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, "store dht value", err)
	}
	return nil
}

// Get returns key's value. A key past its TTL returns errs.ErrExpired
// rather than being reported silently absent — a reader needs to tell
// "never stored" from "stored, but stale" apart, since the latter may
// still be worth a republish-triggering STORE from whoever still has a
// live copy. The stale record is left for Expire to physically
// reclaim, so a concurrent Get doesn't pay for a write.
func (s *ValueStore) Get(key Key) (Value, error) {
	data, closer, err := s.db.Get(key.Bytes())
	if err != nil {
		return Value{}, errs.ErrNotFound
	}
	defer closer.Close()

	var v Value
	if err := cbor.Unmarshal(data, &v); err != nil {
		s.log.Error("dht value store record corrupted", "key", key.String())
		return Value{}, errs.Wrap(errs.CorruptedData, "decode dht value", err)
	}
	if time.Now().After(v.ExpiresAt()) {
		return Value{}, errs.ErrExpired
	}
	return v, nil
}

// Delete removes key unconditionally.
func (s *ValueStore) Delete(key Key) error {
	if err := s.db.Delete(key.Bytes(), pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, "delete dht value", err)
	}
	return nil
}

// Expire scans every record and deletes those past their TTL, returning
// the number removed.
func (s *ValueStore) Expire() (int, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "scan dht value store", err)
	}
	defer iter.Close()

	now := time.Now()
	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var v Value
		if err := cbor.Unmarshal(iter.Value(), &v); err != nil {
			continue
		}
		if now.After(v.ExpiresAt()) {
			k := make([]byte, len(iter.Key()))
			copy(k, iter.Key())
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		if err := s.db.Delete(k, pebble.Sync); err != nil {
			return 0, errs.Wrap(errs.Storage, "expire dht value", err)
		}
	}
	return len(stale), nil
}

// Republish calls fn for every unexpired record this node originally
// published (PublisherID == localID), the standard Kademlia
// republish-before-expiry cycle that keeps popular keys alive without
// relying on any single holder.
func (s *ValueStore) Republish(localID Key, fn func(key Key, value Value) error) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return errs.Wrap(errs.Storage, "scan dht value store", err)
	}
	defer iter.Close()

	now := time.Now()
	for iter.First(); iter.Valid(); iter.Next() {
		var v Value
		if err := cbor.Unmarshal(iter.Value(), &v); err != nil {
			continue
		}
		if now.After(v.ExpiresAt()) || v.PublisherID != localID {
			continue
		}
		key := KeyFromSlice(iter.Key())
		if err := fn(key, v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying pebble handle.
func (s *ValueStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.Storage, "close dht value store", err)
	}
	return nil
}
