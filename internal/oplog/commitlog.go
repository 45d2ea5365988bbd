package oplog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/log"

	"github.com/spacepanda/core/internal/crdt"
	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/logging"
)

// record is the CBOR-encoded payload stored per commit-log entry. The
// on-disk frame wrapping it is [len:u32][payload][crc32:u32], all
// little-endian, keyed by an 8-byte big-endian sequence number so
// pebble's natural key order is also append order.
type record struct {
	Seq       uint64
	NodeID    string
	OpType    string
	Data      []byte
	Timestamp uint64
	Clock     map[string]uint64
	Signature []byte
}

// CommitLog is the durable, crash-recoverable backing store for an
// OpLog: every Append is fsynced before it returns, and every Load
// verifies the CRC of every frame it reads, surfacing corruption as
// errs.CorruptedData rather than skipping the bad record.
type CommitLog struct {
	db      *pebble.DB
	log     log.Logger
	nextSeq uint64
}

// OpenCommitLog opens (creating if absent) a pebble-backed commit log
// at dir on the host filesystem.
func OpenCommitLog(dir string, logger log.Logger) (*CommitLog, error) {
	return OpenCommitLogWithFS(dir, logger, nil)
}

// OpenCommitLogWithFS opens a commit log using a caller-supplied pebble
// vfs.FS (an in-memory FS in tests, the default disk FS in production
// when fs is nil).
func OpenCommitLogWithFS(dir string, logger log.Logger, fs vfs.FS) (*CommitLog, error) {
	if logger == nil {
		logger = logging.NewNoOp()
	}
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "open commit log", err)
	}
	cl := &CommitLog{db: db, log: logger}
	seq, err := cl.scanMaxSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	cl.nextSeq = seq + 1
	return cl, nil
}

func (c *CommitLog) scanMaxSeq() (uint64, error) {
	iter, err := c.db.NewIter(nil)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "scan commit log", err)
	}
	defer iter.Close()

	var maxSeq uint64
	for iter.Last(); iter.Valid(); iter.Prev() {
		key := iter.Key()
		if len(key) != 8 {
			continue
		}
		maxSeq = binary.BigEndian.Uint64(key)
		break
	}
	return maxSeq, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append frames and fsyncs a single entry, returning its assigned
// sequence number.
func (c *CommitLog) Append(e Entry) (uint64, error) {
	seq := c.nextSeq

	clock := make(map[string]uint64, e.Clock.Len())
	for _, id := range e.Clock.NodeIDs() {
		clock[id] = e.Clock.Get(id)
	}

	payload, err := cbor.Marshal(record{
		Seq:       seq,
		NodeID:    e.NodeID,
		OpType:    e.OpType,
		Data:      e.Data,
		Timestamp: e.Timestamp,
		Clock:     clock,
		Signature: e.Signature,
	})
	if err != nil {
		return 0, errs.Wrap(errs.Serialization, "encode commit log entry", err)
	}

	frame := frameRecord(payload)
	if err := c.db.Set(seqKey(seq), frame, pebble.Sync); err != nil {
		return 0, errs.Wrap(errs.Storage, "append commit log entry", err)
	}

	c.nextSeq++
	return seq, nil
}

// frameRecord wraps payload as [len:u32][payload][crc32:u32].
func frameRecord(payload []byte) []byte {
	frame := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	crc := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(frame[4+len(payload):], crc)
	return frame
}

func unframeRecord(frame []byte) ([]byte, error) {
	if len(frame) < 8 {
		return nil, errs.New(errs.CorruptedData, "commit log frame too short")
	}
	length := binary.LittleEndian.Uint32(frame[0:4])
	if int(length) != len(frame)-8 {
		return nil, errs.New(errs.CorruptedData, "commit log frame length mismatch")
	}
	payload := frame[4 : 4+length]
	wantCRC := binary.LittleEndian.Uint32(frame[4+length:])
	gotCRC := crc32.ChecksumIEEE(payload)
	if wantCRC != gotCRC {
		return nil, errs.New(errs.CorruptedData, "commit log frame checksum mismatch")
	}
	return payload, nil
}

// LoadFrom replays every entry with sequence number >= fromSeq, in
// order. A corrupted frame aborts the load and returns
// errs.CorruptedData rather than silently truncating history.
func (c *CommitLog) LoadFrom(fromSeq uint64) ([]Entry, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: seqKey(fromSeq)})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "iterate commit log", err)
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		payload, err := unframeRecord(iter.Value())
		if err != nil {
			c.log.Error("commit log frame corrupted during replay")
			return nil, err
		}
		var rec record
		if err := cbor.Unmarshal(payload, &rec); err != nil {
			return nil, errs.Wrap(errs.Serialization, "decode commit log entry", err)
		}
		clock := clockFromMap(rec.Clock)
		entries = append(entries, Entry{
			OpID:      rec.Seq,
			OpType:    rec.OpType,
			Data:      rec.Data,
			NodeID:    rec.NodeID,
			Clock:     clock,
			Timestamp: rec.Timestamp,
			Signature: rec.Signature,
		})
	}
	return entries, nil
}

func clockFromMap(m map[string]uint64) *crdt.VectorClock {
	vc := crdt.NewVectorClock()
	for id, count := range m {
		vc.Set(id, count)
	}
	return vc
}

// Close closes the underlying pebble handle.
func (c *CommitLog) Close() error {
	if err := c.db.Close(); err != nil {
		return errs.Wrap(errs.Storage, "close commit log", err)
	}
	return nil
}
