package mls

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luxfi/log"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/logging"
	"github.com/spacepanda/core/utils/wrappers"
)

// ChannelType mirrors channel_metadata.rs's structural (unencrypted)
// channel_type discriminant.
type ChannelType uint8

const (
	ChannelPrivate ChannelType = iota
	ChannelGroup
	ChannelPublic
)

// ChannelRecord is the minimal, privacy-preserving channel row. Only
// GroupID and ChannelType are stored in the clear; name, topic and
// member list are caller-supplied ciphertext blobs this layer never
// inspects. Grounded on storage/channel_metadata.rs's ChannelMetadata,
// whose doc comment enumerates what is deliberately NOT stored here:
// last-read timestamps, typing indicators, read receipts, presence,
// delivery timestamps, and network metadata.
type ChannelRecord struct {
	GroupID           GroupId
	EncryptedName     []byte
	EncryptedTopic    []byte
	EncryptedMembers  []byte
	ChannelType       ChannelType
	Archived          bool
	CreatedAt         time.Time
}

// MessageRecord is the minimal history row for one encrypted message.
// Grounded on storage/channel_metadata.rs's MessageMetadata: ordering
// is by Sequence, never by wall-clock time, and the sender is recorded
// as an opaque hash rather than a plaintext identity.
type MessageRecord struct {
	MessageID       []byte
	GroupID         GroupId
	EncryptedContent []byte
	SenderHash      []byte
	Sequence        int64
	Processed       bool
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
    group_id          BLOB PRIMARY KEY,
    encrypted_name    BLOB NOT NULL,
    encrypted_topic   BLOB NOT NULL,
    encrypted_members BLOB NOT NULL,
    channel_type      INTEGER NOT NULL,
    archived          INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    message_id        BLOB PRIMARY KEY,
    group_id          BLOB NOT NULL,
    encrypted_content BLOB NOT NULL,
    sender_hash       BLOB NOT NULL,
    sequence          INTEGER NOT NULL,
    processed         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_group_seq ON messages(group_id, sequence);

CREATE TABLE IF NOT EXISTS group_snapshots (
    group_id   BLOB PRIMARY KEY,
    epoch      INTEGER NOT NULL,
    payload    BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS key_packages (
    fingerprint BLOB PRIMARY KEY,
    identity    BLOB NOT NULL,
    payload     BLOB NOT NULL,
    consumed    INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_packages_expires_at ON key_packages(expires_at);
`

// Store is the sqlite-backed persistence layer for channel metadata,
// message history, group snapshots and key packages. Grounded on
// oplog.CommitLog's structuring of a durable store (open/close,
// errs-wrapped failures, a logger field) adapted from pebble's KV
// model to database/sql since the original's channel_metadata.rs and
// snapshot.rs are naturally relational (indexed lookups by group id,
// single-use enforcement on key packages via a transactional UPDATE).
type Store struct {
	db  *sql.DB
	log log.Logger
}

// OpenStore opens (creating if absent) a sqlite database at path and
// applies the schema.
func OpenStore(path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNoOp()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "open mls store", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.Storage, "apply mls store schema", err)
	}
	return &Store{db: db, log: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.Storage, "close mls store", err)
	}
	return nil
}

// PutChannel inserts or replaces a channel's metadata row.
func (s *Store) PutChannel(c ChannelRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO channels (group_id, encrypted_name, encrypted_topic, encrypted_members, channel_type, archived, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET
		   encrypted_name=excluded.encrypted_name,
		   encrypted_topic=excluded.encrypted_topic,
		   encrypted_members=excluded.encrypted_members,
		   channel_type=excluded.channel_type,
		   archived=excluded.archived`,
		c.GroupID.Bytes(), c.EncryptedName, c.EncryptedTopic, c.EncryptedMembers,
		c.ChannelType, boolToInt(c.Archived), c.CreatedAt.Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Storage, "put channel", err)
	}
	return nil
}

// GetChannel fetches a channel's metadata row by group id.
func (s *Store) GetChannel(groupID GroupId) (ChannelRecord, error) {
	row := s.db.QueryRow(
		`SELECT group_id, encrypted_name, encrypted_topic, encrypted_members, channel_type, archived, created_at
		 FROM channels WHERE group_id = ?`, groupID.Bytes())

	var rec ChannelRecord
	var idBytes []byte
	var archived int
	var createdAt int64
	if err := row.Scan(&idBytes, &rec.EncryptedName, &rec.EncryptedTopic, &rec.EncryptedMembers, &rec.ChannelType, &archived, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return ChannelRecord{}, errs.ErrNotFound
		}
		return ChannelRecord{}, errs.Wrap(errs.Storage, "get channel", err)
	}
	rec.GroupID = NewGroupID(idBytes)
	rec.Archived = archived != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

// ArchiveChannel marks a channel archived without touching any
// encrypted field, mirroring channel_metadata.rs's note that archival
// is local-only state, never synced.
func (s *Store) ArchiveChannel(groupID GroupId) error {
	res, err := s.db.Exec(`UPDATE channels SET archived = 1 WHERE group_id = ?`, groupID.Bytes())
	if err != nil {
		return errs.Wrap(errs.Storage, "archive channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AppendMessage inserts one message history row.
func (s *Store) AppendMessage(m MessageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (message_id, group_id, encrypted_content, sender_hash, sequence, processed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.GroupID.Bytes(), m.EncryptedContent, m.SenderHash, m.Sequence, boolToInt(m.Processed),
	)
	if err != nil {
		return errs.Wrap(errs.Storage, "append message", err)
	}
	return nil
}

// MarkMessageProcessed flips the local-only processed flag for a
// message, without emitting any synced acknowledgement.
func (s *Store) MarkMessageProcessed(messageID []byte) error {
	res, err := s.db.Exec(`UPDATE messages SET processed = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return errs.Wrap(errs.Storage, "mark message processed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListMessages returns up to limit messages for groupID in sequence
// order, starting at sinceSeq (exclusive).
func (s *Store) ListMessages(groupID GroupId, sinceSeq int64, limit int) ([]MessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT message_id, encrypted_content, sender_hash, sequence, processed
		 FROM messages WHERE group_id = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?`,
		groupID.Bytes(), sinceSeq, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "list messages", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var processed int
		if err := rows.Scan(&rec.MessageID, &rec.EncryptedContent, &rec.SenderHash, &rec.Sequence, &processed); err != nil {
			return nil, errs.Wrap(errs.Storage, "scan message row", err)
		}
		rec.GroupID = groupID
		rec.Processed = processed != 0
		out = append(out, rec)
	}
	return out, nil
}

// PutSnapshot persists a group snapshot, overwriting any prior one for
// the same group.
func (s *Store) PutSnapshot(snap GroupSnapshot) error {
	payload, err := snap.ToBytes()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO group_snapshots (group_id, epoch, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET epoch=excluded.epoch, payload=excluded.payload, updated_at=excluded.updated_at`,
		snap.GroupID.Bytes(), snap.Epoch, payload, time.Now().Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Storage, "put group snapshot", err)
	}
	return nil
}

// PutSnapshots persists a batch of group snapshots as a single atomic
// unit: either every row lands or, on any failure, none does. Callers
// doing a coordinated multi-group checkpoint (e.g. before a process
// restart) use this instead of looping PutSnapshot, which could leave
// some groups checkpointed and others not if it failed partway through.
func (s *Store) PutSnapshots(snaps []GroupSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	payloads := make([][]byte, len(snaps))
	var marshalErrs wrappers.Errs
	for i, snap := range snaps {
		p, err := snap.ToBytes()
		marshalErrs.Add(err)
		payloads[i] = p
	}
	if marshalErrs.Errored() {
		return errs.Wrap(errs.Serialization, "encode group snapshot batch", marshalErrs.Err())
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.Storage, "begin put snapshots batch", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt, err := tx.Prepare(
		`INSERT INTO group_snapshots (group_id, epoch, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET epoch=excluded.epoch, payload=excluded.payload, updated_at=excluded.updated_at`)
	if err != nil {
		return errs.Wrap(errs.Storage, "prepare put snapshots batch", err)
	}
	defer stmt.Close()

	for i, snap := range snaps {
		if _, err := stmt.Exec(snap.GroupID.Bytes(), snap.Epoch, payloads[i], now); err != nil {
			return errs.Wrap(errs.Storage, "put group snapshot batch row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Storage, "commit put snapshots batch", err)
	}
	return nil
}

// LoadSnapshot loads the most recently stored snapshot for groupID.
func (s *Store) LoadSnapshot(groupID GroupId) (GroupSnapshot, error) {
	row := s.db.QueryRow(`SELECT payload FROM group_snapshots WHERE group_id = ?`, groupID.Bytes())
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return GroupSnapshot{}, errs.ErrNotFound
		}
		return GroupSnapshot{}, errs.Wrap(errs.Storage, "load group snapshot", err)
	}
	return SnapshotFromBytes(payload)
}

// PutKeyPackage stores a key package keyed by its signature, which
// doubles as a collision-resistant fingerprint since it covers the
// whole signed payload.
func (s *Store) PutKeyPackage(kp KeyPackage) error {
	payload, err := kp.ToBytes()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO key_packages (fingerprint, identity, payload, consumed, created_at, expires_at) VALUES (?, ?, ?, 0, ?, ?)`,
		kp.Signature, kp.Identity, payload, kp.CreatedAt.Unix(), kp.ExpiresAt.Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Storage, "put key package", err)
	}
	return nil
}

// ConsumeKeyPackage atomically claims an unconsumed, unexpired key
// package by fingerprint, returning errs.ErrNotFound if it was already
// consumed, expired, or never existed. The single UPDATE...WHERE
// consumed=0 is the whole single-use enforcement mechanism: sqlite
// serializes writers, so two concurrent callers racing the same
// fingerprint can never both succeed.
func (s *Store) ConsumeKeyPackage(fingerprint []byte) (KeyPackage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return KeyPackage{}, errs.Wrap(errs.Storage, "begin consume key package", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT payload, expires_at FROM key_packages WHERE fingerprint = ? AND consumed = 0`, fingerprint)
	var payload []byte
	var expiresAt int64
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return KeyPackage{}, errs.ErrNotFound
		}
		return KeyPackage{}, errs.Wrap(errs.Storage, "scan key package", err)
	}
	if time.Unix(expiresAt, 0).Before(time.Now()) {
		return KeyPackage{}, errs.ErrNotFound
	}

	if _, err := tx.Exec(`UPDATE key_packages SET consumed = 1 WHERE fingerprint = ?`, fingerprint); err != nil {
		return KeyPackage{}, errs.Wrap(errs.Storage, "consume key package", err)
	}
	if err := tx.Commit(); err != nil {
		return KeyPackage{}, errs.Wrap(errs.Storage, "commit consume key package", err)
	}
	return KeyPackageFromBytes(payload)
}

// CleanupExpiredKeyPackages deletes every key package (consumed or not)
// whose expiry has passed as of now, returning the number of rows
// removed. Mirrors snapshot.Manager.CleanupOldSnapshots's role as a
// periodic maintenance sweep rather than something invoked per-request.
func (s *Store) CleanupExpiredKeyPackages(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM key_packages WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "cleanup expired key packages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "count cleaned key packages", err)
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
