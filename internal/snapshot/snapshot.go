// Package snapshot implements periodic full-state snapshots of the
// replicated Space/Channel model, written atomically (temp file
// then rename) so a crash mid-write never corrupts the latest-readable
// snapshot, with versioned retention and optional zstd compression of
// large blobs.
//
// Grounded on
// _examples/original_source/spacepanda-core/src/core_store/store/snapshot.rs.
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/DataDog/zstd"
	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/model"
	"github.com/spacepanda/core/utils/wrappers"
)

// Metadata describes a single snapshot file.
type Metadata struct {
	Version      uint32
	Timestamp    uint64
	SpacesCount  int
	ChannelsCount int
}

// Snapshot is the full replicated state at a point in time.
type Snapshot struct {
	Metadata Metadata
	Spaces   map[model.SpaceID]*model.Space
	Channels map[model.ChannelID]*model.Channel
}

// on-disk wire record; the concrete CRDT types aren't the wire format,
// callers serialize/deserialize the raw bytes of each Space/Channel
// through their own codec (internal/delta) before this layer ever sees
// them, so here the map values are the already-encoded blobs.
type wireSnapshot struct {
	Metadata Metadata
	Spaces   map[string][]byte
	Channels map[string][]byte
}

// Manager manages an append-style directory of versioned snapshot
// files, with zstd compression applied above a size threshold.
type Manager struct {
	dir            string
	currentVersion uint32
	compressMinLen int
}

const defaultCompressMinLen = 4096

// NewManager creates (if absent) dir and returns a snapshot manager
// rooted at it.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, "create snapshots dir", err)
	}
	return &Manager{dir: dir, compressMinLen: defaultCompressMinLen}, nil
}

func (m *Manager) tempPath(version uint32) string {
	return filepath.Join(m.dir, "snapshot_"+strconv.FormatUint(uint64(version), 10)+".tmp")
}

func (m *Manager) finalPath(version uint32) string {
	return filepath.Join(m.dir, "snapshot_"+strconv.FormatUint(uint64(version), 10)+".bin")
}

// encodeEntity CBOR-encodes then zstd-compresses v if the encoding is
// larger than compressMinLen; the one-byte prefix distinguishes the two
// so Load can tell them apart without guessing.
func (m *Manager) encodeEntity(v any) ([]byte, error) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode snapshot entity", err)
	}
	if len(raw) < m.compressMinLen {
		return append([]byte{0}, raw...), nil
	}
	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "compress snapshot entity", err)
	}
	return append([]byte{1}, compressed...), nil
}

func decodeEntity(blob []byte, out any) error {
	if len(blob) == 0 {
		return errs.New(errs.CorruptedData, "empty snapshot entity")
	}
	flag, payload := blob[0], blob[1:]
	switch flag {
	case 0:
		// raw CBOR
	case 1:
		raw, err := zstd.Decompress(nil, payload)
		if err != nil {
			return errs.Wrap(errs.CorruptedData, "decompress snapshot entity", err)
		}
		payload = raw
	default:
		return errs.New(errs.CorruptedData, "unknown snapshot entity compression flag")
	}
	if err := cbor.Unmarshal(payload, out); err != nil {
		return errs.Wrap(errs.Serialization, "decode snapshot entity", err)
	}
	return nil
}

// CreateSnapshot writes spaces and channels as a new versioned
// snapshot, atomically: write to a .tmp file, fsync, then rename to the
// final .bin path.
func (m *Manager) CreateSnapshot(spaces map[model.SpaceID]*model.Space, channels map[model.ChannelID]*model.Channel) error {
	version := atomic.AddUint32(&m.currentVersion, 1)

	encodedSpaces := make(map[string][]byte, len(spaces))
	for id, s := range spaces {
		blob, err := m.encodeEntity(s)
		if err != nil {
			return err
		}
		encodedSpaces[string(id)] = blob
	}
	encodedChannels := make(map[string][]byte, len(channels))
	for id, c := range channels {
		blob, err := m.encodeEntity(c)
		if err != nil {
			return err
		}
		encodedChannels[string(id)] = blob
	}

	ws := wireSnapshot{
		Metadata: Metadata{
			Version:       version,
			Timestamp:     uint64(model.Now()),
			SpacesCount:   len(spaces),
			ChannelsCount: len(channels),
		},
		Spaces:   encodedSpaces,
		Channels: encodedChannels,
	}

	data, err := cbor.Marshal(ws)
	if err != nil {
		return errs.Wrap(errs.Serialization, "encode snapshot", err)
	}

	tempPath := m.tempPath(version)
	f, err := os.Create(tempPath)
	if err != nil {
		return errs.Wrap(errs.Storage, "create snapshot temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errs.Wrap(errs.Storage, "write snapshot temp file", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errs.Wrap(errs.Storage, "sync snapshot temp file", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.Storage, "close snapshot temp file", err)
	}

	if err := os.Rename(tempPath, m.finalPath(version)); err != nil {
		return errs.Wrap(errs.Storage, "rename snapshot into place", err)
	}
	return nil
}

// listVersions returns every committed (.bin) snapshot version, sorted
// ascending.
func (m *Manager) listVersions() ([]uint32, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "list snapshots dir", err)
	}
	var versions []uint32
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".bin")
		n, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			continue // stray/foreign file, ignore rather than fail the whole load
		}
		versions = append(versions, uint32(n))
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// LoadLatest loads the most recent committed snapshot, decoding every
// entity. Returns empty maps if no snapshot has ever been written.
// Corruption in the latest snapshot is surfaced, not silently skipped
// in favor of an older one.
func (m *Manager) LoadLatest() (map[model.SpaceID]*model.Space, map[model.ChannelID]*model.Channel, error) {
	versions, err := m.listVersions()
	if err != nil {
		return nil, nil, err
	}
	if len(versions) == 0 {
		return map[model.SpaceID]*model.Space{}, map[model.ChannelID]*model.Channel{}, nil
	}

	latest := versions[len(versions)-1]
	if latest > m.currentVersion {
		atomic.StoreUint32(&m.currentVersion, latest)
	}

	data, err := os.ReadFile(m.finalPath(latest))
	if err != nil {
		return nil, nil, errs.Wrap(errs.Storage, "read snapshot file", err)
	}

	var ws wireSnapshot
	if err := cbor.Unmarshal(data, &ws); err != nil {
		return nil, nil, errs.Wrap(errs.CorruptedData, "decode snapshot envelope", err)
	}

	spaces := make(map[model.SpaceID]*model.Space, len(ws.Spaces))
	for idStr, blob := range ws.Spaces {
		var s model.Space
		if err := decodeEntity(blob, &s); err != nil {
			return nil, nil, err
		}
		spaces[model.SpaceID(idStr)] = &s
	}
	channels := make(map[model.ChannelID]*model.Channel, len(ws.Channels))
	for idStr, blob := range ws.Channels {
		var c model.Channel
		if err := decodeEntity(blob, &c); err != nil {
			return nil, nil, err
		}
		channels[model.ChannelID(idStr)] = &c
	}
	return spaces, channels, nil
}

// LoadSpace loads a single space from the latest snapshot.
func (m *Manager) LoadSpace(id model.SpaceID) (*model.Space, bool, error) {
	spaces, _, err := m.LoadLatest()
	if err != nil {
		return nil, false, err
	}
	s, ok := spaces[id]
	return s, ok, nil
}

// LoadChannel loads a single channel from the latest snapshot.
func (m *Manager) LoadChannel(id model.ChannelID) (*model.Channel, bool, error) {
	_, channels, err := m.LoadLatest()
	if err != nil {
		return nil, false, err
	}
	c, ok := channels[id]
	return c, ok, nil
}

// CleanupOldSnapshots removes every committed snapshot except the
// keepCount most recent. Stray .tmp files left over from an interrupted
// write are tolerated (not treated as errors) by listVersions, which
// only ever enumerates .bin files.
func (m *Manager) CleanupOldSnapshots(keepCount int) error {
	versions, err := m.listVersions()
	if err != nil {
		return err
	}
	if len(versions) <= keepCount {
		return nil
	}
	toRemove := versions[:len(versions)-keepCount]
	var removeErrs wrappers.Errs
	for _, v := range toRemove {
		removeErrs.Add(os.Remove(m.finalPath(v)))
	}
	if removeErrs.Errored() {
		return errs.Wrap(errs.Storage, "remove old snapshots", removeErrs.Err())
	}
	return nil
}
