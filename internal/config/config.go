// Package config holds the typed configuration struct consumed at
// startup, grounded on luxfi-consensus's config/config.go Parameters +
// DefaultParams() pattern.
package config

import (
	"time"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/utils"
)

// DHT holds Kademlia tuning parameters.
type DHT struct {
	BucketSize          int           // k
	Alpha               int           // lookup parallelism
	MaxLookupHops       int           // default 8
	RPCTimeout          time.Duration // default per-RPC deadline
	StaleAfter          time.Duration // contact staleness window
	ValueTTL            time.Duration // default value lifetime
	RepublishInterval   time.Duration // original publisher re-store cadence
	ReplicationPolicy   ReplicationPolicy
	RequireSignedStores bool
}

// ReplicationPolicy selects how values propagate across the DHT.
type ReplicationPolicy int

const (
	ReplicationHybrid ReplicationPolicy = iota
	ReplicationPush
	ReplicationPull
)

// MLS holds group-messaging tuning parameters.
type MLS struct {
	EpochDrift        uint64 // default 5
	ReplayCacheSize   int    // default 10000
	KeyPackageExpiry  time.Duration
	Ciphersuite       string // default "DHKEMX25519/AES128GCM/SHA256/Ed25519"
	TimestampJitterS  int64  // +/- seconds, default 30
}

// CRDT holds replication-layer tuning parameters.
type CRDT struct {
	SnapshotRetention int // keep N most recent snapshots, default 3
}

// Storage selects and tunes persistence engines.
type Storage struct {
	DataDir            string
	EncryptAtRest      bool
	CompressSnapshots  bool
	AtomicCommitTimeout time.Duration
}

// RateLimit holds the inbound RPC token-bucket and breaker settings.
// They are carried in Config only: no limiter or breaker in this
// module reads them.
type RateLimit struct {
	TokensPerSecond float64
	BurstSize       int
	BreakerFailureThreshold int
	BreakerHalfOpenAfter    time.Duration
}

// Features holds the runtime-mutable feature flags. This is the only
// sub-struct that may be changed after startup.
type Features struct {
	HybridDHTReplication bool
	WelcomeIncludesTree  bool
	StorageEncryption    bool
}

// Config is the full typed configuration consumed at startup.
type Config struct {
	NodeID   string
	DHT      DHT
	MLS      MLS
	CRDT     CRDT
	Storage  Storage
	RateLimit RateLimit

	features *utils.Atomic[Features]
}

// Default returns a Config with every tuning field set to its default.
func Default(nodeID string) *Config {
	c := &Config{
		NodeID: nodeID,
		DHT: DHT{
			BucketSize:        20,
			Alpha:             3,
			MaxLookupHops:     8,
			RPCTimeout:        5 * time.Second,
			StaleAfter:        10 * time.Minute,
			ValueTTL:          24 * time.Hour,
			RepublishInterval: time.Hour,
			ReplicationPolicy: ReplicationHybrid,
		},
		MLS: MLS{
			EpochDrift:       5,
			ReplayCacheSize:  10000,
			KeyPackageExpiry: 7 * 24 * time.Hour,
			Ciphersuite:      "DHKEMX25519/AES128GCM/SHA256/Ed25519",
			TimestampJitterS: 30,
		},
		CRDT: CRDT{SnapshotRetention: 3},
		Storage: Storage{
			DataDir:             "./data",
			CompressSnapshots:   true,
			AtomicCommitTimeout: 10 * time.Second,
		},
		RateLimit: RateLimit{
			TokensPerSecond:         200,
			BurstSize:               50,
			BreakerFailureThreshold: 5,
			BreakerHalfOpenAfter:    30 * time.Second,
		},
	}
	c.features = utils.NewAtomic(Features{HybridDHTReplication: true})
	return c
}

// Features returns the current feature-flag snapshot.
func (c *Config) Features() Features {
	return c.features.Get()
}

// SetFeatures replaces the feature-flag snapshot atomically; this is
// the sole runtime-mutable surface on Config.
func (c *Config) SetFeatures(f Features) {
	c.features.Set(f)
}

// Validate checks invariants a misconfigured node must not start with.
func (c *Config) Validate() error {
	if c.DHT.BucketSize < 1 {
		return errs.New(errs.InvalidInput, "dht bucket size must be >= 1")
	}
	if c.DHT.Alpha < 1 {
		return errs.New(errs.InvalidInput, "dht alpha must be >= 1")
	}
	if c.DHT.MaxLookupHops < 1 {
		return errs.New(errs.InvalidInput, "dht max lookup hops must be >= 1")
	}
	if c.MLS.ReplayCacheSize < 1 {
		return errs.New(errs.InvalidInput, "mls replay cache size must be >= 1")
	}
	if c.CRDT.SnapshotRetention < 1 {
		return errs.New(errs.InvalidInput, "crdt snapshot retention must be >= 1")
	}
	if c.Storage.DataDir == "" {
		return errs.New(errs.InvalidInput, "storage data dir must be set")
	}
	return nil
}
