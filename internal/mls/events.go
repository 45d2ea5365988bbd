package mls

import (
	"sync"
	"time"
)

// EventKind discriminates MlsEvent. Grounded on core_mls/events.rs's
// MlsEvent enum, flattened to a single struct the same way
// internal/dht.Event flattens DhtEvent.
type EventKind int

const (
	EventMemberAdded EventKind = iota
	EventMemberRemoved
	EventMemberUpdated
	EventEpochChanged
	EventMessageReceived
	EventGroupJoined
	EventGroupCreated
	EventGroupLeft
	EventProposalCreated
	EventCommitCreated
	EventError
)

// ProposalType mirrors core_mls::events::ProposalType.
type ProposalType int

const (
	ProposalAdd ProposalType = iota
	ProposalRemove
	ProposalUpdate
	ProposalPreSharedKey
	ProposalReInit
	ProposalExternalInit
	ProposalGroupContextExtensions
)

// MlsEvent is emitted by the group engine to notify other subsystems
// (session coordinator, CRDT layer, metrics) of state changes.
type MlsEvent struct {
	Kind EventKind

	GroupID GroupId

	MemberID []byte
	SenderID []byte

	Epoch    uint64
	OldEpoch uint64
	NewEpoch uint64

	Plaintext []byte

	MemberCount   int
	ProposalType  ProposalType
	ProposalCount int

	CreatorID []byte
	FinalEpoch uint64

	Error string

	At time.Time
}

// IsError reports whether this event represents an error condition.
func (e MlsEvent) IsError() bool { return e.Kind == EventError }

// EffectiveEpoch returns the epoch most relevant to this event kind,
// mirroring the Rust accessor's per-variant dispatch.
func (e MlsEvent) EffectiveEpoch() uint64 {
	if e.Kind == EventEpochChanged {
		return e.NewEpoch
	}
	if e.Kind == EventGroupLeft {
		return e.FinalEpoch
	}
	return e.Epoch
}

// Bus fans out MlsEvents to every subscriber without blocking the
// publisher, the same non-blocking fan-out shape as internal/dht.Bus.
type Bus struct {
	mu   sync.Mutex
	subs []chan MlsEvent
}

// NewBus returns an empty event bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a new buffered channel that receives every event
// published after this call.
func (b *Bus) Subscribe() <-chan MlsEvent {
	ch := make(chan MlsEvent, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans ev out to every subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking.
func (b *Bus) Publish(ev MlsEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
