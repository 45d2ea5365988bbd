package dht

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spacepanda/core/internal/errs"
)

// Kind distinguishes the RPC message types of the Kademlia protocol.
type Kind int

const (
	Ping Kind = iota
	Pong
	FindNode
	FindNodeResponse
	FindValue
	FindValueResponse
	Store
	StoreAck
)

func (k Kind) String() string {
	switch k {
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case FindNode:
		return "FindNode"
	case FindNodeResponse:
		return "FindNodeResponse"
	case FindValue:
		return "FindValue"
	case FindValueResponse:
		return "FindValueResponse"
	case Store:
		return "Store"
	case StoreAck:
		return "StoreAck"
	default:
		return "Unknown"
	}
}

// PeerInfo is the wire representation of a contact exchanged in
// FIND_NODE responses.
type PeerInfo struct {
	ID   Key
	Addr string
}

// Value is a stored DHT record: opaque signed data plus the bookkeeping
// needed to expire and republish it.
type Value struct {
	Data        []byte
	PublisherID Key
	StoredAtMs  uint64
	TTLSeconds  uint64
	Signature   []byte
}

// ExpiresAt returns the wall-clock time this value should be dropped.
func (v Value) ExpiresAt() time.Time {
	return time.UnixMilli(int64(v.StoredAtMs)).Add(time.Duration(v.TTLSeconds) * time.Second)
}

// Message is every RPC exchanged between DHT peers. Only the fields
// relevant to Kind are populated.
//
// Grounded on core_dht/client.rs's DhtMessage variants (Ping, FindNode,
// FindNodeResponse, FindValue, FindValueResponse, Store, StoreAck); Go
// has no tagged-union enum, so this follows the same flattened-struct
// approach as internal/delta.Operation.
type Message struct {
	Kind      Kind
	RequestID uint64
	SenderID  Key

	Target Key // FindNode
	Key    Key // FindValue, Store

	Nodes []PeerInfo // FindNodeResponse

	Found   bool   // FindValueResponse
	Expired bool   // FindValueResponse: key was known locally but past its TTL
	Value   *Value // FindValueResponse, Store

	Success bool   // StoreAck
	Error   string // StoreAck
}

// NewPing builds a PING request from sender.
func NewPing(sender Key) Message {
	return Message{Kind: Ping, SenderID: sender}
}

// NewPong builds a PONG reply from sender.
func NewPong(sender Key) Message {
	return Message{Kind: Pong, SenderID: sender}
}

// IsRequest reports whether m initiates an exchange rather than
// answering one.
func (m Message) IsRequest() bool {
	switch m.Kind {
	case Ping, FindNode, FindValue, Store:
		return true
	default:
		return false
	}
}

// Encode serializes m to its wire form.
func Encode(m Message) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "encode dht message", err)
	}
	return b, nil
}

// Decode parses a wire-format message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, errs.Wrap(errs.Serialization, "decode dht message", err)
	}
	return m, nil
}
