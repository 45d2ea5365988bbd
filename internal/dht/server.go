package dht

import "github.com/spacepanda/core/internal/errs"

// Server answers inbound DHT RPCs against the local routing table and
// value store, the receiving half of the protocol Client speaks.
type Server struct {
	localID      Key
	routingTable *RoutingTable
	store        *ValueStore
	bucketSize   int
	events       *Bus
}

// NewServer returns a server for localID backed by routingTable and store.
func NewServer(localID Key, routingTable *RoutingTable, store *ValueStore, bucketSize int, events *Bus) *Server {
	return &Server{localID: localID, routingTable: routingTable, store: store, bucketSize: bucketSize, events: events}
}

// Handle answers req from a peer reachable at addr, updating the
// routing table with the sender's liveness as a side effect (every
// inbound RPC is itself evidence the sender is alive).
func (s *Server) Handle(req Message, fromAddr string) Message {
	s.routingTable.Touch(req.SenderID, fromAddr)

	switch req.Kind {
	case Ping:
		return NewPong(s.localID)

	case FindNode:
		nodes := contactsToPeerInfo(s.routingTable.FindClosest(req.Target, s.bucketSize))
		return Message{Kind: FindNodeResponse, RequestID: req.RequestID, SenderID: s.localID, Nodes: nodes}

	case FindValue:
		v, err := s.store.Get(req.Key)
		switch {
		case err == nil:
			return Message{Kind: FindValueResponse, RequestID: req.RequestID, SenderID: s.localID, Found: true, Value: &v}
		case errs.Is(err, errs.Expired):
			return Message{Kind: FindValueResponse, RequestID: req.RequestID, SenderID: s.localID, Found: false, Expired: true}
		}
		nodes := contactsToPeerInfo(s.routingTable.FindClosest(req.Key, s.bucketSize))
		return Message{Kind: FindValueResponse, RequestID: req.RequestID, SenderID: s.localID, Found: false, Nodes: nodes}

	case Store:
		if req.Value == nil {
			return Message{Kind: StoreAck, RequestID: req.RequestID, SenderID: s.localID, Success: false, Error: "missing value"}
		}
		if err := s.store.Put(req.Key, *req.Value); err != nil {
			return Message{Kind: StoreAck, RequestID: req.RequestID, SenderID: s.localID, Success: false, Error: err.Error()}
		}
		if s.events != nil {
			s.events.Publish(Event{Kind: EventValueStored, Key: req.Key})
		}
		return Message{Kind: StoreAck, RequestID: req.RequestID, SenderID: s.localID, Success: true}

	default:
		return Message{Kind: StoreAck, RequestID: req.RequestID, SenderID: s.localID, Success: false, Error: "unsupported request"}
	}
}

func contactsToPeerInfo(contacts []Contact) []PeerInfo {
	out := make([]PeerInfo, len(contacts))
	for i, c := range contacts {
		out[i] = PeerInfo{ID: c.ID, Addr: c.Addr}
	}
	return out
}
