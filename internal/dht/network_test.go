package dht_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/dht"
	"github.com/spacepanda/core/internal/logging"
)

// node bundles everything one simulated DHT peer needs; memTransport
// dispatches directly to node.server.Handle, standing in for a real
// network layer the way luxfi-consensus's tests stand in for a router.
type node struct {
	id     dht.Key
	addr   string
	rt     *dht.RoutingTable
	store  *dht.ValueStore
	server *dht.Server
	client *dht.Client
}

type memTransport struct {
	nodes map[string]*node
}

func (m *memTransport) Send(_ context.Context, peer dht.PeerInfo, msg dht.Message) (dht.Message, error) {
	n, ok := m.nodes[peer.Addr]
	if !ok {
		return dht.Message{}, context.DeadlineExceeded
	}
	return n.server.Handle(msg, "caller"), nil
}

func newTestNetwork(t *testing.T, names ...string) (map[string]*node, *memTransport) {
	t.Helper()
	tr := &memTransport{nodes: make(map[string]*node)}
	for _, name := range names {
		id := dht.HashString(name)
		rt := dht.NewRoutingTable(id, 20)
		store, err := dht.OpenValueStoreWithFS(t.TempDir(), logging.NewNoOp(), vfs.NewMem())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		n := &node{id: id, addr: name, rt: rt, store: store}
		n.server = dht.NewServer(id, rt, store, 20, nil)
		n.client = dht.NewClient(id, tr, rt)
		tr.nodes[name] = n
	}

	// fully connect every node to every other in its routing table
	for _, a := range tr.nodes {
		for _, b := range tr.nodes {
			if a == b {
				continue
			}
			a.rt.Touch(b.id, b.addr)
		}
	}
	return tr.nodes, tr
}

func (n *node) peerInfo() dht.PeerInfo { return dht.PeerInfo{ID: n.id, Addr: n.addr} }

func TestClientPingUpdatesRoutingTable(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b")
	ctx := context.Background()

	err := nodes["a"].client.Ping(ctx, nodes["b"].peerInfo())
	require.NoError(t, err)
	require.True(t, nodes["a"].rt.Contains(nodes["b"].id))
}

func TestClientFindNodeReturnsPeerContacts(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b", "c")
	ctx := context.Background()

	target := dht.HashString("target")
	found, err := nodes["a"].client.FindNode(ctx, nodes["b"].peerInfo(), target)
	require.NoError(t, err)
	require.NotEmpty(t, found)
}

func TestClientStoreThenFindValue(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b")
	ctx := context.Background()

	key := dht.HashString("a-key")
	value := dht.Value{Data: []byte("hello"), StoredAtMs: uint64(time.Now().UnixMilli()), TTLSeconds: 3600, PublisherID: nodes["a"].id}

	require.NoError(t, nodes["a"].client.Store(ctx, nodes["b"].peerInfo(), key, value))

	got, nodesReturned, err := nodes["a"].client.FindValue(ctx, nodes["b"].peerInfo(), key)
	require.NoError(t, err)
	require.Nil(t, nodesReturned)
	require.NotNil(t, got)
	require.Equal(t, []byte("hello"), got.Data)
}

func TestClientFindValueMissingReturnsContacts(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b", "c")
	ctx := context.Background()

	value, contacts, err := nodes["a"].client.FindValue(ctx, nodes["b"].peerInfo(), dht.HashString("absent"))
	require.NoError(t, err)
	require.Nil(t, value)
	require.NotEmpty(t, contacts)
}

func TestClientMarksPeerFailedOnTransportError(t *testing.T) {
	nodes, tr := newTestNetwork(t, "a", "b")
	ctx := context.Background()
	delete(tr.nodes, "b") // simulate b going unreachable

	err := nodes["a"].client.Ping(ctx, nodes["b"].peerInfo())
	require.Error(t, err)

	// Each failed Ping costs b one strike; the third evicts it.
	for i := 1; i < 3; i++ {
		require.Error(t, nodes["a"].client.Ping(ctx, nodes["b"].peerInfo()))
	}
	require.False(t, nodes["a"].rt.Contains(nodes["b"].id))
}

func TestLookupNodeConvergesOnNetwork(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b", "c", "d", "e")
	ctx := context.Background()

	engine := dht.NewLookupEngine(nodes["a"].client, nodes["a"].rt, 3, 20, 8)
	target := dht.HashString("lookup-target")

	result, err := engine.LookupNode(ctx, target)
	require.NoError(t, err)
	require.NotEmpty(t, result)
}

func TestLookupValueFindsStoredRecord(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b", "c")
	ctx := context.Background()

	key := dht.HashString("shared-key")
	value := dht.Value{Data: []byte("found me"), StoredAtMs: uint64(time.Now().UnixMilli()), TTLSeconds: 3600}
	require.NoError(t, nodes["b"].store.Put(key, value))

	engine := dht.NewLookupEngine(nodes["a"].client, nodes["a"].rt, 3, 20, 8)
	found, _, err := engine.LookupValue(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, []byte("found me"), found.Data)
}

func TestLookupValueOpportunisticallyStoresAtMiss(t *testing.T) {
	nodes, _ := newTestNetwork(t, "a", "b", "c")
	ctx := context.Background()

	key := dht.HashString("shared-key-2")
	value := dht.Value{Data: []byte("spread me"), StoredAtMs: uint64(time.Now().UnixMilli()), TTLSeconds: 3600}
	require.NoError(t, nodes["b"].store.Put(key, value))

	engine := dht.NewLookupEngine(nodes["a"].client, nodes["a"].rt, 3, 20, 8)
	found, _, err := engine.LookupValue(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)

	_, err = nodes["c"].store.Get(key)
	require.NoError(t, err)
}
