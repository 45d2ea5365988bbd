package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/spacepanda/core/utils/linked"
)

// Contact is a known peer: its key-space identity, network address, and
// liveness bookkeeping used for LRU eviction within a bucket.
type Contact struct {
	ID       Key
	Addr     string
	LastSeen time.Time
	Fails    int
}

// maxConsecutiveFails is how many probe failures in a row mark a
// contact stale enough to evict outright rather than keep retrying.
const maxConsecutiveFails = 3

type bucket struct {
	list  *linked.List[*Contact]
	index map[Key]*linked.ListNode[*Contact]
}

func newBucket() *bucket {
	return &bucket{list: linked.NewList[*Contact](), index: make(map[Key]*linked.ListNode[*Contact])}
}

// RoutingTable is a Kademlia routing table of 256 k-buckets (one per bit
// of the keyspace), each holding at most bucketSize contacts ordered
// least- to most-recently-seen.
//
// Grounded on client.rs's touch/mark_failed calls (the routing table
// interface the DHT client expects) and dht_key.rs's bucket_index
// scheme; bucket LRU ordering uses luxfi-consensus's utils/linked.List
// directly, paired with an index map for O(1) lookup by id.
type RoutingTable struct {
	mu         sync.Mutex
	localID    Key
	bucketSize int
	buckets    [KeySize * 8]*bucket
}

// NewRoutingTable returns an empty routing table for localID with k
// contacts per bucket.
func NewRoutingTable(localID Key, bucketSize int) *RoutingTable {
	return &RoutingTable{localID: localID, bucketSize: bucketSize}
}

func (rt *RoutingTable) bucketFor(id Key) *bucket {
	idx := id.BucketIndex(rt.localID)
	b := rt.buckets[idx]
	if b == nil {
		b = newBucket()
		rt.buckets[idx] = b
	}
	return b
}

// Touch records a successful contact with id, moving it to the
// most-recently-seen end of its bucket. If id is new and its bucket is
// already full, Touch does not evict anything and reports false; the
// caller should probe LeastRecentlySeen before deciding to replace it.
func (rt *RoutingTable) Touch(id Key, addr string) bool {
	if id.Equal(rt.localID) {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.bucketFor(id)
	if node, ok := b.index[id]; ok {
		node.Value.LastSeen = time.Now()
		node.Value.Fails = 0
		node.Value.Addr = addr
		b.list.Remove(node)
		b.index[id] = b.list.PushBack(node.Value)
		return true
	}

	if b.list.Len() >= rt.bucketSize {
		return false
	}

	c := &Contact{ID: id, Addr: addr, LastSeen: time.Now()}
	b.index[id] = b.list.PushBack(c)
	return true
}

// MarkFailed records a failed probe of id. After maxConsecutiveFails in
// a row the contact is evicted, freeing its bucket slot for a
// newly-discovered peer.
func (rt *RoutingTable) MarkFailed(id Key) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.bucketFor(id)
	node, ok := b.index[id]
	if !ok {
		return
	}
	node.Value.Fails++
	if node.Value.Fails >= maxConsecutiveFails {
		b.list.Remove(node)
		delete(b.index, id)
	}
}

// Remove evicts id from the routing table unconditionally.
func (rt *RoutingTable) Remove(id Key) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.bucketFor(id)
	if node, ok := b.index[id]; ok {
		b.list.Remove(node)
		delete(b.index, id)
	}
}

// LeastRecentlySeen returns the stalest contact in id's bucket, the
// candidate to probe before evicting it in favor of a new contact.
func (rt *RoutingTable) LeastRecentlySeen(id Key) (Contact, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.bucketFor(id)
	front := b.list.Front()
	if front == nil {
		return Contact{}, false
	}
	return *front.Value, true
}

// Contains reports whether id is currently tracked.
func (rt *RoutingTable) Contains(id Key) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.bucketFor(id).index[id]
	return ok
}

// FindClosest returns up to count contacts closest to target across the
// whole table, sorted nearest-first.
func (rt *RoutingTable) FindClosest(target Key, count int) []Contact {
	rt.mu.Lock()
	var all []Contact
	for _, b := range rt.buckets {
		if b == nil {
			continue
		}
		for node := b.list.Front(); node != nil; node = node.Next {
			all = append(all, *node.Value)
		}
	}
	rt.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.IsCloser(all[j].ID, target)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// RemoveStalePeers evicts and returns every contact not seen within
// staleAfter, across all buckets.
func (rt *RoutingTable) RemoveStalePeers(staleAfter time.Duration) []Key {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	var removed []Key
	for _, b := range rt.buckets {
		if b == nil {
			continue
		}
		var toRemove []*linked.ListNode[*Contact]
		for node := b.list.Front(); node != nil; node = node.Next {
			if node.Value.LastSeen.Before(cutoff) {
				toRemove = append(toRemove, node)
			}
		}
		for _, node := range toRemove {
			removed = append(removed, node.Value.ID)
			b.list.Remove(node)
			delete(b.index, node.Value.ID)
		}
	}
	return removed
}

// Len returns the total number of tracked contacts.
func (rt *RoutingTable) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	total := 0
	for _, b := range rt.buckets {
		if b != nil {
			total += b.list.Len()
		}
	}
	return total
}
