package dht

import (
	"context"
	"sort"
	"sync"
)

// LookupEngine drives the iterative, alpha-parallel node/value lookups
// that back both peer discovery and key resolution.
//
// Grounded on dht_config.rs's alpha/bucket_size/max_lookup_hops fields,
// which exist precisely to bound this algorithm; core_dht carries no
// lookup implementation in the retrieval pack, so the iteration shape
// (shortlist, round of alpha parallel queries, repeat until no closer
// contact is found or max_lookup_hops is hit) follows the standard
// Kademlia iterative lookup this config was clearly written for.
type LookupEngine struct {
	client       *Client
	routingTable *RoutingTable
	alpha        int
	bucketSize   int
	maxHops      int
}

// NewLookupEngine returns a lookup engine with the given Kademlia
// tuning parameters.
func NewLookupEngine(client *Client, routingTable *RoutingTable, alpha, bucketSize, maxHops int) *LookupEngine {
	return &LookupEngine{client: client, routingTable: routingTable, alpha: alpha, bucketSize: bucketSize, maxHops: maxHops}
}

type lookupResult struct {
	peer  PeerInfo
	nodes []PeerInfo
	value *Value
	err   error
}

// LookupNode iteratively queries the network for the bucketSize
// contacts closest to target, starting from the local routing table's
// own closest-known contacts.
func (e *LookupEngine) LookupNode(ctx context.Context, target Key) ([]PeerInfo, error) {
	shortlist := contactsToPeerInfo(e.routingTable.FindClosest(target, e.bucketSize))
	return e.iterate(ctx, target, shortlist, nil)
}

// LookupValue iteratively queries for key, returning the value as soon
// as any peer reports it, or the bucketSize closest contacts if no
// holder is found within maxHops. On a hit, it opportunistically STOREs
// the value at the closest contact queried this round that did not
// already have it, spreading replication toward the keyspace region
// around key the way a plain iterative lookup wouldn't.
func (e *LookupEngine) LookupValue(ctx context.Context, key Key) (*Value, []PeerInfo, error) {
	shortlist := contactsToPeerInfo(e.routingTable.FindClosest(key, e.bucketSize))
	var found *Value
	nodes, err := e.iterate(ctx, key, shortlist, &found)
	return found, nodes, err
}

// storeAtClosestMiss asks the closest peer in candidates that isn't
// holder to persist value for key, ignoring any failure: this is a
// best-effort replication nudge, not something a caller should have to
// handle errors for.
func (e *LookupEngine) storeAtClosestMiss(ctx context.Context, key Key, value Value, holder Key, candidates []PeerInfo) {
	var target *PeerInfo
	for i := range candidates {
		p := &candidates[i]
		if p.ID == holder || p.ID == e.client.localID {
			continue
		}
		if target == nil || p.ID.IsCloser(target.ID, key) {
			target = p
		}
	}
	if target == nil {
		return
	}
	_ = e.client.Store(ctx, *target, key, value)
}

// iterate runs rounds of up to alpha concurrent FIND_NODE (or
// FIND_VALUE, when foundValue is non-nil) queries against the closest
// unqueried contacts in the shortlist, merging each round's results
// back in, until a round produces no contact closer than the best
// already known, or maxHops is reached, or foundValue is populated.
func (e *LookupEngine) iterate(ctx context.Context, target Key, seed []PeerInfo, foundValue **Value) ([]PeerInfo, error) {
	shortlist := make(map[Key]PeerInfo, len(seed))
	for _, p := range seed {
		shortlist[p.ID] = p
	}
	queried := make(map[Key]struct{})

	closestDistance := func() (Key, bool) {
		best, ok := Key{}, false
		for id := range shortlist {
			if !ok || id.IsCloser(best, target) {
				best, ok = id, true
			}
		}
		return best, ok
	}

	for hop := 0; hop < e.maxHops; hop++ {
		batch := e.selectBatch(shortlist, queried, target)
		if len(batch) == 0 {
			break
		}

		bestBefore, hadBest := closestDistance()

		results := e.queryBatch(ctx, batch, target, foundValue != nil)
		for _, r := range results {
			queried[r.peer.ID] = struct{}{}
			if r.err != nil {
				continue
			}
			if foundValue != nil && r.value != nil {
				*foundValue = r.value
				e.storeAtClosestMiss(ctx, target, *r.value, r.peer.ID, batch)
				return e.sortedShortlist(shortlist, target), nil
			}
			for _, n := range r.nodes {
				if n.ID == e.client.localID {
					continue
				}
				shortlist[n.ID] = n
			}
		}

		bestAfter, hasBest := closestDistance()
		if hadBest && hasBest && bestAfter == bestBefore {
			break // no closer contact surfaced this round, converged
		}
	}

	return e.sortedShortlist(shortlist, target), nil
}

// selectBatch picks up to alpha unqueried contacts from shortlist,
// closest to target first.
func (e *LookupEngine) selectBatch(shortlist map[Key]PeerInfo, queried map[Key]struct{}, target Key) []PeerInfo {
	var candidates []PeerInfo
	for id, p := range shortlist {
		if _, done := queried[id]; !done {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.IsCloser(candidates[j].ID, target)
	})
	if len(candidates) > e.alpha {
		candidates = candidates[:e.alpha]
	}
	return candidates
}

func (e *LookupEngine) queryBatch(ctx context.Context, batch []PeerInfo, target Key, wantValue bool) []lookupResult {
	results := make([]lookupResult, len(batch))
	var wg sync.WaitGroup
	for i, peer := range batch {
		wg.Add(1)
		go func(i int, peer PeerInfo) {
			defer wg.Done()
			if wantValue {
				value, nodes, err := e.client.FindValue(ctx, peer, target)
				results[i] = lookupResult{peer: peer, nodes: nodes, value: value, err: err}
				return
			}
			nodes, err := e.client.FindNode(ctx, peer, target)
			results[i] = lookupResult{peer: peer, nodes: nodes, err: err}
		}(i, peer)
	}
	wg.Wait()
	return results
}

func (e *LookupEngine) sortedShortlist(shortlist map[Key]PeerInfo, target Key) []PeerInfo {
	out := make([]PeerInfo, 0, len(shortlist))
	for _, p := range shortlist {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.IsCloser(out[j].ID, target)
	})
	if len(out) > e.bucketSize {
		out = out[:e.bucketSize]
	}
	return out
}
