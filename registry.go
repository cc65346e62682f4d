package xdispatch

import (
	"sort"
	"sync"
)

// subscriptionRegistry owns the active subscription set. It is read-mostly:
// mutations rebuild immutable per-prefix buckets under the write lock, and
// find only takes the read lock to grab a consistent snapshot, so a
// concurrent register/unregister mid-fan-out can never produce a partial or
// duplicate view for one publish.
type subscriptionRegistry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	regSeq uint64

	// buckets[prefix] holds subscriptions whose pattern starts with that
	// static segment; wildcardFirst holds patterns starting with * or #.
	// Both are sorted by priority desc, registration order asc, and are
	// replaced wholesale on every mutation (copy-on-write).
	buckets       map[string][]*Subscription
	wildcardFirst []*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs:    make(map[string]*Subscription),
		buckets: make(map[string][]*Subscription),
	}
}

func (r *subscriptionRegistry) register(s *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.subs[s.id]; dup {
		return &DuplicateIDError{ID: s.id}
	}
	r.regSeq++
	s.regIndex = r.regSeq
	r.subs[s.id] = s
	r.rebuildLocked()
	return nil
}

// unregister removes the subscription and drains its already-admitted
// records: workers finish the backlog, future matching stops immediately.
func (r *subscriptionRegistry) unregister(id string) bool {
	r.mu.Lock()
	s, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		r.rebuildLocked()
	}
	r.mu.Unlock()

	if ok && s.closed.CompareAndSwap(false, true) {
		s.queue.close(true)
	}
	return ok
}

// find returns the matching subscriptions for topic, ordered by descending
// priority with ties broken by registration order. The returned slice is a
// fresh snapshot safe to iterate without locks.
func (r *subscriptionRegistry) find(topic string) []*Subscription {
	first, _, _ := cutFirstSegment(topic)

	r.mu.RLock()
	bucket := r.buckets[first]
	wild := r.wildcardFirst
	r.mu.RUnlock()

	out := make([]*Subscription, 0, len(bucket)+len(wild))
	// Both inputs are pre-sorted; merge keeps the combined order.
	i, j := 0, 0
	for i < len(bucket) || j < len(wild) {
		var next *Subscription
		switch {
		case i == len(bucket):
			next, j = wild[j], j+1
		case j == len(wild):
			next, i = bucket[i], i+1
		case subLess(bucket[i], wild[j]):
			next, i = bucket[i], i+1
		default:
			next, j = wild[j], j+1
		}
		if MatchTopic(next.pattern, topic) {
			out = append(out, next)
		}
	}
	return out
}

func (r *subscriptionRegistry) get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

func (r *subscriptionRegistry) all() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return subLess(out[i], out[j]) })
	return out
}

func (r *subscriptionRegistry) closeAll() []*Subscription {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*Subscription)
	r.rebuildLocked()
	r.mu.Unlock()

	for _, s := range subs {
		if s.closed.CompareAndSwap(false, true) {
			s.queue.close(false)
		}
	}
	return subs
}

func (r *subscriptionRegistry) rebuildLocked() {
	buckets := make(map[string][]*Subscription, len(r.buckets))
	var wild []*Subscription
	for _, s := range r.subs {
		if p := staticPrefix(s.pattern); p != "" {
			buckets[p] = append(buckets[p], s)
		} else {
			wild = append(wild, s)
		}
	}
	for _, b := range buckets {
		sort.Slice(b, func(i, j int) bool { return subLess(b[i], b[j]) })
	}
	sort.Slice(wild, func(i, j int) bool { return subLess(wild[i], wild[j]) })
	r.buckets = buckets
	r.wildcardFirst = wild
}

func subLess(a, b *Subscription) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.regIndex < b.regIndex
}

func cutFirstSegment(topic string) (string, string, bool) {
	for i := 0; i < len(topic); i++ {
		if topic[i] == Delimiter[0] {
			return topic[:i], topic[i+1:], true
		}
	}
	return topic, "", false
}
