package security

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultNonceWindow is how far a nonce's embedded time may drift from
	// the receiver clock in either direction.
	DefaultNonceWindow = 5 * time.Minute

	// DefaultNonceCapacity is the number of nonces remembered per signer.
	DefaultNonceCapacity = 10000

	nonceCounterBits = 20
	nonceCounterMask = 1<<nonceCounterBits - 1
)

// Clock supplies the receiver's notion of now.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// MakeNonce packs Unix milliseconds into the upper 44 bits and counter into
// the lower 20.
func MakeNonce(t time.Time, counter uint32) uint64 {
	return uint64(t.UnixMilli())<<nonceCounterBits | uint64(counter)&nonceCounterMask
}

// NonceTime extracts the issue time embedded in a nonce.
func NonceTime(nonce uint64) time.Time {
	return time.UnixMilli(int64(nonce >> nonceCounterBits))
}

// NonceSource issues strictly increasing nonces for one signing key.
type NonceSource struct {
	mu      sync.Mutex
	clock   Clock
	lastMs  uint64
	counter uint64
}

// NewNonceSource creates a source reading time from clock (SystemClock if nil).
func NewNonceSource(clock Clock) *NonceSource {
	if clock == nil {
		clock = SystemClock{}
	}
	return &NonceSource{clock: clock}
}

// Next returns the next nonce. When more than 2^20 nonces are requested in
// one millisecond, or the clock steps backwards, the embedded time runs
// ahead of the clock rather than repeating.
func (s *NonceSource) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := uint64(s.clock.Now().UnixMilli())
	if ms <= s.lastMs {
		ms = s.lastMs
		s.counter++
		if s.counter > nonceCounterMask {
			ms++
			s.counter = 0
		}
	} else {
		s.counter = 0
	}
	s.lastMs = ms
	return ms<<nonceCounterBits | s.counter
}

type nonceEntry struct {
	nonce   uint64
	expires time.Time
}

// nonceShard holds one signer's nonces in insertion order.
type nonceShard struct {
	mu    sync.Mutex
	seen  map[uint64]*list.Element
	order *list.List // *nonceEntry, oldest at front
}

// NonceStore remembers recently used (signer, nonce) pairs.
//
// Each signer has its own shard and lock; the store-wide lock only guards
// shard creation. Expired entries are popped from the front of a shard on
// insert. A shard at capacity evicts its oldest entry, so a signer issuing
// more than capacity nonces per window can replay the evicted ones; size
// capacity above the expected per-window call rate.
type NonceStore struct {
	window   time.Duration
	capacity int

	mu     sync.RWMutex
	shards map[string]*nonceShard
}

// NewNonceStore creates a store. Non-positive arguments take the defaults.
func NewNonceStore(window time.Duration, capacity int) *NonceStore {
	if window <= 0 {
		window = DefaultNonceWindow
	}
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	return &NonceStore{
		window:   window,
		capacity: capacity,
		shards:   make(map[string]*nonceShard),
	}
}

// Window returns the freshness window.
func (s *NonceStore) Window() time.Duration {
	return s.window
}

// Check accepts nonce for signer exactly once within the window.
//
// It returns ErrExpiredNonce when the nonce's embedded time is further than
// the window from now, ErrReplayedNonce when the pair was already accepted,
// and otherwise records the pair.
func (s *NonceStore) Check(signer string, nonce uint64, now time.Time) error {
	issued := NonceTime(nonce)
	if d := now.Sub(issued); d > s.window || d < -s.window {
		return fmt.Errorf("%w: issued %s, %s from receiver clock (window %s)",
			ErrExpiredNonce, issued.UTC().Format(time.RFC3339Nano), d.Round(time.Millisecond), s.window)
	}

	sh := s.shard(signer)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.evictExpired(now)
	if _, ok := sh.seen[nonce]; ok {
		return ErrReplayedNonce
	}
	if sh.order.Len() >= s.capacity {
		sh.evictOldest()
	}
	sh.seen[nonce] = sh.order.PushBack(&nonceEntry{nonce: nonce, expires: issued.Add(s.window)})
	return nil
}

// Prune sweeps expired entries from every shard and returns how many were
// removed. Shards themselves are kept for the life of the store.
func (s *NonceStore) Prune(now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for el := sh.order.Front(); el != nil; {
			next := el.Next()
			if e := el.Value.(*nonceEntry); now.After(e.expires) {
				sh.order.Remove(el)
				delete(sh.seen, e.nonce)
				removed++
			}
			el = next
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of remembered nonces across all signers.
func (s *NonceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.order.Len()
		sh.mu.Unlock()
	}
	return n
}

func (s *NonceStore) shard(signer string) *nonceShard {
	s.mu.RLock()
	sh, ok := s.shards[signer]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[signer]; !ok {
		sh = &nonceShard{seen: make(map[uint64]*list.Element), order: list.New()}
		s.shards[signer] = sh
	}
	return sh
}

// evictExpired pops expired entries from the front. Must be called with mu held.
func (sh *nonceShard) evictExpired(now time.Time) {
	for {
		front := sh.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*nonceEntry)
		if !now.After(e.expires) {
			return
		}
		sh.order.Remove(front)
		delete(sh.seen, e.nonce)
	}
}

// evictOldest removes the front entry. Must be called with mu held.
func (sh *nonceShard) evictOldest() {
	front := sh.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*nonceEntry)
	sh.order.Remove(front)
	delete(sh.seen, e.nonce)
}
