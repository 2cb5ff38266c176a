package storage

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	fcommon "github.com/fediconductor/conductor/common"
)

// inmemorySeenMessages bounds the seen-message cache independent of its TTL,
// mirroring the ancestor's fixed-capacity lru.ARC sizing in
// consensus/dpos/dpos.go (inmemorySnapshots/inmemorySignatures).
const inmemorySeenMessages = 1 << 16
const inmemoryIdempotencyKeys = 1 << 14

type ttlEntry struct {
	value   interface{}
	expires time.Time
}

// ttlCache wraps an ARC cache with a wall-clock TTL. It is deliberately
// in-memory only: spec §1/§3 forbid wall-clock timestamps anywhere in
// persisted state, and this cache is never written to the bbolt store in
// storage.go.
type ttlCache struct {
	mu    sync.Mutex
	arc   *lru.ARCCache
	ttl   time.Duration
	nowFn func() time.Time
}

func newTTLCache(size int, ttl time.Duration, nowFn func() time.Time) *ttlCache {
	arc, _ := lru.NewARC(size)
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ttlCache{arc: arc, ttl: ttl, nowFn: nowFn}
}

func (c *ttlCache) get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.arc.Get(key)
	if !ok {
		return nil, false
	}
	entry := raw.(ttlEntry)
	if c.nowFn().After(entry.expires) {
		c.arc.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) put(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arc.Add(key, ttlEntry{value: value, expires: c.nowFn().Add(c.ttl)})
}

// SeenMessageCache rejects replays within TTL, keyed by (sender,
// message_hash) (spec §4.9, §8 property 8).
type SeenMessageCache struct {
	cache *ttlCache
}

// NewSeenMessageCache builds a cache with the given TTL (spec §6
// seen_cache_ttl_ms).
func NewSeenMessageCache(ttl time.Duration) *SeenMessageCache {
	return &SeenMessageCache{cache: newTTLCache(inmemorySeenMessages, ttl, nil)}
}

type seenKey struct {
	sender fcommon.ValidatorID
	digest fcommon.Hash
}

// CheckAndMark reports whether (sender, digest) has been seen within TTL;
// if not, it is recorded and false is returned, meaning "not a replay,
// proceed."
func (c *SeenMessageCache) CheckAndMark(sender fcommon.ValidatorID, digest fcommon.Hash) (replay bool) {
	key := seenKey{sender: sender, digest: digest}
	if _, ok := c.cache.get(key); ok {
		return true
	}
	c.cache.put(key, struct{}{})
	return false
}

// IdempotencyCache implements the 24-hour idempotency window for
// submit_event_batch (spec §6, §8 property 6): a repeated idempotency_key
// within TTL returns the original batch_id rather than admitting a second
// batch.
type IdempotencyCache struct {
	cache *ttlCache
}

// NewIdempotencyCache builds a cache with the given TTL.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{cache: newTTLCache(inmemoryIdempotencyKeys, ttl, nil)}
}

// GetOrInsert returns the batch_id previously associated with key if present
// and unexpired, otherwise associates key with batchID and returns it.
func (c *IdempotencyCache) GetOrInsert(key string, batchID fcommon.Hash) fcommon.Hash {
	if existing, ok := c.cache.get(key); ok {
		return existing.(fcommon.Hash)
	}
	c.cache.put(key, batchID)
	return batchID
}
