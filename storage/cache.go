package storage

import (
	"container/list"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/eak1mov/go-tilebuf/tile"
)

const cacheShards = 16

// tileCache is an LRU of live tiles. Every cached tile carries one
// reference owned by the cache. Only tiles nobody else references are
// evicted; eviction stores a dirty tile and releases the cache's reference.
type tileCache struct {
	shards   [cacheShards]cacheShard
	capacity int // per shard

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[tile.ID]*list.Element
	lru     *list.List // front = most recent
}

// CacheStats contains cache statistics for monitoring.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func newTileCache(capacity int) *tileCache {
	c := &tileCache{capacity: max(1, (capacity+cacheShards-1)/cacheShards)}
	for i := range c.shards {
		c.shards[i].entries = make(map[tile.ID]*list.Element)
		c.shards[i].lru = list.New()
	}
	return c
}

func (c *tileCache) shard(id tile.ID) *cacheShard {
	var key [24]byte
	binary.LittleEndian.PutUint64(key[0:], uint64(id.X))
	binary.LittleEndian.PutUint64(key[8:], uint64(id.Y))
	binary.LittleEndian.PutUint64(key[16:], uint64(id.Z))
	return &c.shards[xxhash.Sum64(key[:])%cacheShards]
}

// get returns a new reference to the cached tile.
func (c *tileCache) get(id tile.ID) (*tile.Tile, bool) {
	s := c.shard(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	s.lru.MoveToFront(e)
	t := e.Value.(*tile.Tile).Ref()
	s.mu.Unlock()

	c.hits.Add(1)
	return t, true
}

func (c *tileCache) contains(id tile.ID) bool {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// insert hands one reference of t to the cache and returns the tile the
// caller should use, with a reference for the caller. When another tile was
// cached under the same ID in the meantime, t is released and the cached
// one wins.
func (c *tileCache) insert(t *tile.Tile) *tile.Tile {
	s := c.shard(t.ID())
	var evicted []*tile.Tile

	s.mu.Lock()
	if e, ok := s.entries[t.ID()]; ok {
		s.lru.MoveToFront(e)
		existing := e.Value.(*tile.Tile).Ref()
		s.mu.Unlock()
		t.Release()
		return existing
	}
	s.entries[t.ID()] = s.lru.PushFront(t)
	result := t.Ref()
	// Tiles referenced outside the cache stay cached, so that a later
	// GetTile returns the same tile instead of a second copy. The shard may
	// grow past capacity until those references are released.
	for e := s.lru.Back(); e != nil && s.lru.Len() > c.capacity; {
		prev := e.Prev()
		if victim := e.Value.(*tile.Tile); !victim.Shared() {
			s.lru.Remove(e)
			delete(s.entries, victim.ID())
			evicted = append(evicted, victim)
		}
		e = prev
	}
	s.mu.Unlock()

	// Storing must not happen under the shard lock.
	for _, victim := range evicted {
		c.evictions.Add(1)
		victim.Store()
		victim.Release()
	}
	return result
}

// remove takes the tile out of the cache and returns the cache's reference.
func (c *tileCache) remove(id tile.ID) (*tile.Tile, bool) {
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)
	return s.lru.Remove(e).(*tile.Tile), true
}

// snapshot returns a new reference to every cached tile.
func (c *tileCache) snapshot() []*tile.Tile {
	var tiles []*tile.Tile
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for e := s.lru.Front(); e != nil; e = e.Next() {
			tiles = append(tiles, e.Value.(*tile.Tile).Ref())
		}
		s.mu.Unlock()
	}
	return tiles
}

// drain empties the cache and returns the cache's references.
func (c *tileCache) drain() []*tile.Tile {
	var tiles []*tile.Tile
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for e := s.lru.Front(); e != nil; e = e.Next() {
			tiles = append(tiles, e.Value.(*tile.Tile))
		}
		s.entries = make(map[tile.ID]*list.Element)
		s.lru.Init()
		s.mu.Unlock()
	}
	return tiles
}

func (c *tileCache) stats() CacheStats {
	entries := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		entries += s.lru.Len()
		s.mu.Unlock()
	}
	return CacheStats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
