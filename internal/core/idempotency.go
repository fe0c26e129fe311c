package core

import (
	"container/list"
	"fmt"
)

// CommandDeduper implements two-tier deduplication: an in-memory LRU for
// the hot path and a Postgres lookup for keys that aged out of the cache.
type CommandDeduper struct {
	lru       *dedupLRU
	dbChecker DBDedupChecker

	lruHits      int64
	postgresHits int64
	tier2Errors  int64
}

// DBDedupChecker is the interface for the Postgres dedup lookup
type DBDedupChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewCommandDeduper(capacity int, dbChecker DBDedupChecker) *CommandDeduper {
	return &CommandDeduper{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks if the command has already been processed.
func (d *CommandDeduper) IsDuplicate(commandType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", commandType, idempotencyKey)

	if d.lru.Contains(compositeKey) {
		d.lruHits++
		return true
	}

	if d.dbChecker != nil {
		isDup, err := d.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if err != nil {
			// Conservative: a DB fault must not block command processing.
			// The command log's unique constraint is the backstop.
			d.tier2Errors++
			return false
		}
		if isDup {
			d.postgresHits++
			d.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds the key to the LRU after successful processing
func (d *CommandDeduper) MarkProcessed(commandType string, idempotencyKey string) {
	d.lru.Add(fmt.Sprintf("%s:%s", commandType, idempotencyKey))
}

// WarmFromKeys preloads composite keys, used at startup to avoid cold-path
// DB lookups for recently committed commands.
func (d *CommandDeduper) WarmFromKeys(keys []string) {
	d.lru.warm(keys)
}

// Keys returns every cached composite key, for snapshots.
func (d *CommandDeduper) Keys() []string {
	return d.lru.keys()
}

// Stats reports hit counters for diagnostics.
func (d *CommandDeduper) Stats() (lruHits, postgresHits, tier2Errors int64) {
	return d.lruHits, d.postgresHits, d.tier2Errors
}

// dedupLRU is an LRU cache of idempotency keys.
// Not thread-safe, only accessed from the single-threaded engine.
type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *dedupLRU) Contains(key string) bool {
	elem, exists := l.cache[key]
	if exists {
		l.order.MoveToFront(elem)
		return true
	}
	return false
}

func (l *dedupLRU) Add(key string) {
	if elem, exists := l.cache[key]; exists {
		l.order.MoveToFront(elem)
		return
	}

	elem := l.order.PushFront(key)
	l.cache[key] = elem

	if l.order.Len() > l.capacity {
		l.evictOldest()
	}
}

func (l *dedupLRU) evictOldest() {
	elem := l.order.Back()
	if elem != nil {
		l.order.Remove(elem)
		delete(l.cache, elem.Value.(string))
	}
}

func (l *dedupLRU) warm(keys []string) {
	for _, key := range keys {
		l.Add(key)
	}
}

func (l *dedupLRU) keys() []string {
	out := make([]string, 0, l.order.Len())
	for elem := l.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(string))
	}
	return out
}
