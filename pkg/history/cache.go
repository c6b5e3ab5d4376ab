// Package history keeps short-lived per-conversation chat context.
// Conversations idle past the TTL vanish; when too many conversations are
// live at once the least recently used one is evicted first. Losing an
// entry only costs conversational context, never documents.
package history

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/seynadio/chatbridge/pkg/logger"
)

// Role tags who produced a turn.
type Role string

const (
	RoleHuman Role = "Human"
	RoleAI    Role = "AI"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    Role
	Content string
}

const (
	DefaultTTL              = 4 * time.Hour
	DefaultMaxConversations = 64
)

type entry struct {
	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
}

// Cache is a TTL-and-capacity bounded store of conversation transcripts
// keyed by conversation id. All methods are safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, *entry]
	ttl time.Duration
	mu  sync.Mutex
}

func NewCache(maxConversations int, ttl time.Duration) *Cache {
	if maxConversations <= 0 {
		maxConversations = DefaultMaxConversations
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	onEvict := func(key string, _ *entry) {
		logger.DebugCF("history", "conversation evicted", map[string]interface{}{
			"conversation": key,
		})
	}
	return &Cache{
		lru: expirable.NewLRU[string, *entry](maxConversations, onEvict, ttl),
		ttl: ttl,
	}
}

// GetOrCreate returns a copy of the conversation's turns, creating an
// empty conversation if none exists. Access counts as activity, so the
// idle clock restarts.
func (c *Cache) GetOrCreate(conversationID string) []Turn {
	e := c.touch(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

// Append adds turns to a conversation, creating it if needed.
func (c *Cache) Append(conversationID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	e := c.touch(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, turns...)
}

// Recent returns up to n of the newest turns, oldest first. n <= 0
// returns everything.
func (c *Cache) Recent(conversationID string, n int) []Turn {
	turns := c.GetOrCreate(conversationID)
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// Clear drops one conversation. Returns true when something was removed.
func (c *Cache) Clear(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(conversationID)
}

// Len reports how many conversations are currently live.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep evicts conversations idle longer than the TTL. The underlying
// LRU expires entries on its own clock too; the maintenance scheduler
// calls this so idle transcripts are released promptly rather than at
// next access.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		e.mu.Lock()
		idle := now.Sub(e.lastActive)
		e.mu.Unlock()
		if idle > c.ttl {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		logger.InfoCF("history", "swept idle conversations", map[string]interface{}{
			"removed": removed,
			"live":    c.lru.Len(),
		})
	}
	return removed
}

// touch fetches or creates the entry and restarts both idle clocks, the
// entry's own and the LRU bucket's. Add on an existing key resets the
// library's expiry.
func (c *Cache) touch(conversationID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(conversationID)
	if !ok {
		e = &entry{}
	}
	e.mu.Lock()
	e.lastActive = time.Now()
	e.mu.Unlock()
	c.lru.Add(conversationID, e)
	return e
}
