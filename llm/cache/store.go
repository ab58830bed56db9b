package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Store 键值存储契约。Get 未命中返回 ok=false 且 err=nil。
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// ============================================================
// LRU 本地缓存实现（使用双向链表实现 O(1) 操作）
// ============================================================

// MemoryStore 进程内 LRU 存储，条目按各自 TTL 过期
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
	now      func() time.Time
}

type lruNode struct {
	key       string
	value     string
	expiresAt time.Time // 零值表示不过期
	prev      *lruNode
	next      *lruNode
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore capacity <= 0 时取 1000
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*lruNode),
		now:      time.Now,
	}
}

func (c *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	if c.expired(node) {
		c.unlink(node)
		return "", false, nil
	}

	c.moveToHead(node)
	return node.value, true, nil
}

func (c *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if node, ok := c.items[key]; ok {
		node.value = value
		node.expiresAt = expiresAt
		c.moveToHead(node)
		return nil
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{key: key, value: value, expiresAt: expiresAt}
	c.items[key] = node
	c.addToHead(node)
	return nil
}

// KeysMatching 支持 * 与 ? 通配及反斜杠转义
func (c *MemoryStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for k, node := range c.items {
		if c.expired(node) {
			c.unlink(node)
			continue
		}
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *MemoryStore) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		if node, ok := c.items[k]; ok {
			c.unlink(node)
		}
	}
	return nil
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *MemoryStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryStore) expired(node *lruNode) bool {
	return !node.expiresAt.IsZero() && !c.now().Before(node.expiresAt)
}

func (c *MemoryStore) unlink(node *lruNode) {
	c.removeNode(node)
	delete(c.items, node.key)
}

// addToHead 添加节点到头部 O(1)
func (c *MemoryStore) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *MemoryStore) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *MemoryStore) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *MemoryStore) evictTail() {
	if c.tail == nil {
		return
	}
	c.unlink(c.tail)
}

// globToRegexp 将 Redis 风格 glob（* ? \x）转为锚定正则
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			b.WriteString(".*")
		case r == '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
