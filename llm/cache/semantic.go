package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/llm"
	"go.uber.org/zap"
)

// Entry 缓存条目
type Entry struct {
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Config 语义缓存配置
type Config struct {
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	MinLength int           `yaml:"min_length" json:"min_length"`
	MaxLength int           `yaml:"max_length" json:"max_length"`
	Window    int           `yaml:"window" json:"window"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TTL:       time.Hour,
		MinLength: DefaultMinLength,
		MaxLength: DefaultMaxLength,
		Window:    DefaultWindow,
	}
}

// SemanticCache 语义缓存。所有存储错误在内部记录并吞掉。
type SemanticCache struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewSemanticCache 创建语义缓存；零值配置项取默认值
func NewSemanticCache(store Store, cfg Config, logger *zap.Logger) *SemanticCache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "semantic_cache")),
		now:    time.Now,
	}
}

// SkipReason 返回不可缓存原因，SkipNone 表示可缓存
func (c *SemanticCache) SkipReason(msgs []llm.Message) SkipReason {
	return Check(msgs, c.cfg.MinLength, c.cfg.MaxLength)
}

// IsCacheable 请求是否可缓存
func (c *SemanticCache) IsCacheable(msgs []llm.Message) bool {
	return c.SkipReason(msgs) == SkipNone
}

// Key 生成缓存键
func (c *SemanticCache) Key(modelID string, msgs []llm.Message, conversationID string) string {
	return BuildKey(modelID, msgs, conversationID, c.cfg.Window)
}

// Get 查找缓存。不可缓存时不访问存储。
func (c *SemanticCache) Get(ctx context.Context, modelID string, msgs []llm.Message, conversationID string) (string, bool) {
	if c == nil || c.store == nil || !c.IsCacheable(msgs) {
		return "", false
	}
	key := c.Key(modelID, msgs, conversationID)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		c.logger.Debug("cache miss", zap.String("key", key))
		return "", false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cache entry corrupted", zap.String("key", key), zap.Error(err))
		return "", false
	}
	c.logger.Debug("cache hit", zap.String("key", key))
	return entry.Content, true
}

// Set 写入缓存；ttl <= 0 时使用默认 TTL。空响应不写入。
func (c *SemanticCache) Set(ctx context.Context, modelID string, msgs []llm.Message, conversationID, content string, ttl time.Duration) {
	if c == nil || c.store == nil || content == "" || !c.IsCacheable(msgs) {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	key := c.Key(modelID, msgs, conversationID)

	data, err := json.Marshal(Entry{Content: content, Model: modelID, CreatedAt: c.now()})
	if err != nil {
		c.logger.Warn("cache entry marshal failed", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, string(data), ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateModel 删除某模型的全部条目（共享与会话作用域），返回删除数量
func (c *SemanticCache) InvalidateModel(ctx context.Context, modelID string) (int, error) {
	return c.invalidate(ctx, KeyPrefix+EscapeGlob(modelID)+":*")
}

// InvalidateConversation 删除某会话在所有模型下的条目
func (c *SemanticCache) InvalidateConversation(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("conversation id is required")
	}
	return c.invalidate(ctx, KeyPrefix+"*:"+EscapeGlob(Scope(conversationID))+":*")
}

func (c *SemanticCache) invalidate(ctx context.Context, pattern string) (int, error) {
	keys, err := c.store.KeysMatching(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("match keys %q: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete %d keys: %w", len(keys), err)
	}
	c.logger.Info("cache invalidated", zap.String("pattern", pattern), zap.Int("keys", len(keys)))
	return len(keys), nil
}
