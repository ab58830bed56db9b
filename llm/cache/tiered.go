package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BackfillTTL L2 命中回填 L1 时的 TTL 上限。远端剩余寿命未知，回填副本只保留很短时间。
const BackfillTTL = 30 * time.Second

// TieredStore 本地 L1 + 远端 L2。远端是权威来源，L1 只做加速。
type TieredStore struct {
	local  Store
	remote Store
	// localTTL L1 回填与写入的 TTL 上限
	localTTL time.Duration
	logger   *zap.Logger
}

var _ Store = (*TieredStore)(nil)

func NewTieredStore(local, remote Store, localTTL time.Duration, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TieredStore{local: local, remote: remote, localTTL: localTTL, logger: logger}
}

func (t *TieredStore) l1TTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < t.localTTL {
		return ttl
	}
	return t.localTTL
}

func (t *TieredStore) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok, err := t.local.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}

	v, ok, err := t.remote.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	// 回填 L1
	if err := t.local.Set(ctx, key, v, t.l1TTL(BackfillTTL)); err != nil {
		t.logger.Debug("local backfill failed", zap.Error(err))
	}
	return v, true, nil
}

func (t *TieredStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := t.local.Set(ctx, key, value, t.l1TTL(ttl)); err != nil {
		t.logger.Debug("local set failed", zap.Error(err))
	}
	return t.remote.Set(ctx, key, value, ttl)
}

// KeysMatching 合并两级结果并去重
func (t *TieredStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	remote, err := t.remote.KeysMatching(ctx, pattern)
	if err != nil {
		return nil, err
	}
	local, err := t.local.KeysMatching(ctx, pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(remote)+len(local))
	out := make([]string, 0, len(remote)+len(local))
	for _, k := range append(remote, local...) {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

func (t *TieredStore) Delete(ctx context.Context, keys ...string) error {
	if err := t.local.Delete(ctx, keys...); err != nil {
		t.logger.Debug("local delete failed", zap.Error(err))
	}
	return t.remote.Delete(ctx, keys...)
}
