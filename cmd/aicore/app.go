package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/aicore/config"
	rediscache "github.com/BaSui01/aicore/internal/cache"
	"github.com/BaSui01/aicore/internal/database"
	"github.com/BaSui01/aicore/internal/ledger"
	"github.com/BaSui01/aicore/internal/metrics"
	"github.com/BaSui01/aicore/internal/telemetry"
	"github.com/BaSui01/aicore/internal/tlsutil"
	"github.com/BaSui01/aicore/internal/wallet"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/cache"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/llm/image"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/orchestrator"
	"github.com/BaSui01/aicore/llm/providers/anthropic"
	"github.com/BaSui01/aicore/llm/providers/openaicompat"
	"github.com/BaSui01/aicore/llm/retry"
	"github.com/BaSui01/aicore/llm/speech"
	"github.com/BaSui01/aicore/llm/tokenizer"
	"github.com/BaSui01/aicore/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	probeTimeout         = 10 * time.Second
)

// app 装配完成的运行时依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	otel     *telemetry.Providers
	registry *llm.ProviderRegistry
	health   *llm.HealthStore
	catalog  *catalog.Catalog
	pool     *database.PoolManager
	wallets  *wallet.Service
	ledger   *ledger.Ledger
	redis    *rediscache.Manager
	metrics  *metrics.Collector
	promReg  *prometheus.Registry
	orch     *orchestrator.Orchestrator
}

// newApp 按配置装配依赖。失败时已打开的资源会被关闭。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.otel, err = telemetry.Init(cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		err = nil
	}

	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.promReg, logger)
	}

	if err = a.openStorage(ctx); err != nil {
		return a, err
	}

	semantic, err := a.buildCache()
	if err != nil {
		return a, err
	}

	tokens := tokenizer.NewRegistry()
	tokens.RegisterOpenAI()

	a.registry, err = buildRegistry(cfg.Providers, tokens, logger)
	if err != nil {
		return a, err
	}
	a.health = llm.NewHealthStore(logger)
	if a.registry.Len() > 0 {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		a.health.Refresh(probeCtx, a.registry.Probes())
		cancel()
	}

	a.catalog = catalog.New(a.health, logger)
	models, err := cfg.CatalogModels()
	if err != nil {
		return a, err
	}
	if err = a.catalog.Replace(models); err != nil {
		return a, err
	}

	rates, err := cfg.FallbackRates()
	if err != nil {
		return a, err
	}
	pricer := metering.NewPricer(a.catalog, rates)
	estimator := metering.NewEstimator(pricer, tokens)
	if cfg.Metering.TextOutputRatio > 0 {
		estimator.OutputRatio = cfg.Metering.TextOutputRatio
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Catalog:       a.catalog,
		Registry:      a.registry,
		Estimator:     estimator,
		Enforcer:      metering.NewEnforcer(a.wallets, a.ledger, pricer, logger),
		Cache:         semantic,
		CacheTTL:      cfg.Cache.TTL,
		RetryPolicy:   retryPolicy(cfg.Retry),
		Metrics:       a.metrics,
		Logger:        logger,
		DefaultModels: defaultModels(cfg),
		SmartRouting:  cfg.Routing.SmartRouting,
	})
	return a, err
}

// openStorage 打开数据库，钱包与账本共用同一连接池
func (a *app) openStorage(ctx context.Context) error {
	dbCfg := a.cfg.Database
	db, err := database.Open(database.Config{Driver: dbCfg.Driver, DSN: dbCfg.DSN()}, a.logger)
	if err != nil {
		return err
	}

	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	a.pool, err = database.NewPoolManager(db, poolCfg, a.logger)
	if err != nil {
		return err
	}
	if a.metrics != nil {
		driver := dbCfg.Driver
		a.pool.OnStats(func(s database.PoolStats) {
			a.metrics.RecordDBConnections(driver, s.OpenConnections, s.Idle)
		})
	}

	a.wallets = wallet.New(a.pool, a.logger)
	a.ledger = ledger.New(a.pool.DB(), a.logger)
	if dbCfg.AutoMigrate {
		if err := a.wallets.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// buildCache 本地 LRU 作为 L1；启用 Redis 时作为 L2 共享
func (a *app) buildCache() (*cache.SemanticCache, error) {
	cc := a.cfg.Cache
	if !cc.Enabled {
		return nil, nil
	}
	var store cache.Store = cache.NewMemoryStore(cc.LocalCapacity)

	if rc := a.cfg.Redis; rc.Enabled {
		mcfg := rediscache.DefaultConfig()
		mcfg.Addr = rc.Addr
		mcfg.Password = rc.Password
		mcfg.DB = rc.DB
		mcfg.DefaultTTL = cc.TTL
		if rc.PoolSize > 0 {
			mcfg.PoolSize = rc.PoolSize
		}
		mcfg.MinIdleConns = rc.MinIdleConns
		if rc.TLS {
			mcfg.TLS = tlsutil.RedisTLSConfig("")
		}
		m, err := rediscache.NewManager(mcfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.redis = m
		store = cache.NewTieredStore(store, cache.NewRedisStore(m), cc.LocalTTL, a.logger)
	}

	scfg := cache.DefaultConfig()
	if cc.TTL > 0 {
		scfg.TTL = cc.TTL
	}
	if cc.MinLength > 0 {
		scfg.MinLength = cc.MinLength
	}
	if cc.MaxLength > 0 {
		scfg.MaxLength = cc.MaxLength
	}
	if cc.Window > 0 {
		scfg.Window = cc.Window
	}
	return cache.NewSemanticCache(store, scfg, a.logger), nil
}

// buildRegistry 按 provider 类型注册各能力的适配器
func buildRegistry(providers map[string]config.ProviderConfig, tokens *tokenizer.Registry, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	reg := llm.NewProviderRegistry()
	for id, pc := range providers {
		var adapters map[types.Capability]llm.Adapter
		switch pc.Kind {
		case config.ProviderKindOpenAI:
			base := pc.BaseURL
			if base == "" {
				base = defaultOpenAIBaseURL
			}
			chat := openaicompat.New(openaicompat.Config{
				ProviderName: id,
				APIKey:       pc.APIKey,
				BaseURL:      base,
				Timeout:      pc.Timeout,
			}, logger).WithTokenizer(tokens)

			img := image.DefaultOpenAIConfig()
			img.APIKey, img.BaseURL = pc.APIKey, base
			tts := speech.DefaultOpenAITTSConfig()
			tts.APIKey, tts.BaseURL = pc.APIKey, base
			stt := speech.DefaultOpenAISTTConfig()
			stt.APIKey, stt.BaseURL = pc.APIKey, base
			if pc.Timeout > 0 {
				img.Timeout, tts.Timeout, stt.Timeout = pc.Timeout, pc.Timeout, pc.Timeout
			}

			adapters = map[types.Capability]llm.Adapter{
				types.CapabilityTextGeneration:     chat,
				types.CapabilityImageUnderstanding: chat,
				types.CapabilityTextEmbedding:      chat,
				types.CapabilityImageGeneration:    image.NewOpenAIProvider(img, logger),
				types.CapabilitySpeechSynthesis:    speech.NewOpenAITTSProvider(tts, logger),
				types.CapabilitySpeechRecognition:  speech.NewOpenAISTTProvider(stt, logger),
			}

		case config.ProviderKindAnthropic:
			claude := anthropic.NewClaudeProvider(anthropic.Config{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Timeout: pc.Timeout,
			}, logger)
			adapters = map[types.Capability]llm.Adapter{
				types.CapabilityTextGeneration:     claude,
				types.CapabilityImageUnderstanding: claude,
			}

		case config.ProviderKindOpenAICompatible:
			chat := openaicompat.New(openaicompat.Config{
				ProviderName: id,
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				Timeout:      pc.Timeout,
			}, logger).WithTokenizer(tokens)
			adapters = map[types.Capability]llm.Adapter{
				types.CapabilityTextGeneration: chat,
				types.CapabilityTextEmbedding:  chat,
			}

		default:
			return nil, fmt.Errorf("provider %s: unsupported kind %q", id, pc.Kind)
		}

		for capability, adapter := range adapters {
			if err := reg.Register(id, capability, adapter); err != nil {
				return nil, fmt.Errorf("provider %s: %w", id, err)
			}
		}
		logger.Info("provider registered", zap.String("provider", id), zap.String("kind", pc.Kind))
	}
	return reg, nil
}

func retryPolicy(rc config.RetryConfig) *retry.RetryPolicy {
	if rc.MaxRetries <= 0 {
		return nil
	}
	return &retry.RetryPolicy{
		MaxRetries:   rc.MaxRetries,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       rc.Jitter,
	}
}

func defaultModels(cfg *config.Config) map[types.Capability]types.ModelID {
	out := make(map[types.Capability]types.ModelID)
	for _, c := range types.Capabilities() {
		if id, ok := cfg.DefaultModel(c); ok {
			out[c] = id
		}
	}
	return out
}

// watchModels 配置文件变更时重新加载模型目录
func (a *app) watchModels(ctx context.Context, loader *config.Loader) (*config.FileWatcher, error) {
	return loader.WatchModels(ctx, a.catalog.Replace, config.WithWatcherLogger(a.logger))
}

// close 按装配的逆序释放资源
func (a *app) close() {
	if a == nil {
		return
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.otel.Shutdown(ctx))
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
	}
}
