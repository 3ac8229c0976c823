package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
)

// RedisTierName is the name of the shared tier
const RedisTierName = "redis"

// RedisConfig holds shared tier configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// TTL bounds how long records live in redis
	TTL time.Duration

	// Prefix namespaces the keys, defaults to "webcompile:result"
	Prefix string

	// AssemblyDir is where assemblies named by shared records are expected
	// locally; records whose assembly is absent are misses
	AssemblyDir string

	Logger *logrus.Logger
}

// RedisTier shares result records between instances that see the same
// codegen directory (for example through a shared volume). Only metadata is
// stored in redis; assemblies stay on disk.
type RedisTier struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisTier connects to redis and creates the tier
func NewRedisTier(cfg RedisConfig) (*RedisTier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	// Set connection timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis: %v", ErrCacheUnavailable, err)
	}

	return newRedisTier(client, cfg), nil
}

func newRedisTier(client *redis.Client, cfg RedisConfig) *RedisTier {
	if cfg.TTL <= 0 {
		cfg.TTL = config.DefaultRedisTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "webcompile:result"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &RedisTier{client: client, config: cfg}
}

// Name implements Tier
func (r *RedisTier) Name() string {
	return RedisTierName
}

func (r *RedisTier) key(key string) string {
	return fmt.Sprintf("%s:%s", r.config.Prefix, key)
}

func (r *RedisTier) resolve(name string, global bool) compilation.Assembly {
	if global {
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		return compilation.Assembly{Name: base, Path: name, Global: true}
	}
	return compilation.Assembly{Name: name, Path: filepath.Join(r.config.AssemblyDir, name+AssemblyExtension)}
}

// Get implements Tier
func (r *RedisTier) Get(ctx context.Context, key string) (*buildresult.Result, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}
	redisKey := r.key(key)

	data, err := r.client.Get(ctx, redisKey).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec buildresult.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// If unmarshal fails, delete corrupt data
		r.client.Del(ctx, redisKey)
		return nil, ErrCacheMiss
	}

	result, err := buildresult.FromRecord(&rec, r.resolve)
	if err != nil {
		r.client.Del(ctx, redisKey)
		return nil, ErrCacheMiss
	}

	if asm := result.Assembly(); !asm.IsZero() && !Exists(asm.Path) {
		r.config.Logger.WithFields(logrus.Fields{
			"key":      key,
			"assembly": asm.Path,
		}).Debug("Shared record refers to an assembly missing locally")
		return nil, ErrCacheMiss
	}
	return result, nil
}

// Put implements Tier
func (r *RedisTier) Put(ctx context.Context, key string, result *buildresult.Result) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if !result.CacheToDisk() {
		return ErrNotCacheable
	}

	rec, err := result.ToRecord()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return r.client.Set(ctx, r.key(key), data, r.config.TTL).Err()
}

// Remove implements Tier
func (r *RedisTier) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Purge removes every key under the tier prefix
func (r *RedisTier) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.config.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Ping checks redis connectivity
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client returns the underlying client for health checks
func (r *RedisTier) Client() *redis.Client {
	return r.client
}

// Close closes the redis connection
func (r *RedisTier) Close() error {
	return r.client.Close()
}
