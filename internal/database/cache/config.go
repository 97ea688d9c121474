package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	mask "github.com/showa-93/go-mask"
)

// Config is read from the environment under a prefix, e.g. REDIS_HOST.
type Config struct {
	Host                string        `default:"127.0.0.1"`
	Port                int           `default:"6379"`
	Password            string        `default:"" mask:"fixed"`
	DB                  int           `default:"0"`
	IsElastiCache       bool          `default:"false"`
	IsClusterMode       bool          `default:"false"`
	ClusterAddrs        []string      `default:""`
	ClusterMaxRedirects int           `default:"3"`
	ReadTimeout         time.Duration `default:"3s"`
	PoolSize            int           `default:"50"`
	PingTimeout         time.Duration `default:"10s"`
}

// LoadConfig processes the env configuration under envPrefix.
func LoadConfig(envPrefix string) (Config, error) {
	c := Config{}
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return c, fmt.Errorf("failed to process redis env config: %w", err)
	}
	return c, nil
}

func maskedConfig(c Config) interface{} {
	masker := mask.NewMasker()
	masker.RegisterMaskStringFunc(mask.MaskTypeFilled, masker.MaskFilledString)
	masker.RegisterMaskStringFunc(mask.MaskTypeFixed, masker.MaskFixedString)
	conf, err := masker.Mask(c)
	if err != nil {
		return "<unavailable>"
	}
	return conf
}

// NewRedisClient builds an instrumented client from env config and checks
// connectivity.
func NewRedisClient(envPrefix string) (redis.UniversalClient, error) {
	c, err := LoadConfig(envPrefix)
	if err != nil {
		return nil, err
	}
	conf := maskedConfig(c)
	log.Info().Msgf("Redis Config: %+v", conf)

	var redisClient redis.UniversalClient
	if c.IsClusterMode {
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        c.ClusterAddrs,
			MaxRedirects: c.ClusterMaxRedirects,
			ReadTimeout:  c.ReadTimeout,
			PoolSize:     c.PoolSize,
			Password:     c.Password,
		})
	} else {
		option := &redis.Options{
			Addr:        fmt.Sprintf("%s:%d", c.Host, c.Port),
			DB:          c.DB,
			ReadTimeout: c.ReadTimeout,
			PoolSize:    c.PoolSize,
			Password:    c.Password,
		}
		if c.IsElastiCache {
			// Elasticache cert cannot be applied to cname record we use
			option.TLSConfig = &tls.Config{
				// nolint: gosec
				InsecureSkipVerify: true,
			}
		}
		redisClient = redis.NewClient(option)
	}

	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		return nil, fmt.Errorf("failed to instrument redis metrics: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.PingTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis at %v: %w", conf, err)
	}
	return redisClient, nil
}
