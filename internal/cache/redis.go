// Package cache provides a Redis read-through cache for gift card rows.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultOpTimeout = 200 * time.Millisecond
	keyPrefix        = "giftcard"
)

// Config selects the Redis endpoint. URL wins over Addr when both are set.
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Connect builds a client from cfg and pings it. A failed ping is returned so
// the caller can decide to run without a cache.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	var opts *redis.Options
	if u := strings.TrimSpace(cfg.URL); u != "" {
		parsed, errParse := redis.ParseURL(u)
		if errParse != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", errParse)
		}
		opts = parsed
	} else {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("cache: redis address is empty")
		}
		opts = &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", errPing)
	}
	return client, nil
}

// CardCache stores gift cards as JSON under an id key and a code key.
// Every backend failure is logged and treated as a miss.
type CardCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	opTimeout time.Duration
}

// NewCardCache wraps client. A zero ttl uses five minutes.
func NewCardCache(client redis.UniversalClient, ttl time.Duration) *CardCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CardCache{client: client, ttl: ttl, opTimeout: defaultOpTimeout}
}

func idKey(id uint64) string     { return fmt.Sprintf("%s:id:%d", keyPrefix, id) }
func codeKey(code string) string { return fmt.Sprintf("%s:code:%s", keyPrefix, code) }

func (c *CardCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *CardCache) get(ctx context.Context, key string) (*models.GiftCard, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	raw, errGet := c.client.Get(opCtx, key).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).WithField("key", key).Debug("gift card cache read failed")
		}
		return nil, false
	}
	var card models.GiftCard
	if errUnmarshal := json.Unmarshal(raw, &card); errUnmarshal != nil {
		log.WithError(errUnmarshal).WithField("key", key).Warn("gift card cache entry unreadable")
		return nil, false
	}
	return &card, true
}

// GetByID returns a cached card by id.
func (c *CardCache) GetByID(ctx context.Context, id uint64) (*models.GiftCard, bool) {
	return c.get(ctx, idKey(id))
}

// GetByCode returns a cached card by code.
func (c *CardCache) GetByCode(ctx context.Context, code string) (*models.GiftCard, bool) {
	return c.get(ctx, codeKey(code))
}

// Set stores card under both keys.
func (c *CardCache) Set(ctx context.Context, card *models.GiftCard) {
	if c == nil || c.client == nil || card == nil {
		return
	}
	raw, errMarshal := json.Marshal(card)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("gift card cache encode failed")
		return
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	pipe := c.client.Pipeline()
	pipe.Set(opCtx, idKey(card.ID), raw, c.ttl)
	pipe.Set(opCtx, codeKey(card.Code), raw, c.ttl)
	if _, errExec := pipe.Exec(opCtx); errExec != nil {
		log.WithError(errExec).WithField("card_id", card.ID).Debug("gift card cache write failed")
	}
}

// Invalidate removes both keys for a card.
func (c *CardCache) Invalidate(ctx context.Context, id uint64, code string) {
	if c == nil || c.client == nil {
		return
	}
	keys := []string{idKey(id)}
	if code != "" {
		keys = append(keys, codeKey(code))
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if errDel := c.client.Del(opCtx, keys...).Err(); errDel != nil {
		log.WithError(errDel).WithField("card_id", id).Warn("gift card cache invalidation failed")
	}
}
