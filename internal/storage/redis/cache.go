package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/sessionbox/internal/domain"
)

// ErrCacheMiss 表示缓存未命中，调用方应回源存储层。
var ErrCacheMiss = errors.New("cache miss")

// Cache 是按会话摘要键控的收件箱视图缓存。缓存只存对外快照
// （不含会话哈希以外的敏感字段），任何写路径（创建、轮换、删除、
// 过期）都必须调用 InvalidateSession。
type Cache struct {
	client *goredis.Client
}

// NewCache 创建收件箱视图缓存。
func NewCache(client *Client) *Cache {
	return &Cache{client: client.Client()}
}

func sessionKey(sessionHash string) string {
	return fmt.Sprintf("inbox:session:%s", sessionHash)
}

// CacheInboxView 缓存会话的收件箱视图。
func (c *Cache) CacheInboxView(ctx context.Context, sessionHash string, view domain.InboxView, ttl time.Duration) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(sessionHash), data, ttl).Err()
}

// GetCachedInboxView 获取会话的缓存视图，未命中返回 ErrCacheMiss。
func (c *Cache) GetCachedInboxView(ctx context.Context, sessionHash string) (*domain.InboxView, error) {
	data, err := c.client.Get(ctx, sessionKey(sessionHash)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var view domain.InboxView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// InvalidateSession 删除会话的缓存视图。
func (c *Cache) InvalidateSession(ctx context.Context, sessionHash string) error {
	return c.client.Del(ctx, sessionKey(sessionHash)).Err()
}

// ========== 发布订阅 ==========

// PublishNewMail 发布新邮件通知，供 WebSocket 网关跨实例分发。
func (c *Cache) PublishNewMail(ctx context.Context, inboxID string, message *domain.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("new_mail:%s", inboxID)
	return c.client.Publish(ctx, channel, data).Err()
}

// SubscribeNewMail 订阅全部收件箱的新邮件通知，频道名末段是收件箱
// ID。WebSocket 网关消费这个订阅，把其他实例接收的邮件也推给本地
// 连接的客户端。
func (c *Cache) SubscribeNewMail(ctx context.Context) *goredis.PubSub {
	return c.client.PSubscribe(ctx, "new_mail:*")
}

// InboxIDFromChannel 从新邮件频道名解析收件箱 ID。
func InboxIDFromChannel(channel string) string {
	const prefix = "new_mail:"
	if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
		return channel[len(prefix):]
	}
	return ""
}
