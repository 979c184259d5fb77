package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/storage/redis"
)

// Checker 聚合存储层和缓存层的健康检查。存活检查只看进程自身
// （goroutine 数量），就绪检查覆盖外部依赖。
type Checker struct {
	handler healthcheck.Handler
}

// NewChecker 创建健康检查器。redisClient 可以为 nil。
func NewChecker(store domain.Store, redisClient *redis.Client) *Checker {
	h := healthcheck.NewHandler()

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(500))

	h.AddReadinessCheck("store", func() error {
		return store.Ping()
	})

	if redisClient != nil {
		h.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx)
		})
	}

	return &Checker{handler: h}
}

// LiveEndpoint 存活探针端点。
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针端点。
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.ReadyEndpoint(w, r)
}

// Handler 返回完整的健康检查处理器（/live 和 /ready）。
func (c *Checker) Handler() http.Handler {
	return c.handler
}
