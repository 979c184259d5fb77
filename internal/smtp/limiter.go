package smtp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter 按发件地址限速。每个地址一个令牌桶，空闲桶定期
// 回收，防止被大量一次性地址撑爆内存。
type SenderLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*senderBucket
	limit    rate.Limit
	burst    int
	lastSwep time.Time
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter 创建限速器，maxPerMinute 为单个发件地址每分钟
// 允许的邮件数。
func NewSenderLimiter(maxPerMinute int) *SenderLimiter {
	if maxPerMinute < 1 {
		maxPerMinute = 1
	}
	return &SenderLimiter{
		buckets:  make(map[string]*senderBucket),
		limit:    rate.Limit(float64(maxPerMinute) / 60.0),
		burst:    maxPerMinute,
		lastSwep: time.Now(),
	}
}

// Allow 判断发件地址是否还有配额。
func (l *SenderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSwep) > 10*time.Minute {
		l.sweep(now)
	}

	bucket, ok := l.buckets[sender]
	if !ok {
		bucket = &senderBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[sender] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.Allow()
}

// sweep 回收 10 分钟未活动的桶，调用方持锁。
func (l *SenderLimiter) sweep(now time.Time) {
	for sender, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > 10*time.Minute {
			delete(l.buckets, sender)
		}
	}
	l.lastSwep = now
}
