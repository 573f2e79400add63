package messaging

import (
	"math"
	"time"
)

// Backoff 指数退避，delay = base << (attempt-1)，不超过 max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 连接与重投的默认退避
var DefaultBackoff = Backoff{Base: 250 * time.Millisecond, Max: 10 * time.Second}

// Delay 第 attempt 次重试前的等待时间，attempt 从1开始
func (b Backoff) Delay(attempt int) time.Duration {
	limit := b.Max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	if b.Base <= 0 {
		return b.Max
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay <<= 1
	}
	if delay > limit {
		return limit
	}
	return delay
}
