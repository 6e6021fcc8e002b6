package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 是共享的重试策略：指数退避 + 重试预算。
//
// 只重试连接级失败（以及 5xx 这类瞬态错误）；格式良好的应用错误
// （参数校验、维度不一致等）由调用方用 Permanent 包裹，立即终止重试。
// 调用方传入的 ctx 被取消时，在途重试立刻中止。
type Policy struct {
	// MaxAttempts 总尝试次数上限（含首次），<=0 时取 3
	MaxAttempts int

	// InitialInterval 首次退避间隔，0 时取 200ms
	InitialInterval time.Duration

	// MaxInterval 单次退避间隔上限，0 时取 5s
	MaxInterval time.Duration

	// Fixed 为 true 时使用固定间隔（embedding 提供方重试用），否则指数退避
	Fixed bool
}

// Do 以策略 p 执行 op，直到成功、重试预算耗尽或 ctx 取消。
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := p.InitialInterval
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}

	var b backoff.BackOff
	if p.Fixed {
		b = backoff.NewConstantBackOff(initial)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initial
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		b = eb
	}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(op, b)
}

// Permanent 标记 err 不可重试（校验失败 / 4xx 应用错误）。
func Permanent(err error) error {
	return backoff.Permanent(err)
}
