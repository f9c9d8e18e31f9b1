// Package retry 提供带指数退避的重试。
// provider 的隐式重连与事件传输的读取循环共用这里的退避计算。
package retry

import (
	"context"
	"math"
	"time"
)

// Backoff 指数退避：第 n 次失败后等待 Initial*Factor^(n-1)，不超过 Max（Max<=0 不封顶）
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// Delay 第 failures 次失败后的等待时间，failures 从 1 开始
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Initial) * math.Pow(factor, float64(failures-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Policy 重试策略
type Policy struct {
	// Attempts 总尝试次数（含首次），小于 1 按 1 处理
	Attempts int
	Backoff  Backoff
	// Retryable 返回 false 的错误立即返回；nil 表示全部重试
	Retryable func(error) bool
	// OnRetry 每次等待之前调用
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Once 失败后等待 wait 再试一次，用于 provider 的隐式重连
func Once(wait time.Duration, retryable func(error) bool) Policy {
	return Policy{
		Attempts:  2,
		Backoff:   Backoff{Initial: wait, Factor: 1},
		Retryable: retryable,
	}
}

// Do 执行 op 直到成功、遇到不可重试的错误、次数用尽或 ctx 结束。
// attempt 从 1 开始；返回最后一次的错误。
//
//	err := retry.Once(50*time.Millisecond, errors.IsConnection).
//	    Do(ctx, func(ctx context.Context, _ int) error { return c.Connect(ctx, "main") })
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = op(ctx, attempt); err == nil {
			return nil
		}
		if attempt >= attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		wait := p.Backoff.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if !Sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Sleep 等待 d；ctx 先结束时返回 false
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
