// Package retry 提供固定间隔、有限次数的重试策略。
package retry

import (
	"context"
	"time"

	"dodream-rag-go/pkg/errs"
)

// Policy 描述一次调用最多尝试几次、每次失败后等待多久。
// Sleep 可替换，测试中注入假的等待函数即可避免真实延迟。
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// ShouldRetry 为 nil 时使用 errs.Retryable。
	ShouldRetry func(err error) bool
	// OnRetry 在每次决定重试前被调用，attempt 从 1 开始。
	OnRetry func(attempt int, err error)
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Do 按策略执行 fn。所有尝试都失败时返回 RetryExhausted（包装最后一次错误）；
// 遇到不可重试的错误立即原样返回。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = errs.Retryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return errs.Wrap(errs.RetryExhausted, lastErr, "%d 次尝试均失败", attempts)
}

// SleepContext 等待 d，context 取消时提前返回。
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
