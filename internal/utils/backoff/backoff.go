package backoff

import (
	"context"
	"time"
)

// Policy описывает экспоненциальную задержку между попытками:
// Base·2^(n-1), но не больше Max. MaxAttempts <= 0 означает без ограничения.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultPolicy используется realtime-каналом и монитором соединения
var DefaultPolicy = Policy{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 10,
}

// Delay возвращает задержку перед попыткой attempt (нумерация с 1)
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
		next := d * 2
		if next <= d { // переполнение
			if p.Max > 0 {
				return p.Max
			}
			return d
		}
		d = next
	}

	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted сообщает, что попытка attempt превышает лимит
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Sleep ждет d или отмены ctx
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
