package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// newTestLimiter 创建注入假时钟的限速器
// sleep直接推进假时钟,测试无需真实等待
func newTestLimiter(config Config) (*Limiter, *time.Time) {
	clock := time.Unix(1700000000, 0)
	l := New(config)
	l.now = func() time.Time { return clock }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		clock = clock.Add(d)
		return nil
	}
	return l, &clock
}

func TestLimiter_Admit(t *testing.T) {
	t.Run("限额内的准入不阻塞", func(t *testing.T) {
		l, clock := newTestLimiter(Config{PerMinute: 5, PerHour: 100})

		for i := 0; i < 5; i++ {
			before := *clock
			if err := l.Admit(context.Background(), "site-a"); err != nil {
				t.Fatalf("第%d次准入失败: %v", i+1, err)
			}
			if !clock.Equal(before) {
				t.Errorf("第%d次准入不应等待, 时钟推进了 %v", i+1, clock.Sub(before))
			}
		}
	})

	t.Run("短窗口第N+1次准入阻塞到窗口释放", func(t *testing.T) {
		l, clock := newTestLimiter(Config{PerMinute: 3, PerHour: 100})
		start := *clock

		for i := 0; i < 3; i++ {
			if err := l.Admit(context.Background(), "site-a"); err != nil {
				t.Fatalf("准入失败: %v", err)
			}
		}

		// 第4次必须等最旧时间戳滑出60秒窗口
		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("第4次准入失败: %v", err)
		}
		waited := clock.Sub(start)
		if waited < time.Minute {
			t.Errorf("期望等待>=60秒, 实际 %v", waited)
		}
	})

	t.Run("不同键互不影响", func(t *testing.T) {
		l, clock := newTestLimiter(Config{PerMinute: 1, PerHour: 100})

		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}
		before := *clock
		if err := l.Admit(context.Background(), "site-b"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}
		if !clock.Equal(before) {
			t.Error("site-b首次准入不应受site-a窗口影响")
		}
	})

	t.Run("context到期中断等待", func(t *testing.T) {
		l, _ := newTestLimiter(Config{PerMinute: 1, PerHour: 100})

		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := l.Admit(ctx, "site-a"); err == nil {
			t.Error("期望已取消的context导致准入失败")
		}
	})
}

func TestLimiter_Backoff(t *testing.T) {
	t.Run("外部限流信号触发指数冷却", func(t *testing.T) {
		l, clock := newTestLimiter(Config{
			PerMinute:   100,
			PerHour:     1000,
			BackoffBase: 4 * time.Second,
			BackoffMax:  64 * time.Second,
		})

		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}

		l.RecordRateLimited("site-a")
		l.RecordRateLimited("site-a")

		start := *clock
		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}
		// 2次信号 → 冷却 4s*2 = 8s
		if waited := clock.Sub(start); waited < 8*time.Second {
			t.Errorf("期望冷却>=8秒, 实际 %v", waited)
		}
	})

	t.Run("一次Ok信号重置退避", func(t *testing.T) {
		l, clock := newTestLimiter(Config{
			PerMinute:   100,
			PerHour:     1000,
			BackoffBase: 4 * time.Second,
			BackoffMax:  64 * time.Second,
		})

		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}
		l.RecordRateLimited("site-a")
		l.RecordOK("site-a")

		before := *clock
		if err := l.Admit(context.Background(), "site-a"); err != nil {
			t.Fatalf("准入失败: %v", err)
		}
		if !clock.Equal(before) {
			t.Errorf("退避已重置, 不应等待, 时钟推进了 %v", clock.Sub(before))
		}
	})

	t.Run("封禁信号施加更高退避等级", func(t *testing.T) {
		l, _ := newTestLimiter(Config{PerMinute: 100, PerHour: 1000, BackoffBase: time.Second, BackoffMax: time.Minute})

		l.RecordBlocked("site-a")
		if stats := l.GetStats("site-a"); stats.Failures < 4 {
			t.Errorf("期望退避等级>=4, 实际 %d", stats.Failures)
		}
	})
}

func TestLimiter_Concurrent(t *testing.T) {
	t.Run("同键并发准入计数准确", func(t *testing.T) {
		// 真实时钟,限额宽松,验证窗口状态的原子性(配合-race)
		l := New(Config{PerMinute: 1000, PerHour: 10000})

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Admit(context.Background(), "site-a"); err != nil {
					t.Errorf("并发准入失败: %v", err)
				}
			}()
		}
		wg.Wait()

		stats := l.GetStats("site-a")
		if stats.LastMinute != 32 {
			t.Errorf("期望短窗口计数=32, 实际 %d", stats.LastMinute)
		}
	})
}
