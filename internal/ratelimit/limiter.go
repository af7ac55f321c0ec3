// Package ratelimit 提供按身份键的滑动窗口限速器
//
// 两层嵌套窗口(每分钟/每小时)控制自主节奏,外部观察到的限流信号
// 另行驱动指数退避冷却。同一键下的所有准入请求全序排队,
// 不存在永久失败:准入最终总会成功,调用方需要硬上限时
// 自行在Admit外套context期限。
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// Config 限速器配置
type Config struct {
	PerMinute   int           // 短窗口(60秒)准入上限
	PerHour     int           // 长窗口(3600秒)准入上限
	MinDelay    time.Duration // 相邻准入的最小间隔下界
	MaxDelay    time.Duration // 相邻准入的最小间隔上界(区间内随机)
	BackoffBase time.Duration // 外部限流退避基数
	BackoffMax  time.Duration // 外部限流退避上限
	Jitter      time.Duration // 退避抖动幅度
}

// DefaultConfig 默认限速配置
// 取值参考对大多数反爬站点安全的节奏
func DefaultConfig() Config {
	return Config{
		PerMinute:   15,
		PerHour:     500,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		BackoffBase: 5 * time.Second,
		BackoffMax:  60 * time.Second,
		Jitter:      time.Second,
	}
}

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// keyState 单个限速键的窗口与退避状态
// 时间戳序列与退避计数的变更在同一把锁下原子进行
type keyState struct {
	mu sync.Mutex

	minute []time.Time // 短窗口时间戳(升序)
	hour   []time.Time // 长窗口时间戳(升序)

	lastAdmit time.Time // 最近一次准入时刻
	failures  int       // 连续外部限流信号计数(区别于自主节奏)
}

// Limiter 按键滑动窗口限速器
// 进程内构造一次,作为显式服务对象传入控制器(无隐式全局状态)
type Limiter struct {
	config Config

	mu   sync.Mutex
	keys map[string]*keyState

	// 测试钩子: 注入时钟与休眠
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建限速器
func New(config Config) *Limiter {
	if config.PerMinute <= 0 {
		config.PerMinute = DefaultConfig().PerMinute
	}
	if config.PerHour <= 0 {
		config.PerHour = DefaultConfig().PerHour
	}
	return &Limiter{
		config: config,
		keys:   make(map[string]*keyState),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// sleepCtx 可被context中断的休眠
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// state 获取或创建键状态
func (l *Limiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()

	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{}
		l.keys[key] = ks
	}
	return ks
}

// Admit 阻塞直到key下允许一次动作
// 检查流程(持锁原子执行):
//  1. 懒清理超出长窗口的旧时间戳
//  2. 两个子窗口均未满且最小间隔/退避冷却已过 → 记录时间戳立即返回
//  3. 否则计算最早解除阻塞的等待时长,休眠后重查
//
// 仅context到期会中断等待(由调用方映射为Timeout失败)
func (l *Limiter) Admit(ctx context.Context, key string) error {
	ks := l.state(key)

	for {
		ks.mu.Lock()
		now := l.now()
		ks.prune(now)

		wait := ks.blockedFor(now, l.config)
		if wait <= 0 {
			// 准入: 记录时间戳
			ks.minute = append(ks.minute, now)
			ks.hour = append(ks.hour, now)
			ks.lastAdmit = now
			ks.mu.Unlock()
			return nil
		}
		ks.mu.Unlock()

		utils.Debugf("限速等待 %.1f秒 [key=%s]", wait.Seconds(), key)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune 懒清理过期时间戳,必须持锁调用
func (ks *keyState) prune(now time.Time) {
	minuteCutoff := now.Add(-minuteWindow)
	i := 0
	for i < len(ks.minute) && ks.minute[i].Before(minuteCutoff) {
		i++
	}
	ks.minute = ks.minute[i:]

	hourCutoff := now.Add(-hourWindow)
	j := 0
	for j < len(ks.hour) && ks.hour[j].Before(hourCutoff) {
		j++
	}
	ks.hour = ks.hour[j:]
}

// blockedFor 计算距离下次可准入的等待时长,必须持锁调用
// 返回<=0表示立即可准入
func (ks *keyState) blockedFor(now time.Time, cfg Config) time.Duration {
	var wait time.Duration

	// 1. 相邻准入最小间隔(区间内随机,模拟人工节奏)
	if !ks.lastAdmit.IsZero() && cfg.MinDelay > 0 {
		base := cfg.MinDelay
		if cfg.MaxDelay > cfg.MinDelay {
			base += time.Duration(rand.Int63n(int64(cfg.MaxDelay - cfg.MinDelay)))
		}
		if d := base - now.Sub(ks.lastAdmit); d > wait {
			wait = d
		}
	}

	// 2. 短窗口上限: 等最旧的阻塞时间戳滑出窗口
	if len(ks.minute) >= cfg.PerMinute {
		if d := ks.minute[0].Add(minuteWindow).Sub(now); d > wait {
			wait = d
		}
	}

	// 3. 长窗口上限
	if len(ks.hour) >= cfg.PerHour {
		if d := ks.hour[0].Add(hourWindow).Sub(now); d > wait {
			wait = d
		}
	}

	// 4. 外部限流退避: 距上次准入不足冷却时长则继续等
	if ks.failures > 0 && cfg.BackoffBase > 0 {
		backoff := cfg.BackoffBase << (ks.failures - 1)
		if backoff > cfg.BackoffMax || backoff <= 0 {
			backoff = cfg.BackoffMax
		}
		if cfg.Jitter > 0 {
			backoff += time.Duration(rand.Int63n(int64(cfg.Jitter)))
		}
		if !ks.lastAdmit.IsZero() {
			if d := backoff - now.Sub(ks.lastAdmit); d > wait {
				wait = d
			}
		} else if backoff > wait {
			wait = backoff
		}
	}

	return wait
}

// RecordOK 记录一次分类为Ok的结果,退避计数归零
func (l *Limiter) RecordOK(key string) {
	ks := l.state(key)
	ks.mu.Lock()
	ks.failures = 0
	ks.mu.Unlock()
}

// RecordRateLimited 记录一次外部观察到的限流信号
// 每次信号使下一次准入前的冷却翻倍(指数退避)
func (l *Limiter) RecordRateLimited(key string) {
	ks := l.state(key)
	ks.mu.Lock()
	ks.failures++
	failures := ks.failures
	ks.mu.Unlock()

	utils.Warnf("检测到限流信号 [key=%s, 连续次数=%d]", key, failures)
}

// RecordBlocked 记录封禁级别的限流,施加更激进的退避
func (l *Limiter) RecordBlocked(key string) {
	ks := l.state(key)
	ks.mu.Lock()
	ks.failures += 2
	if ks.failures < 4 {
		ks.failures = 4
	}
	failures := ks.failures
	ks.mu.Unlock()

	utils.Warnf("检测到封禁信号 [key=%s, 退避等级=%d]", key, failures)
}

// Stats 限速统计
type Stats struct {
	LastMinute int `json:"requests_last_minute"` // 短窗口内准入数
	LastHour   int `json:"requests_last_hour"`   // 长窗口内准入数
	Failures   int `json:"consecutive_failures"` // 连续限流信号计数
}

// GetStats 获取key的当前统计
func (l *Limiter) GetStats(key string) Stats {
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.prune(l.now())
	return Stats{
		LastMinute: len(ks.minute),
		LastHour:   len(ks.hour),
		Failures:   ks.failures,
	}
}
