package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/go-rod/rod"
)

// tabHealth 标签页健康状态
// 跟踪清理失败次数,决定复用还是销毁
type tabHealth struct {
	cleanFailures int
	lastSuccess   time.Time
	dirty         bool
}

// TabPool 标签页池
// 复用浏览器标签页,按资源监控动态控制并发数
type TabPool struct {
	launcher *Launcher
	monitor  *Monitor

	mu        sync.Mutex
	tabs      []*rod.Page
	available chan *rod.Page
	closed    bool

	healthMu sync.RWMutex
	health   map[*rod.Page]*tabHealth
}

// NewTabPool 创建标签页池
func NewTabPool(launcher *Launcher, monitor *Monitor) *TabPool {
	return &TabPool{
		launcher:  launcher,
		monitor:   monitor,
		tabs:      make([]*rod.Page, 0),
		available: make(chan *rod.Page, 16),
		health:    make(map[*rod.Page]*tabHealth),
	}
}

// Acquire 获取一个可用标签页
// 无可用且未达上限时创建新标签页,否则阻塞等待归还
func (tp *TabPool) Acquire(ctx context.Context) (*rod.Page, error) {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return nil, fmt.Errorf("标签页池已关闭")
	}
	tp.mu.Unlock()

	select {
	case tab, ok := <-tp.available:
		if !ok {
			return nil, fmt.Errorf("标签页池已关闭")
		}
		return tab, nil
	default:
	}

	tp.mu.Lock()
	currentSize := len(tp.tabs)
	tp.mu.Unlock()

	if currentSize >= tp.monitor.MaxTabs() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tab, ok := <-tp.available:
			if !ok {
				return nil, fmt.Errorf("标签页池已关闭")
			}
			return tab, nil
		}
	}

	if ok, reason := tp.monitor.CanCreateTab(); !ok {
		utils.Warnf("资源不足,等待标签页归还: %s", reason)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tab, ok := <-tp.available:
			if !ok {
				return nil, fmt.Errorf("标签页池已关闭")
			}
			return tab, nil
		}
	}

	tab, err := tp.launcher.NewPage()
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	tp.mu.Lock()
	tp.tabs = append(tp.tabs, tab)
	size := len(tp.tabs)
	tp.mu.Unlock()

	tp.healthMu.Lock()
	tp.health[tab] = &tabHealth{lastSuccess: time.Now()}
	tp.healthMu.Unlock()

	utils.Debugf("创建新标签页,当前标签页数: %d", size)
	return tab, nil
}

// Release 归还标签页
// 清理失败按次数递进: 重试一次 -> 标记脏 -> 销毁
func (tp *TabPool) Release(tab *rod.Page) {
	if tab == nil {
		return
	}

	if tp.dropIfClosed(tab) {
		return
	}

	tp.healthMu.RLock()
	health, exists := tp.health[tab]
	tp.healthMu.RUnlock()

	if !exists {
		tp.destroy(tab)
		return
	}

	if err := tp.clean(tab); err != nil {
		tp.healthMu.Lock()
		health.cleanFailures++
		failures := health.cleanFailures
		tp.healthMu.Unlock()

		utils.Warnf("清理标签页失败 (第%d次): %v", failures, err)

		switch {
		case failures == 1:
			if retryErr := tp.clean(tab); retryErr == nil {
				tp.markHealthy(health)
			} else {
				tp.healthMu.Lock()
				health.cleanFailures++
				tp.healthMu.Unlock()
			}
		case failures == 2:
			tp.healthMu.Lock()
			health.dirty = true
			tp.healthMu.Unlock()
			utils.Warnf("标签页标记为脏状态,下次清理失败将销毁")
		default:
			tp.destroy(tab)
			return
		}
	} else {
		tp.markHealthy(health)
	}

	// 入队与Close互斥,避免向已关闭的队列归还
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		tp.dropIfClosed(tab)
		return
	}
	select {
	case tp.available <- tab:
		tp.mu.Unlock()
	default:
		// 可用池已满
		tp.mu.Unlock()
		tp.destroy(tab)
	}
}

// dropIfClosed 池已关闭时丢弃归还的标签页
// Close已统一关闭所有标签页,这里只清掉健康记录
func (tp *TabPool) dropIfClosed(tab *rod.Page) bool {
	tp.mu.Lock()
	closed := tp.closed
	tp.mu.Unlock()
	if !closed {
		return false
	}

	tp.healthMu.Lock()
	delete(tp.health, tab)
	tp.healthMu.Unlock()
	return true
}

func (tp *TabPool) markHealthy(health *tabHealth) {
	tp.healthMu.Lock()
	health.cleanFailures = 0
	health.lastSuccess = time.Now()
	health.dirty = false
	tp.healthMu.Unlock()
}

// clean 复位标签页状态
// 只清理页面级状态;Cookie属于浏览器级会话,保留
func (tp *TabPool) clean(tab *rod.Page) error {
	_, err := tab.Evaluate(&rod.EvalOptions{
		JS: `() => {
			if (typeof sessionStorage !== 'undefined' && sessionStorage !== null) {
				try { sessionStorage.clear(); } catch (e) {}
			}
			return true;
		}`,
	})
	if err != nil {
		return fmt.Errorf("复位标签页状态失败: %w", err)
	}
	return tab.Navigate("about:blank")
}

// destroy 销毁标签页
func (tp *TabPool) destroy(tab *rod.Page) {
	tp.mu.Lock()
	for i, t := range tp.tabs {
		if t == tab {
			tp.tabs = append(tp.tabs[:i], tp.tabs[i+1:]...)
			break
		}
	}
	size := len(tp.tabs)
	tp.mu.Unlock()

	tp.healthMu.Lock()
	delete(tp.health, tab)
	tp.healthMu.Unlock()

	if err := tab.Close(); err != nil {
		utils.Warnf("关闭标签页失败: %v", err)
	}
	utils.Debugf("销毁标签页,当前标签页数: %d", size)
}

// Size 当前标签页数
func (tp *TabPool) Size() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.tabs)
}

// Close 关闭标签页池
func (tp *TabPool) Close() {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.closed {
		return
	}
	tp.closed = true

	for _, tab := range tp.tabs {
		if err := tab.Close(); err != nil {
			utils.Warnf("关闭标签页失败: %v", err)
		}
	}
	tp.tabs = nil
	close(tp.available)

	utils.Debugf("标签页池已关闭")
}
