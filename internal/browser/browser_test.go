package browser

import (
	"context"
	"testing"

	"github.com/go-rod/rod"
)

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		name         string
		cookieDomain string
		host         string
		want         bool
	}{
		{"精确匹配", "example.com", "example.com", true},
		{"点前缀匹配子域", ".example.com", "www.example.com", true},
		{"点前缀匹配裸域", ".example.com", "example.com", true},
		{"无点前缀也按后缀匹配子域", "example.com", "api.example.com", true},
		{"后缀伪装不匹配", "example.com", "evilexample.com", false},
		{"不同域不匹配", "example.com", "example.org", false},
		{"空域不匹配", "", "example.com", false},
		{"空主机不匹配", ".example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domainMatches(tt.cookieDomain, tt.host); got != tt.want {
				t.Errorf("domainMatches(%q, %q) = %v, 期望 %v", tt.cookieDomain, tt.host, got, tt.want)
			}
		})
	}
}

func TestMonitorMaxTabs(t *testing.T) {
	t.Run("上限不超过配置值", func(t *testing.T) {
		m := NewMonitor(MonitorConfig{
			SafetyReserve:  0,
			MinFreeMemory:  0,
			CPUThreshold:   200, // 禁用CPU检查
			MaxTabs:        2,
			PerTabMemory:   1, // 内存预算几乎不设限
			SampleInterval: 0,
		})
		if got := m.MaxTabs(); got > 2 {
			t.Errorf("MaxTabs() = %d, 不应超过配置上限2", got)
		}
	})

	t.Run("至少允许一个标签页", func(t *testing.T) {
		m := NewMonitor(MonitorConfig{
			SafetyReserve: 1 << 62, // 预算被保留内存吃光
			MinFreeMemory: 1 << 40,
			CPUThreshold:  200,
			MaxTabs:       8,
			PerTabMemory:  100 << 20,
		})
		if got := m.MaxTabs(); got != 1 {
			t.Errorf("MaxTabs() = %d, 预算耗尽时应为1", got)
		}
	})
}

func TestMonitorCanCreateTab(t *testing.T) {
	t.Run("内存不足时拒绝", func(t *testing.T) {
		m := NewMonitor(MonitorConfig{
			SafetyReserve: 1 << 62,
			MinFreeMemory: 1 << 40,
			CPUThreshold:  200,
			MaxTabs:       8,
			PerTabMemory:  100 << 20,
		})
		ok, reason := m.CanCreateTab()
		if ok {
			t.Error("保留内存吃光预算后应拒绝创建")
		}
		if reason == "" {
			t.Error("拒绝时应给出原因")
		}
	})

	t.Run("阈值禁用时不检查CPU", func(t *testing.T) {
		m := NewMonitor(MonitorConfig{
			MinFreeMemory: 0,
			CPUThreshold:  250, // >=200视为禁用
			MaxTabs:       8,
			PerTabMemory:  1,
		})
		if ok, reason := m.CanCreateTab(); !ok {
			t.Errorf("CPU检查禁用且内存充足时应允许创建: %s", reason)
		}
	})
}

func TestTabPoolClose(t *testing.T) {
	t.Run("关闭后获取标签页报错", func(t *testing.T) {
		tp := NewTabPool(nil, nil)
		tp.Close()

		if _, err := tp.Acquire(context.Background()); err == nil {
			t.Error("关闭后Acquire应报错")
		}
	})

	t.Run("关闭后归还不入队不panic", func(t *testing.T) {
		tp := NewTabPool(nil, nil)
		tab := &rod.Page{}
		tp.health[tab] = &tabHealth{}

		tp.Close()
		tp.Release(tab)

		tp.healthMu.RLock()
		_, exists := tp.health[tab]
		tp.healthMu.RUnlock()
		if exists {
			t.Error("关闭后归还应清掉健康记录")
		}
		if len(tp.available) != 0 {
			t.Error("关闭后归还不应进入可用队列")
		}
	})

	t.Run("重复关闭幂等", func(t *testing.T) {
		tp := NewTabPool(nil, nil)
		tp.Close()
		tp.Close()
	})
}
