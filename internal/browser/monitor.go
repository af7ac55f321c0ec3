package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MonitorConfig 资源监控配置
type MonitorConfig struct {
	SafetyReserve  int64         // 保留内存(字节),不参与标签页预算
	MinFreeMemory  int64         // 低于该可用内存时禁止新建标签页(字节)
	CPUThreshold   float64       // CPU使用率阈值(%), >=200视为禁用检查
	MaxTabs        int           // 标签页绝对上限
	PerTabMemory   int64         // 单标签页内存预算(字节)
	SampleInterval time.Duration // 采样间隔
}

// DefaultMonitorConfig 默认监控配置
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SafetyReserve:  1 << 30,        // 1GB
		MinFreeMemory:  500 << 20,      // 500MB
		CPUThreshold:   80,
		MaxTabs:        8,
		PerTabMemory:   100 << 20,      // 100MB
		SampleInterval: time.Second,
	}
}

// Monitor 系统资源监控器
// 周期采样内存与CPU,为标签页池给出并发上限
type Monitor struct {
	config MonitorConfig

	totalMemory uint64

	mu        sync.RWMutex
	allocated uint64  // 最近采样的进程分配内存
	cpuUsage  float64 // 最近采样的CPU使用率

	cancel context.CancelFunc
}

// NewMonitor 创建资源监控器
func NewMonitor(config MonitorConfig) *Monitor {
	if config.PerTabMemory <= 0 {
		config.PerTabMemory = 100 << 20
	}
	if config.MaxTabs <= 0 {
		config.MaxTabs = 8
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Second
	}

	var total uint64
	if vm, err := mem.VirtualMemory(); err != nil {
		utils.Warnf("获取系统内存失败,按4GB计算: %v", err)
		total = 4 << 30
	} else {
		total = vm.Total
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &Monitor{
		config:      config,
		totalMemory: total,
		allocated:   ms.Alloc,
	}
}

// Start 启动后台采样
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.loop(ctx)
}

// Stop 停止后台采样
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)

			usage := m.sampleCPU()

			m.mu.Lock()
			m.allocated = ms.Alloc
			m.cpuUsage = usage
			m.mu.Unlock()
		}
	}
}

// sampleCPU 采样系统CPU使用率
func (m *Monitor) sampleCPU() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		return 0
	}
	return percentages[0]
}

// availableMemory 计算扣除保留后的可用内存
func (m *Monitor) availableMemory() int64 {
	m.mu.RLock()
	allocated := m.allocated
	m.mu.RUnlock()
	return int64(m.totalMemory) - int64(allocated) - m.config.SafetyReserve
}

// MaxTabs 基于内存预算和CPU核数给出标签页上限
func (m *Monitor) MaxTabs() int {
	available := m.availableMemory()

	byMemory := 1
	if available > m.config.MinFreeMemory {
		byMemory = int((available - m.config.MinFreeMemory) / m.config.PerTabMemory)
		if byMemory < 1 {
			byMemory = 1
		}
	}

	result := byMemory
	if n := runtime.NumCPU(); n < result {
		result = n
	}
	if m.config.MaxTabs < result {
		result = m.config.MaxTabs
	}
	if result < 1 {
		result = 1
	}
	return result
}

// CanCreateTab 判断当前资源是否允许创建新标签页
func (m *Monitor) CanCreateTab() (bool, string) {
	available := m.availableMemory()
	if available < m.config.MinFreeMemory {
		return false, fmt.Sprintf("内存不足(可用%dMB)", available/(1<<20))
	}

	if m.config.CPUThreshold < 200 {
		m.mu.RLock()
		usage := m.cpuUsage
		m.mu.RUnlock()
		if usage > m.config.CPUThreshold {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", usage)
		}
	}

	return true, ""
}
