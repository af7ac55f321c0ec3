package core

import (
	"fmt"
	"sync"

	"github.com/RecoveryAshes/ScrapeSiege/internal/captcha"
	"github.com/RecoveryAshes/ScrapeSiege/internal/classify"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/strategies"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// ChallengeFunc 从观察结果构造验证码挑战
// 站点的验证码类型和站点Key各不相同,由注册方提供;nil时使用通用挑战
type ChallengeFunc func(obs *models.Observation, req *strategies.Request) *captcha.Challenge

// Capability 一个来源站点的提取能力集
// 注册时提供策略梯子和分类器;核心只依赖这两个能力加固定的信号词表
type Capability struct {
	Source     string                // 来源站点标识
	Strategies []strategies.Strategy // 策略梯子,从轻到重
	Classifier *classify.Classifier  // 信号分类器
	Challenge  ChallengeFunc         // 验证码挑战构造 (可选)

	RateKey    string // 限流键,默认为Source
	UseProxy   bool   // 是否走代理池
	UseSession bool   // 是否需要会话
}

// Registry 来源能力注册表
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]*Capability
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]*Capability),
	}
}

// Register 注册来源能力集
// 重复注册同一来源时覆盖旧能力集
func (r *Registry) Register(cap *Capability) error {
	if cap == nil || cap.Source == "" {
		return fmt.Errorf("能力集缺少来源标识")
	}
	if err := utils.ValidateSourceName(cap.Source); err != nil {
		return err
	}
	if len(cap.Strategies) == 0 {
		return fmt.Errorf("来源 %s 未提供任何策略", cap.Source)
	}
	if cap.Classifier == nil {
		return fmt.Errorf("来源 %s 未提供分类器", cap.Source)
	}
	if cap.RateKey == "" {
		cap.RateKey = cap.Source
	}

	r.mu.Lock()
	r.capabilities[cap.Source] = cap
	r.mu.Unlock()

	utils.Debugf("已注册来源: %s (策略数: %d)", cap.Source, len(cap.Strategies))
	return nil
}

// Lookup 查找来源能力集
func (r *Registry) Lookup(source string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.capabilities[source]
	return cap, ok
}

// Sources 列出所有已注册的来源
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.capabilities))
	for source := range r.capabilities {
		out = append(out, source)
	}
	return out
}
