package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/browser"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RenderConfig 浏览器渲染策略配置
type RenderConfig struct {
	WaitStable time.Duration // 页面加载后等待网络静默的时间
	Selector   string        // 等待出现的关键元素选择器 (可选)
}

// RenderStrategy 浏览器渲染策略
// 完整加载页面并执行JS,从DOM提取内容;最重的层级,放在梯子末端
type RenderStrategy struct {
	name     string
	config   RenderConfig
	launcher *browser.Launcher
	tabs     *browser.TabPool
}

// NewRenderStrategy 创建浏览器渲染策略
func NewRenderStrategy(name string, config RenderConfig, launcher *browser.Launcher, tabs *browser.TabPool) *RenderStrategy {
	if config.WaitStable == 0 {
		config.WaitStable = 2 * time.Second
	}
	return &RenderStrategy{name: name, config: config, launcher: launcher, tabs: tabs}
}

// Name 实现Strategy接口
func (s *RenderStrategy) Name() string {
	return s.name
}

// FixedEgress 渲染层级走浏览器在启动时固定的出口
func (s *RenderStrategy) FixedEgress() {}

// Execute 渲染页面并提取DOM内容
func (s *RenderStrategy) Execute(ctx context.Context, req *Request) (*models.Observation, error) {
	if err := s.launcher.ApplySession(req.Session); err != nil {
		return nil, err
	}

	tab, err := s.tabs.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取标签页失败: %w", err)
	}
	defer s.tabs.Release(tab)

	page := tab.Context(ctx)

	var statusCode int
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		// 主文档响应的状态码
		if e.Type == proto.NetworkResourceTypeDocument {
			statusCode = e.Response.Status
			return true
		}
		return false
	})

	if err := page.Navigate(req.Target); err != nil {
		return nil, fmt.Errorf("页面导航失败: %w", err)
	}
	wait()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("页面加载失败: %w", err)
	}
	if err := s.launcher.ApplyLocalState(page, req.Session); err != nil {
		utils.Warnf("恢复localStorage失败: %v", err)
	}

	if s.config.Selector != "" {
		if err := page.Timeout(s.config.WaitStable).WaitElementsMoreThan(s.config.Selector, 0); err != nil {
			utils.Debugf("未等到关键元素 %s: %v", s.config.Selector, err)
		}
	} else {
		page.WaitRequestIdle(s.config.WaitStable, nil, nil, nil)()
	}

	htmlContent, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("提取DOM失败: %w", err)
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("读取页面信息失败: %w", err)
	}

	pageText := ""
	if obj, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => document.body?.innerText?.substring(0, 2000) || ''`,
	}); err == nil {
		pageText = obj.Value.Str()
	}

	if statusCode == 0 {
		statusCode = 200
	}

	utils.Debugf("页面渲染完成 [%s]: 状态码=%d, DOM=%d bytes", info.URL, statusCode, len(htmlContent))

	return &models.Observation{
		StatusCode: statusCode,
		URL:        info.URL,
		Body:       []byte(htmlContent),
		Meta: map[string]string{
			"page_text": pageText,
		},
	}, nil
}
