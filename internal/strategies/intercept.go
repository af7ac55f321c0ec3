package strategies

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/browser"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// InterceptConfig 接口拦截策略配置
type InterceptConfig struct {
	// Pattern 匹配站点内部API的URL正则
	// 页面导航期间命中的第一个响应作为产出
	Pattern *regexp.Regexp

	// CaptureWait 导航后等待API响应的时长
	CaptureWait time.Duration
}

// InterceptStrategy 接口拦截策略
// 渲染页面但不解析DOM,改为截获页面自己发出的内部API响应;
// 拿到的是结构化JSON,比DOM提取稳得多
type InterceptStrategy struct {
	name     string
	config   InterceptConfig
	launcher *browser.Launcher
	tabs     *browser.TabPool
}

// captured 截获的API响应
type captured struct {
	url        string
	statusCode int
	body       []byte
}

// NewInterceptStrategy 创建接口拦截策略
func NewInterceptStrategy(name string, config InterceptConfig, launcher *browser.Launcher, tabs *browser.TabPool) *InterceptStrategy {
	if config.CaptureWait == 0 {
		config.CaptureWait = 5 * time.Second
	}
	return &InterceptStrategy{name: name, config: config, launcher: launcher, tabs: tabs}
}

// Name 实现Strategy接口
func (s *InterceptStrategy) Name() string {
	return s.name
}

// Execute 导航页面并截获内部API响应
func (s *InterceptStrategy) Execute(ctx context.Context, req *Request) (*models.Observation, error) {
	if s.config.Pattern == nil {
		return nil, fmt.Errorf("接口拦截策略缺少URL匹配模式")
	}

	if err := s.launcher.ApplySession(req.Session); err != nil {
		return nil, err
	}

	// 截获的API请求与其他层级走同一个代理出口
	client, err := newHTTPClient(req.Proxy, s.config.CaptureWait)
	if err != nil {
		return nil, err
	}

	tab, err := s.tabs.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取标签页失败: %w", err)
	}
	defer s.tabs.Release(tab)

	page := tab.Context(ctx)

	var mu sync.Mutex
	var hit *captured
	done := make(chan struct{})
	var once sync.Once

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		reqURL := h.Request.URL().String()
		if !s.config.Pattern.MatchString(reqURL) {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}

		if err := h.LoadResponse(client, true); err != nil {
			utils.Debugf("加载拦截响应失败 [%s]: %v", reqURL, err)
			// 按网络失败中断,不把请求挂起到截获窗口结束
			h.Response.Fail(proto.NetworkErrorReasonFailed)
			return
		}

		mu.Lock()
		if hit == nil {
			hit = &captured{
				url:        reqURL,
				statusCode: h.Response.Payload().ResponseCode,
				body:       []byte(h.Response.Body()),
			}
		}
		mu.Unlock()
		once.Do(func() { close(done) })
	})
	go router.Run()
	defer router.MustStop()

	if err := page.Navigate(req.Target); err != nil {
		return nil, fmt.Errorf("页面导航失败: %w", err)
	}

	select {
	case <-done:
	case <-time.After(s.config.CaptureWait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	result := hit
	mu.Unlock()

	if result != nil {
		utils.Debugf("截获API响应 [%s]: 状态码=%d, %d bytes", result.url, result.statusCode, len(result.body))
		return &models.Observation{
			StatusCode: result.statusCode,
			URL:        result.url,
			Body:       result.body,
			Meta: map[string]string{
				"intercepted": "true",
			},
		}, nil
	}

	// 没截到API响应,返回页面级观察结果供分类
	// 大概率是页面被拦截在验证码或登录页
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

	utils.Debugf("未截获API响应,返回页面级观察 [%s]", info.URL)
	return &models.Observation{
		StatusCode: 0,
		URL:        info.URL,
		Meta: map[string]string{
			"page_text": pageText,
		},
	}, nil
}
