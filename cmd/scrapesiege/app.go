package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/browser"
	"github.com/RecoveryAshes/ScrapeSiege/internal/captcha"
	"github.com/RecoveryAshes/ScrapeSiege/internal/classify"
	"github.com/RecoveryAshes/ScrapeSiege/internal/config"
	"github.com/RecoveryAshes/ScrapeSiege/internal/core"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/proxypool"
	"github.com/RecoveryAshes/ScrapeSiege/internal/ratelimit"
	"github.com/RecoveryAshes/ScrapeSiege/internal/session"
	"github.com/RecoveryAshes/ScrapeSiege/internal/strategies"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// app 一次命令执行期间的全部运行组件
type app struct {
	config     *core.Config
	limiter    *ratelimit.Limiter
	sessions   *session.Manager
	proxies    *proxypool.Pool // 未启用时为nil
	resolver   captcha.Resolver
	registry   *core.Registry
	controller *core.Controller
	profiles   *config.HeaderProfiles
	identity   config.Identity // 本次运行固定的浏览器身份

	launcher *browser.Launcher // 仅在需要浏览器策略时创建
	monitor  *browser.Monitor
	tabs     *browser.TabPool
}

// buildApp 按配置组装运行组件
// needBrowser为true时启动浏览器与标签页池
func buildApp(cfg *core.Config, needBrowser bool) (*app, error) {
	a := &app{config: cfg}

	a.limiter = ratelimit.New(cfg.RateLimiterConfig())
	a.sessions = session.NewManager(session.NewStore(cfg.SessionDataDir()))

	resolver, err := cfg.CaptchaResolver()
	if err != nil {
		return nil, err
	}
	a.resolver = resolver

	profiles, err := config.NewHeaderLoader(headersFile).Load()
	if err != nil {
		return nil, fmt.Errorf("加载头部配置失败: %w", err)
	}
	a.profiles = profiles
	a.identity = config.RandomIdentity()

	if cfg.Proxy.Enabled {
		a.proxies = proxypool.New(cfg.ProxyPoolConfig(), proxyRefreshFunc(cfg))
	}

	if needBrowser {
		monitorConfig := browser.DefaultMonitorConfig()
		if cfg.Browser.MaxTabs > 0 {
			monitorConfig.MaxTabs = cfg.Browser.MaxTabs
		}
		a.monitor = browser.NewMonitor(monitorConfig)
		a.monitor.Start()

		// 自定义UA时不强改platform,避免与UA不一致
		ua, platform := a.identity.UserAgent, a.identity.Platform
		if cfg.Browser.UserAgent != "" {
			ua, platform = cfg.Browser.UserAgent, ""
		}

		a.launcher = browser.NewLauncher(browser.Config{
			Headless:   cfg.Browser.Headless,
			Proxy:      cfg.Browser.Proxy,
			UserAgent:  ua,
			Platform:   platform,
			NavTimeout: time.Duration(cfg.Browser.NavTimeout) * time.Second,
		})
		if err := a.launcher.Start(); err != nil {
			a.monitor.Stop()
			return nil, fmt.Errorf("启动浏览器失败: %w", err)
		}
		a.tabs = browser.NewTabPool(a.launcher, a.monitor)
	}

	a.registry = core.NewRegistry()
	a.controller = core.NewController(
		core.ControllerConfig{MaxLevelRetries: cfg.RateLimit.MaxLevelRetries},
		a.registry,
		a.limiter,
		a.proxies,
		a.resolver,
		a.sessions,
	)

	return a, nil
}

// close 释放运行组件
func (a *app) close() {
	if a.tabs != nil {
		a.tabs.Close()
	}
	if a.launcher != nil {
		a.launcher.Close()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
}

// buildLadder 按层级名称列表构造策略梯子
// 可用层级: api, static, render, intercept
func (a *app) buildLadder(source string, levels []string, extra http.Header, waitSelector, interceptPattern string) ([]strategies.Strategy, error) {
	// 头部叠加顺序: 身份池 < 配置文件 < 命令行
	base := a.identity.APIHeaders()
	for name, values := range a.profiles.HeadersFor(source) {
		base[name] = values
	}
	for name, values := range extra {
		base[name] = values
	}

	ladder := make([]strategies.Strategy, 0, len(levels))
	for _, level := range levels {
		switch level {
		case "api":
			ladder = append(ladder, strategies.NewAPIStrategy("api", strategies.APIConfig{
				BaseHeaders: base,
			}))
		case "static":
			ladder = append(ladder, strategies.NewStaticStrategy("static", strategies.StaticConfig{
				UserAgent: base.Get("User-Agent"),
			}))
		case "render":
			if a.tabs == nil {
				return nil, fmt.Errorf("render层级需要浏览器支持")
			}
			ladder = append(ladder, strategies.NewRenderStrategy("render", strategies.RenderConfig{
				Selector: waitSelector,
			}, a.launcher, a.tabs))
		case "intercept":
			if a.tabs == nil {
				return nil, fmt.Errorf("intercept层级需要浏览器支持")
			}
			if interceptPattern == "" {
				return nil, fmt.Errorf("intercept层级需要 --intercept-pattern")
			}
			pattern, err := regexp.Compile(interceptPattern)
			if err != nil {
				return nil, fmt.Errorf("无效的拦截正则: %w", err)
			}
			ladder = append(ladder, strategies.NewInterceptStrategy("intercept", strategies.InterceptConfig{
				Pattern: pattern,
			}, a.launcher, a.tabs))
		default:
			return nil, fmt.Errorf("未知的策略层级: %s (有效值: api, static, render, intercept)", level)
		}
	}

	if len(ladder) == 0 {
		return nil, fmt.Errorf("策略梯子不能为空")
	}
	return ladder, nil
}

// defaultClassifier 通用防御信号分类器
// 页面文本标记优先于状态码,避免200伪装页被误判为成功
func defaultClassifier() *classify.Classifier {
	rules := []classify.Rule{
		classify.BodyMarkerRule(models.SignalCaptchaRequired,
			"g-recaptcha", "hcaptcha", "cf-turnstile", "验证码", "安全验证"),
		classify.BodyMarkerRule(models.SignalLoginRequired,
			"请先登录", "请登录后", "sign in to continue", "login required"),
		classify.URLMarkerRule(models.SignalLoginRequired, "/login", "/signin"),
		classify.BodyMarkerRule(models.SignalBanned,
			"access denied", "已被封禁", "异常流量", "unusual traffic"),
		classify.BodyMarkerRule(models.SignalRateLimited,
			"too many requests", "请求过于频繁"),
	}
	return classify.New(append(rules, classify.DefaultRules()...)...)
}

// proxyRefreshFunc 按配置构造代理列表的获取方式
// 优先级: 订阅地址 > 本地文件 > 配置内联
func proxyRefreshFunc(cfg *core.Config) proxypool.RefreshFunc {
	switch {
	case cfg.Proxy.RefreshURL != "":
		return func(ctx context.Context) ([]string, error) {
			return fetchProxyList(ctx, cfg.Proxy.RefreshURL)
		}
	case cfg.Proxy.ProxyFile != "":
		return func(ctx context.Context) ([]string, error) {
			return readProxyFile(cfg.Proxy.ProxyFile)
		}
	default:
		return func(ctx context.Context) ([]string, error) {
			return utils.FilterValidProxies(cfg.Proxy.Static), nil
		}
	}
}

// fetchProxyList 从订阅地址拉取代理列表(按行分隔)
func fetchProxyList(ctx context.Context, refreshURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, refreshURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("拉取代理列表失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("代理订阅返回状态码 %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	return utils.FilterValidProxies(strings.Split(string(body), "\n")), nil
}

// readProxyFile 从本地文件读取代理列表(按行分隔,#开头为注释)
func readProxyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开代理文件失败: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return utils.FilterValidProxies(lines), nil
}
