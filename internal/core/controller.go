package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/captcha"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/proxypool"
	"github.com/RecoveryAshes/ScrapeSiege/internal/ratelimit"
	"github.com/RecoveryAshes/ScrapeSiege/internal/session"
	"github.com/RecoveryAshes/ScrapeSiege/internal/strategies"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/google/uuid"
)

// captchaTokenParam 解出的验证码令牌通过该参数回传给策略
const captchaTokenParam = "captcha_token"

// ControllerConfig 升级控制器配置
type ControllerConfig struct {
	// MaxLevelRetries 同一层级的重试上限
	// 达到上限后无条件升级,杜绝对顽固目标的无限重试
	MaxLevelRetries int
}

// DefaultControllerConfig 默认控制器配置
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{MaxLevelRetries: 3}
}

// Controller 策略升级控制器
// 在策略梯子上运行有界状态机: 信号驱动的重试/升级全部封闭在内部,
// 只有成功或一种类型化失败穿过边界
type Controller struct {
	config   ControllerConfig
	registry *Registry
	limiter  *ratelimit.Limiter
	proxies  *proxypool.Pool // 可为nil (不走代理)
	captcha  captcha.Resolver
	sessions *session.Manager
}

// NewController 创建控制器
// limiter/sessions必填;proxies可为nil;resolver为nil时使用空解决器
func NewController(
	config ControllerConfig,
	registry *Registry,
	limiter *ratelimit.Limiter,
	proxies *proxypool.Pool,
	resolver captcha.Resolver,
	sessions *session.Manager,
) *Controller {
	if config.MaxLevelRetries <= 0 {
		config.MaxLevelRetries = 3
	}
	if resolver == nil {
		resolver = captcha.NewNullResolver()
	}
	return &Controller{
		config:   config,
		registry: registry,
		limiter:  limiter,
		proxies:  proxies,
		captcha:  resolver,
		sessions: sessions,
	}
}

// Invocation 一次提取调用的输入
type Invocation struct {
	Source string
	Op     string
	Target string
	Params map[string]string
}

// Run 执行一次提取调用
// 调用方的deadline通过ctx传入;到期后不再有任何准入或代理抽取
func (c *Controller) Run(ctx context.Context, inv *Invocation) (*models.StrategyResult, error) {
	started := time.Now()
	attemptID := uuid.NewString()

	cap, ok := c.registry.Lookup(inv.Source)
	if !ok {
		return nil, fmt.Errorf("未注册的来源: %s", inv.Source)
	}

	utils.Infof("🚀 开始提取 [%s/%s]: %s (attempt=%s)", inv.Source, inv.Op, inv.Target, attemptID)

	// 会话获取在任何策略执行之前
	// 无持久化会话直接以NotLoggedIn终止,不消耗限额
	var sess *models.Session
	if cap.UseSession {
		handle, err := c.sessions.Acquire(ctx, inv.Source)
		if err != nil {
			if errors.Is(err, session.ErrNotLoggedIn) {
				return nil, models.NewScrapeError(models.FailNotLoggedIn, inv.Source, inv.Op, err)
			}
			if ctx.Err() != nil {
				return nil, models.NewScrapeError(models.FailTimeout, inv.Source, inv.Op, ctx.Err())
			}
			return nil, fmt.Errorf("获取会话失败: %w", err)
		}
		defer handle.Close()
		sess = handle.Session()
	}

	params := make(map[string]string, len(inv.Params))
	for k, v := range inv.Params {
		params[k] = v
	}

	req := &strategies.Request{
		Source:  inv.Source,
		Op:      inv.Op,
		Target:  inv.Target,
		Params:  params,
		Session: sess,
	}

	run := &attemptRun{
		controller: c,
		cap:        cap,
		inv:        inv,
		req:        req,
	}

	result, err := run.climb(ctx)
	if err != nil {
		utils.Warnf("❌ 提取失败 [%s/%s]: %v", inv.Source, inv.Op, err)
		return nil, err
	}

	result.AttemptID = attemptID
	result.Elapsed = time.Since(started)
	utils.Infof("✅ 提取成功 [%s/%s]: 层级=%d(%s), 耗时=%.2fs",
		inv.Source, inv.Op, result.Level, result.LevelName, result.Elapsed.Seconds())
	return result, nil
}

// attemptRun 单次调用的状态机上下文
type attemptRun struct {
	controller *Controller
	cap        *Capability
	inv        *Invocation
	req        *strategies.Request

	proxy     *proxypool.ProxyRecord
	drewProxy bool // 本次调用是否抽取过代理
	outcomes  []models.LevelOutcome
}

// climb 沿策略梯子逐级执行
func (r *attemptRun) climb(ctx context.Context) (*models.StrategyResult, error) {
	for i, strat := range r.cap.Strategies {
		result, signal, err := r.runLevel(ctx, i, strat)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		r.outcomes = append(r.outcomes, models.LevelOutcome{
			Level:  i,
			Name:   strat.Name(),
			Signal: signal,
		})
		utils.Debugf("层级升级 [%s]: L%d(%s) 最后信号=%s", r.inv.Source, i, strat.Name(), signal)
	}

	// 梯子耗尽
	last := r.outcomes[len(r.outcomes)-1]
	kind := models.FailStrategyExhausted
	if last.Signal == models.SignalCaptchaRequired {
		// 末级败于未解决的验证码,按验证码失败归类
		kind = models.FailCaptchaUnresolved
	}
	e := models.NewScrapeError(kind, r.inv.Source, r.inv.Op, nil)
	e.Levels = r.outcomes
	return nil, e
}

// runLevel 在单个层级上运行有界重试循环
// 返回 (成功结果, _, nil) 或 (nil, 最后信号, nil) 表示升级,
// 或 (nil, _, 类型化失败) 终止整次调用
func (r *attemptRun) runLevel(ctx context.Context, level int, strat strategies.Strategy) (*models.StrategyResult, models.Signal, error) {
	c := r.controller
	attempts := 0
	captchaRetried := false
	lastSignal := models.SignalUnknown

	// 出口固定的层级不走池内代理: 不抽取、不上报、封禁时不换代理
	_, fixedEgress := strat.(strategies.FixedEgress)
	usesPool := r.cap.UseProxy && c.proxies != nil && !fixedEgress

	for {
		if ctx.Err() != nil {
			return nil, lastSignal, r.timeout(ctx)
		}

		// 限流准入;在准入等待中到期按RateLimited归类
		if err := c.limiter.Admit(ctx, r.cap.RateKey); err != nil {
			return nil, lastSignal, models.NewScrapeError(models.FailRateLimited, r.inv.Source, r.inv.Op, err)
		}

		if usesPool {
			if err := r.ensureProxy(ctx); err != nil {
				return nil, lastSignal, err
			}
		} else {
			r.req.Proxy = ""
		}

		obs, err := strat.Execute(ctx, r.req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, lastSignal, r.timeout(ctx)
			}
			// 传输层失败按Unknown处理: 升级到下一层级
			utils.Warnf("策略执行失败 [%s L%d]: %v", r.inv.Source, level, err)
			if usesPool {
				r.reportProxy(false)
			}
			return nil, models.SignalUnknown, nil
		}

		signal := r.cap.Classifier.Classify(obs)
		lastSignal = signal
		utils.Debugf("信号分类 [%s L%d(%s)]: %s", r.inv.Source, level, strat.Name(), signal)

		switch signal {
		case models.SignalOk:
			c.limiter.RecordOK(r.cap.RateKey)
			if usesPool {
				r.reportProxy(true)
			}
			return &models.StrategyResult{
				Payload:   obs.Body,
				Level:     level,
				LevelName: strat.Name(),
			}, signal, nil

		case models.SignalRateLimited:
			c.limiter.RecordRateLimited(r.cap.RateKey)
			attempts++
			if attempts >= c.config.MaxLevelRetries {
				return nil, signal, nil // 升级
			}
			continue

		case models.SignalCaptchaRequired:
			if captchaRetried {
				return nil, signal, nil // 令牌重试只给一次
			}
			token, err := r.resolveCaptcha(ctx, obs)
			if err != nil {
				if ctx.Err() != nil {
					return nil, signal, r.timeout(ctx)
				}
				utils.Warnf("验证码未解决 [%s L%d]", r.inv.Source, level)
				return nil, signal, nil // 升级
			}
			r.req.Params[captchaTokenParam] = token
			captchaRetried = true
			continue

		case models.SignalBanned:
			c.limiter.RecordBlocked(r.cap.RateKey)
			attempts++
			if usesPool {
				r.reportProxy(false)
			}
			if attempts >= c.config.MaxLevelRetries {
				return nil, signal, nil
			}
			if usesPool {
				if err := r.redrawProxy(ctx); err != nil {
					if errors.Is(err, proxypool.ErrExhausted) {
						utils.Warnf("代理池耗尽 [%s L%d], 升级层级", r.inv.Source, level)
						return nil, signal, nil
					}
					return nil, signal, err
				}
				continue
			}
			// 无代理可换,换层级
			return nil, signal, nil

		case models.SignalSessionExpired:
			c.sessions.Invalidate(r.inv.Source)
			return nil, signal, r.terminal(models.FailSessionExpired)

		case models.SignalLoginRequired:
			return nil, signal, r.terminal(models.FailNotLoggedIn)

		case models.SignalContentNotFound:
			return nil, signal, r.terminal(models.FailContentNotFound)

		case models.SignalPaywalled:
			return nil, signal, r.terminal(models.FailPaywalled)

		default: // Unknown
			return nil, signal, nil
		}
	}
}

// ensureProxy 确保首次使用前已抽取代理
// 首次抽取就耗尽按ProxyExhausted终止整次调用
func (r *attemptRun) ensureProxy(ctx context.Context) error {
	if !r.cap.UseProxy || r.controller.proxies == nil {
		return nil
	}
	if r.proxy != nil {
		// 经过出口固定层级后请求上的代理可能被清掉,这里补回
		r.req.Proxy = r.proxy.Address
		return nil
	}

	rec, err := r.controller.proxies.Acquire(ctx)
	if err != nil {
		if errors.Is(err, proxypool.ErrExhausted) && !r.drewProxy {
			e := models.NewScrapeError(models.FailProxyExhausted, r.inv.Source, r.inv.Op, err)
			return e
		}
		return fmt.Errorf("抽取代理失败: %w", err)
	}
	r.proxy = rec
	r.drewProxy = true
	r.req.Proxy = rec.Address
	return nil
}

// redrawProxy 丢弃当前代理并抽取新代理
func (r *attemptRun) redrawProxy(ctx context.Context) error {
	r.proxy = nil
	r.req.Proxy = ""
	rec, err := r.controller.proxies.Acquire(ctx)
	if err != nil {
		return err
	}
	r.proxy = rec
	r.drewProxy = true
	r.req.Proxy = rec.Address
	return nil
}

// reportProxy 上报当前代理的使用结果
func (r *attemptRun) reportProxy(success bool) {
	if r.proxy != nil && r.controller.proxies != nil {
		r.controller.proxies.Report(r.proxy, success)
	}
}

// resolveCaptcha 调用解决器换取令牌
func (r *attemptRun) resolveCaptcha(ctx context.Context, obs *models.Observation) (string, error) {
	var challenge *captcha.Challenge
	if r.cap.Challenge != nil {
		challenge = r.cap.Challenge(obs, r.req)
	}
	if challenge == nil {
		challenge = &captcha.Challenge{
			Type:    captcha.TypeCustom,
			SiteURL: obs.URL,
		}
	}

	solution, err := r.controller.captcha.Resolve(ctx, challenge)
	if err != nil {
		return "", err
	}
	if solution.Token != "" {
		return solution.Token, nil
	}
	return solution.Text, nil
}

// terminal 构造终止失败
func (r *attemptRun) terminal(kind models.FailKind) error {
	return models.NewScrapeError(kind, r.inv.Source, r.inv.Op, nil)
}

// timeout 构造超时失败
func (r *attemptRun) timeout(ctx context.Context) error {
	return models.NewScrapeError(models.FailTimeout, r.inv.Source, r.inv.Op, ctx.Err())
}
