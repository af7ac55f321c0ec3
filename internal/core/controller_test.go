package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/captcha"
	"github.com/RecoveryAshes/ScrapeSiege/internal/classify"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/proxypool"
	"github.com/RecoveryAshes/ScrapeSiege/internal/ratelimit"
	"github.com/RecoveryAshes/ScrapeSiege/internal/session"
	"github.com/RecoveryAshes/ScrapeSiege/internal/strategies"
)

// scriptedStrategy 按脚本依次返回信号标记的假策略
type scriptedStrategy struct {
	name  string
	mu    sync.Mutex
	sigs  []models.Signal // 依次返回的信号,耗尽后重复最后一个
	calls int
	seen  []*strategies.Request // 每次调用的请求快照
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Execute(ctx context.Context, req *strategies.Request) (*models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := *req
	s.seen = append(s.seen, &snapshot)

	idx := s.calls
	if idx >= len(s.sigs) {
		idx = len(s.sigs) - 1
	}
	s.calls++

	return &models.Observation{
		StatusCode: 200,
		URL:        req.Target,
		Body:       []byte("payload-" + s.name),
		Meta:       map[string]string{"sig": string(s.sigs[idx])},
	}, nil
}

func (s *scriptedStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fixedEgressStrategy 模拟走浏览器固定出口的假策略
type fixedEgressStrategy struct {
	scriptedStrategy
}

func (s *fixedEgressStrategy) FixedEgress() {}

// scriptedRules 每个信号一条规则,按Meta标记精确命中
func scriptedRules() []classify.Rule {
	all := []models.Signal{
		models.SignalOk, models.SignalLoginRequired, models.SignalSessionExpired,
		models.SignalRateLimited, models.SignalCaptchaRequired, models.SignalBanned,
		models.SignalContentNotFound, models.SignalPaywalled,
	}
	rules := make([]classify.Rule, 0, len(all))
	for _, sig := range all {
		rules = append(rules, classify.MetaRule(sig, "sig", string(sig)))
	}
	return rules
}

// fastLimiter 无自我延迟的限流器,退避极短,测试不等待
func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		PerMinute:   10000,
		PerHour:     100000,
		MinDelay:    0,
		MaxDelay:    0,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		Jitter:      0,
	})
}

type testEnv struct {
	registry *Registry
	sessions *session.Manager
	ctrl     *Controller
}

func newTestEnv(t *testing.T, pool *proxypool.Pool, resolver captcha.Resolver) *testEnv {
	t.Helper()
	registry := NewRegistry()
	sessions := session.NewManager(session.NewStore(t.TempDir()))
	ctrl := NewController(DefaultControllerConfig(), registry, fastLimiter(), pool, resolver, sessions)
	return &testEnv{registry: registry, sessions: sessions, ctrl: ctrl}
}

func (e *testEnv) register(t *testing.T, source string, useSession bool, useProxy bool, strats ...strategies.Strategy) {
	t.Helper()
	err := e.registry.Register(&Capability{
		Source:     source,
		Strategies: strats,
		Classifier: classify.New(scriptedRules()...),
		UseSession: useSession,
		UseProxy:   useProxy,
	})
	if err != nil {
		t.Fatalf("注册来源失败: %v", err)
	}
}

func importSession(t *testing.T, e *testEnv, source string) {
	t.Helper()
	sess := models.NewSession(source)
	sess.Cookies = []models.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}
	if err := e.sessions.Import(sess); err != nil {
		t.Fatalf("导入会话失败: %v", err)
	}
}

func TestController_Escalation(t *testing.T) {
	t.Run("逐级升级直到成功层级", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalUnknown}}
		b := &scriptedStrategy{name: "intercept", sigs: []models.Signal{models.SignalUnknown}}
		c := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalOk}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", false, false, a, b, c)

		result, err := env.ctrl.Run(context.Background(), &Invocation{
			Source: "example", Op: "fetch", Target: "https://example.com/x",
		})
		if err != nil {
			t.Fatalf("期望成功, 实际 %v", err)
		}

		if result.Level != 2 || result.LevelName != "dom" {
			t.Errorf("结果层级标记错误: L%d(%s)", result.Level, result.LevelName)
		}
		if string(result.Payload) != "payload-dom" {
			t.Errorf("载荷不匹配: %s", result.Payload)
		}
		if result.AttemptID == "" {
			t.Error("缺少attempt_id")
		}
		// Unknown立即升级,前两级各执行一次且不超过重试上限
		if a.callCount() != 1 || b.callCount() != 1 {
			t.Errorf("前两级调用次数异常: a=%d b=%d", a.callCount(), b.callCount())
		}
	})

	t.Run("梯子耗尽返回StrategyExhausted并带层级轨迹", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalUnknown}}
		b := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalUnknown}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", false, false, a, b)

		_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailStrategyExhausted) {
			t.Fatalf("期望StrategyExhausted, 实际 %v", err)
		}

		var se *models.ScrapeError
		if !asScrapeError(err, &se) {
			t.Fatal("期望ScrapeError类型")
		}
		if len(se.Levels) != 2 {
			t.Fatalf("层级轨迹不完整: %+v", se.Levels)
		}
		if se.Levels[0].Name != "api" || se.Levels[1].Name != "dom" {
			t.Errorf("层级名称不匹配: %+v", se.Levels)
		}
		if se.Levels[0].Signal != models.SignalUnknown {
			t.Errorf("层级信号不匹配: %+v", se.Levels[0])
		}
	})

	t.Run("限流信号在同层级重试", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{
			models.SignalRateLimited, models.SignalOk,
		}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", false, false, a)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望成功, 实际 %v", err)
		}
		if result.Level != 0 {
			t.Errorf("期望同层级重试成功, 实际层级 %d", result.Level)
		}
		if a.callCount() != 2 {
			t.Errorf("期望执行2次, 实际 %d", a.callCount())
		}
	})

	t.Run("限流重试达到上限后升级", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalRateLimited}}
		b := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalOk}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", false, false, a, b)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望成功, 实际 %v", err)
		}
		if result.Level != 1 {
			t.Errorf("期望升级到L1, 实际 %d", result.Level)
		}
		if a.callCount() != DefaultControllerConfig().MaxLevelRetries {
			t.Errorf("L0调用次数应等于重试上限, 实际 %d", a.callCount())
		}
	})
}

func TestController_TerminalSignals(t *testing.T) {
	t.Run("会话过期立即失败且不再尝试后续层级", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalSessionExpired}}
		b := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalOk}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", true, false, a, b)
		importSession(t, env, "example")

		_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailSessionExpired) {
			t.Fatalf("期望SessionExpired, 实际 %v", err)
		}
		if b.callCount() != 0 {
			t.Error("会话过期后不应尝试后续层级")
		}

		// 会话被标记无效,下次调用直接NotLoggedIn
		_, err = env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailNotLoggedIn) {
			t.Errorf("期望NotLoggedIn, 实际 %v", err)
		}
	})

	t.Run("无持久化会话不执行任何策略", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalOk}}

		env := newTestEnv(t, nil, nil)
		env.register(t, "example", true, false, a)

		_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailNotLoggedIn) {
			t.Fatalf("期望NotLoggedIn, 实际 %v", err)
		}
		if a.callCount() != 0 {
			t.Error("无会话时不应执行策略")
		}
	})

	t.Run("内容不存在与付费墙立即失败", func(t *testing.T) {
		tests := []struct {
			sig  models.Signal
			kind models.FailKind
		}{
			{models.SignalContentNotFound, models.FailContentNotFound},
			{models.SignalPaywalled, models.FailPaywalled},
		}
		for _, tt := range tests {
			a := &scriptedStrategy{name: "api", sigs: []models.Signal{tt.sig}}
			b := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalOk}}

			env := newTestEnv(t, nil, nil)
			env.register(t, "example", false, false, a, b)

			_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
			if !models.IsKind(err, tt.kind) {
				t.Errorf("信号%s: 期望%s, 实际 %v", tt.sig, tt.kind, err)
			}
			if b.callCount() != 0 {
				t.Errorf("信号%s: 不应尝试后续层级", tt.sig)
			}
		}
	})
}

func TestController_Deadline(t *testing.T) {
	t.Run("deadline到期返回Timeout且不再执行", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalRateLimited}}

		env := newTestEnv(t, nil, nil)
		// 限流退避拉长,保证deadline先到
		env.ctrl.limiter = ratelimit.New(ratelimit.Config{
			PerMinute: 10000, PerHour: 100000,
			BackoffBase: time.Second, BackoffMax: time.Second,
		})
		env.register(t, "example", false, false, a)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := env.ctrl.Run(ctx, &Invocation{Source: "example", Op: "fetch", Target: "u"})
		kind, ok := models.KindOf(err)
		if !ok || (kind != models.FailTimeout && kind != models.FailRateLimited) {
			t.Fatalf("期望Timeout或限流等待超时, 实际 %v", err)
		}

		calls := a.callCount()
		time.Sleep(50 * time.Millisecond)
		if a.callCount() != calls {
			t.Error("deadline后不应再有策略执行")
		}
	})
}

// tokenResolver 立即返回固定令牌的假解决器
type tokenResolver struct{ token string }

func (r *tokenResolver) Resolve(ctx context.Context, ch *captcha.Challenge) (*captcha.Solution, error) {
	return &captcha.Solution{Token: r.token}, nil
}
func (r *tokenResolver) Name() string { return "fake" }

func TestController_Captcha(t *testing.T) {
	t.Run("解出令牌后同层级重试一次", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{
			models.SignalCaptchaRequired, models.SignalOk,
		}}

		env := newTestEnv(t, nil, &tokenResolver{token: "tok-1"})
		env.register(t, "example", false, false, a)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望成功, 实际 %v", err)
		}
		if result.Level != 0 {
			t.Errorf("期望同层级重试成功, 实际 %d", result.Level)
		}

		// 第二次执行时令牌已注入参数
		a.mu.Lock()
		second := a.seen[1]
		a.mu.Unlock()
		if second.Param("captcha_token") != "tok-1" {
			t.Errorf("令牌未回传策略: %q", second.Param("captcha_token"))
		}
	})

	t.Run("未解决时升级而非重试", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalCaptchaRequired}}
		b := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalOk}}

		env := newTestEnv(t, nil, captcha.NewNullResolver())
		env.register(t, "example", false, false, a, b)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望升级后成功, 实际 %v", err)
		}
		if result.Level != 1 {
			t.Errorf("期望升级到L1, 实际 %d", result.Level)
		}
		if a.callCount() != 1 {
			t.Errorf("未解决时L0不应重试: %d", a.callCount())
		}
	})

	t.Run("末级验证码未解决归类为CaptchaUnresolved", func(t *testing.T) {
		a := &scriptedStrategy{name: "dom", sigs: []models.Signal{models.SignalCaptchaRequired}}

		env := newTestEnv(t, nil, captcha.NewNullResolver())
		env.register(t, "example", false, false, a)

		_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailCaptchaUnresolved) {
			t.Fatalf("期望CaptchaUnresolved, 实际 %v", err)
		}
	})
}

func TestController_Proxy(t *testing.T) {
	t.Run("封禁信号换代理重试", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{
			models.SignalBanned, models.SignalOk,
		}}

		pool := proxypool.New(proxypool.DefaultConfig(), func(ctx context.Context) ([]string, error) {
			return []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"}, nil
		})

		env := newTestEnv(t, pool, nil)
		env.register(t, "example", false, true, a)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望成功, 实际 %v", err)
		}
		if result.Level != 0 {
			t.Errorf("期望换代理后同层级成功, 实际 %d", result.Level)
		}

		a.mu.Lock()
		first, second := a.seen[0], a.seen[1]
		a.mu.Unlock()
		if first.Proxy == "" || second.Proxy == "" {
			t.Error("两次执行都应携带代理")
		}
	})

	t.Run("出口固定的层级不抽取代理且封禁直接升级", func(t *testing.T) {
		render := &fixedEgressStrategy{scriptedStrategy{
			name: "render", sigs: []models.Signal{models.SignalBanned},
		}}
		api := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalOk}}

		pool := proxypool.New(proxypool.DefaultConfig(), func(ctx context.Context) ([]string, error) {
			return []string{"http://10.0.0.1:8080"}, nil
		})

		env := newTestEnv(t, pool, nil)
		env.register(t, "example", false, true, render, api)

		result, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if err != nil {
			t.Fatalf("期望升级后成功, 实际 %v", err)
		}
		if result.Level != 1 {
			t.Errorf("期望升级到L1, 实际 %d", result.Level)
		}

		// 封禁时不换代理,直接升级
		if render.callCount() != 1 {
			t.Errorf("出口固定层级封禁后不应重试: %d", render.callCount())
		}
		render.mu.Lock()
		renderReq := render.seen[0]
		render.mu.Unlock()
		if renderReq.Proxy != "" {
			t.Errorf("出口固定层级不应携带池内代理: %q", renderReq.Proxy)
		}

		// 升级到普通层级后照常抽取
		api.mu.Lock()
		apiReq := api.seen[0]
		api.mu.Unlock()
		if apiReq.Proxy == "" {
			t.Error("普通层级应携带池内代理")
		}
	})

	t.Run("空代理池直接ProxyExhausted", func(t *testing.T) {
		a := &scriptedStrategy{name: "api", sigs: []models.Signal{models.SignalOk}}

		pool := proxypool.New(proxypool.DefaultConfig(), func(ctx context.Context) ([]string, error) {
			return nil, nil
		})

		env := newTestEnv(t, pool, nil)
		env.register(t, "example", false, true, a)

		_, err := env.ctrl.Run(context.Background(), &Invocation{Source: "example", Op: "fetch", Target: "u"})
		if !models.IsKind(err, models.FailProxyExhausted) {
			t.Fatalf("期望ProxyExhausted, 实际 %v", err)
		}
		if a.callCount() != 0 {
			t.Error("无代理时不应执行策略")
		}
	})
}

func asScrapeError(err error, target **models.ScrapeError) bool {
	for err != nil {
		if se, ok := err.(*models.ScrapeError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
