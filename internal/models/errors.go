package models

import (
	"errors"
	"fmt"
	"strings"
)

// FailKind 失败种类
// 核心边界对外暴露的错误分类,每个Failed终态恰好映射到一种FailKind。
type FailKind string

const (
	FailNotLoggedIn       FailKind = "not_logged_in"      // 无持久化会话,需先登录/导入
	FailSessionExpired    FailKind = "session_expired"    // 会话失效,需重新认证
	FailRateLimited       FailKind = "rate_limited"       // 限流等待超出调用方期限
	FailCaptchaUnresolved FailKind = "captcha_unresolved" // 验证码未能解决
	FailContentNotFound   FailKind = "content_not_found"  // 内容不存在
	FailPaywalled         FailKind = "paywalled"          // 付费墙
	FailProxyExhausted    FailKind = "proxy_exhausted"    // 代理池耗尽
	FailStrategyExhausted FailKind = "strategy_exhausted" // 所有策略层级均失败
	FailTimeout           FailKind = "timeout"            // 调用方期限到期
)

// LevelOutcome 记录一个策略层级最后观察到的信号
// 用于StrategyExhausted的诊断信息
type LevelOutcome struct {
	Level  int    `json:"level"`  // 层级序号(0起)
	Name   string `json:"name"`   // 策略名称
	Signal Signal `json:"signal"` // 该层级最后一次分类出的信号
}

// ScrapeError 核心对外的类型化失败
// 信号驱动的重试/升级完全封闭在控制器内部,只有终态(成功或一种FailKind)
// 穿过核心边界。
type ScrapeError struct {
	Kind   FailKind       // 失败种类
	Source string         // 来源站点标识
	Op     string         // 操作名称
	Levels []LevelOutcome // 各层级最后信号 (仅StrategyExhausted填充)
	Err    error          // 底层错误(可选)
}

// Error 实现error接口
func (e *ScrapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s", e.Kind, e.Source, e.Op)
	if len(e.Levels) > 0 {
		parts := make([]string, 0, len(e.Levels))
		for _, lv := range e.Levels {
			parts = append(parts, fmt.Sprintf("L%d(%s)=%s", lv.Level, lv.Name, lv.Signal))
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap 返回底层错误
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError 创建类型化失败
func NewScrapeError(kind FailKind, source, op string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Source: source, Op: op, Err: err}
}

// KindOf 提取错误对应的FailKind
// 非ScrapeError返回空串和false
func KindOf(err error) (FailKind, bool) {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsKind 判断错误是否为指定FailKind
func IsKind(err error, kind FailKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
