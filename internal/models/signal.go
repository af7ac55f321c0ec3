package models

// Signal 防御信号
// 由信号分类器从单次尝试的原始观察结果中产生,驱动升级控制器的状态转移。
// 每次观察恰好产生一个Signal,不做持久化。
type Signal string

const (
	SignalOk              Signal = "ok"                // 成功
	SignalLoginRequired   Signal = "login_required"    // 需要登录
	SignalSessionExpired  Signal = "session_expired"   // 会话已过期
	SignalRateLimited     Signal = "rate_limited"      // 触发限流
	SignalCaptchaRequired Signal = "captcha_required"  // 需要验证码
	SignalBanned          Signal = "banned"            // IP/代理被封禁
	SignalContentNotFound Signal = "content_not_found" // 内容不存在
	SignalPaywalled       Signal = "paywalled"         // 付费墙
	SignalUnknown         Signal = "unknown"           // 未识别的防御行为
)

// String 返回信号的字符串表示
func (s Signal) String() string {
	return string(s)
}

// IsTerminal 判断信号是否为终止信号
// 终止信号不做同级重试,也不升级到下一策略层级:
//   - SessionExpired / LoginRequired: 所有层级共享同一无效会话,升级无意义
//   - ContentNotFound / Paywalled: 升级不会改变内容本身的状态
func (s Signal) IsTerminal() bool {
	switch s {
	case SignalSessionExpired, SignalLoginRequired, SignalContentNotFound, SignalPaywalled:
		return true
	}
	return false
}
