package browser

import (
	"fmt"
	"net/url"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// stealthScript 注入到每个页面的反检测脚本
// 覆盖webdriver标志、plugins、languages等常见指纹
const stealthScript = `
// 隐藏webdriver属性
Object.defineProperty(navigator, 'webdriver', {
	get: () => undefined
});

// 伪装plugins列表
Object.defineProperty(navigator, 'plugins', {
	get: () => [
		{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
		{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
		{ name: 'Native Client', filename: 'internal-nacl-plugin' }
	]
});

// 伪装语言列表
Object.defineProperty(navigator, 'languages', {
	get: () => ['en-US', 'en', 'zh-CN', 'zh']
});

// 隐藏自动化痕迹
window.chrome = {
	runtime: {},
	loadTimes: function() {},
	csi: function() {},
	app: {}
};

// 修正permissions查询
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
		Promise.resolve({ state: Notification.permission }) :
		originalQuery(parameters)
);
`

// Config 浏览器配置
type Config struct {
	Headless   bool          // 无头模式
	Proxy      string        // 代理地址 (可选, scheme://host:port)
	UserAgent  string        // UA (可选, 通常来自身份池)
	Platform   string        // navigator.platform, 需与UA匹配 (可选)
	NavTimeout time.Duration // 页面导航超时
}

// DefaultConfig 默认浏览器配置
func DefaultConfig() Config {
	return Config{
		Headless:   true,
		NavTimeout: 30 * time.Second,
	}
}

// Launcher 浏览器生命周期管理器
// 负责启动/关闭浏览器,以及会话凭证在浏览器和持久化格式间的搬运
type Launcher struct {
	config  Config
	browser *rod.Browser
}

// NewLauncher 创建浏览器管理器
func NewLauncher(config Config) *Launcher {
	if config.NavTimeout == 0 {
		config.NavTimeout = 30 * time.Second
	}
	return &Launcher{config: config}
}

// Start 启动浏览器并建立连接
func (bl *Launcher) Start() error {
	l := launcher.New().
		Headless(bl.config.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("ignore-certificate-errors")

	if bl.config.Proxy != "" {
		l = l.Proxy(bl.config.Proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	bl.browser = rod.New().ControlURL(controlURL)
	if err := bl.browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	return nil
}

// Browser 返回底层浏览器实例
func (bl *Launcher) Browser() *rod.Browser {
	return bl.browser
}

// NewPage 创建注入了反检测脚本的标签页
func (bl *Launcher) NewPage() (*rod.Page, error) {
	if bl.browser == nil {
		return nil, fmt.Errorf("浏览器未启动")
	}

	page, err := bl.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("注入反检测脚本失败: %w", err)
	}

	if bl.config.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: bl.config.UserAgent,
			Platform:  bl.config.Platform,
		})
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("设置UserAgent失败: %w", err)
		}
	}

	page = page.Timeout(bl.config.NavTimeout)
	return page, nil
}

// ApplySession 把持久化会话的Cookie注入浏览器
// localStorage类状态需要页面在对应origin打开后才能写入,由ApplyLocalState处理
func (bl *Launcher) ApplySession(sess *models.Session) error {
	if bl.browser == nil {
		return fmt.Errorf("浏览器未启动")
	}
	if sess == nil || len(sess.Cookies) == 0 {
		return nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}

	if err := bl.browser.SetCookies(params); err != nil {
		return fmt.Errorf("注入会话Cookie失败: %w", err)
	}

	utils.Debugf("已注入 %d 个会话Cookie", len(params))
	return nil
}

// ApplyLocalState 在已打开的页面上恢复localStorage类状态
// 页面必须已导航到目标origin,否则写入的是错误的storage分区
func (bl *Launcher) ApplyLocalState(page *rod.Page, sess *models.Session) error {
	if sess == nil || len(sess.LocalState) == 0 {
		return nil
	}

	for key, value := range sess.LocalState {
		_, err := page.Evaluate(rod.Eval(`(k, v) => localStorage.setItem(k, v)`, key, value))
		if err != nil {
			return fmt.Errorf("写入localStorage失败 (%s): %w", key, err)
		}
	}
	return nil
}

// ExportSession 从浏览器导出当前凭证状态
// originURL限定导出哪个站点的Cookie;page用于读取localStorage(可为nil)
func (bl *Launcher) ExportSession(source, originURL string, page *rod.Page) (*models.Session, error) {
	if bl.browser == nil {
		return nil, fmt.Errorf("浏览器未启动")
	}

	parsed, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("解析origin失败: %w", err)
	}

	cookies, err := bl.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("读取浏览器Cookie失败: %w", err)
	}

	sess := models.NewSession(source)
	host := parsed.Hostname()
	for _, c := range cookies {
		if !domainMatches(c.Domain, host) {
			continue
		}
		sess.Cookies = append(sess.Cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  int64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	if page != nil {
		obj, err := page.Evaluate(rod.Eval(`() => {
			const out = {};
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				out[k] = localStorage.getItem(k);
			}
			return out;
		}`))
		if err != nil {
			utils.Warnf("读取localStorage失败: %v", err)
		} else if obj != nil && obj.Value.Map() != nil {
			for key, value := range obj.Value.Map() {
				sess.LocalState[key] = value.Str()
			}
		}
	}

	utils.Infof("已导出会话: %s (Cookie数: %d)", source, len(sess.Cookies))
	return sess, nil
}

// domainMatches 判断Cookie域是否匹配目标主机
func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == "" || host == "" {
		return false
	}
	d := cookieDomain
	if d[0] == '.' {
		d = d[1:]
	}
	if host == d {
		return true
	}
	// 子域匹配: host以 .d 结尾
	return len(host) > len(d) && host[len(host)-len(d)-1] == '.' && host[len(host)-len(d):] == d
}

// Close 关闭浏览器
func (bl *Launcher) Close() {
	if bl.browser != nil {
		bl.browser.MustClose()
		bl.browser = nil
		utils.Debugf("浏览器已关闭")
	}
}
