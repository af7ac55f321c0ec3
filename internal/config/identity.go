package config

import (
	"math/rand"
	"net/http"
)

// Identity 一套自洽的浏览器身份
// UA、Sec-Ch-Ua客户端提示和navigator.platform必须互相匹配,
// 混搭的身份会被指纹检测识破
type Identity struct {
	UserAgent       string
	SecChUa         string // Chrome系才有, Safari/Firefox为空
	SecChUaPlatform string
	SecChUaMobile   string
	Platform        string // navigator.platform
}

// identities 内置身份池
var identities = []Identity{
	// Chrome 131 - macOS
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaPlatform: `"macOS"`,
		SecChUaMobile:   "?0",
		Platform:        "MacIntel",
	},
	// Chrome 131 - Windows
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaPlatform: `"Windows"`,
		SecChUaMobile:   "?0",
		Platform:        "Win32",
	},
	// Safari 17 - macOS (无Sec-Ch-Ua头)
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
			"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		SecChUaPlatform: `"macOS"`,
		SecChUaMobile:   "?0",
		Platform:        "MacIntel",
	},
	// Firefox 121 - Windows (无Sec-Ch-Ua头)
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		SecChUaPlatform: `"Windows"`,
		SecChUaMobile:   "?0",
		Platform:        "Win32",
	},
}

// RandomIdentity 从身份池随机挑选一套浏览器身份
// 一次运行期间应固定使用同一套,请求间切换身份反而更像机器人
func RandomIdentity() Identity {
	return identities[rand.Intn(len(identities))]
}

// clientHints 填入Sec-Ch-Ua系列头部, 仅对Chrome系身份生效
func (id Identity) clientHints(h http.Header) {
	if id.SecChUa == "" {
		return
	}
	h.Set("Sec-Ch-Ua", id.SecChUa)
	h.Set("Sec-Ch-Ua-Mobile", id.SecChUaMobile)
	h.Set("Sec-Ch-Ua-Platform", id.SecChUaPlatform)
}

// NavigationHeaders 构造模拟真实浏览器页面导航的头部
func (id Identity) NavigationHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", id.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	id.clientHints(h)
	return h
}

// APIHeaders 构造模拟XHR/fetch风格API请求的头部
func (id Identity) APIHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", id.UserAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	id.clientHints(h)
	return h
}
