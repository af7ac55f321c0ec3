package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cookie 会话中的单个HTTP Cookie
// 字段与浏览器导出格式对齐,缺失字段在加载时容忍
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"` // Unix秒, 0/负值表示会话Cookie
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// Session 一个来源站点的持久化认证状态
// 由会话管理器独占持有;每个来源同一时刻至多一个活动会话。
// 在成功登录/导入和优雅关闭时持久化;分类出SessionExpired信号时
// 标记为无效(不删除),下次使用强制重新认证。
type Session struct {
	Source      string            `json:"source"`                 // 来源站点标识
	Cookies     []Cookie          `json:"cookies,omitempty"`      // Cookie列表
	LocalState  map[string]string `json:"local_state,omitempty"`  // localStorage风格的键值状态
	CreatedAt   time.Time         `json:"created_at,omitempty"`   // 创建时间
	ValidatedAt time.Time         `json:"validated_at,omitempty"` // 最后验证时间
	Invalid     bool              `json:"invalid,omitempty"`      // 失效标记(不删除记录)
}

// NewSession 创建新会话
func NewSession(source string) *Session {
	now := time.Now()
	return &Session{
		Source:      source,
		LocalState:  make(map[string]string),
		CreatedAt:   now,
		ValidatedAt: now,
	}
}

// CookieValue 按名称查找Cookie值
func (s *Session) CookieValue(name string) (string, bool) {
	for _, c := range s.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// ToJSON 序列化为JSON
func (s *Session) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SessionFromJSON 从JSON反序列化
// 容忍部分/缺失字段: 只要求能解析出合法JSON对象
func SessionFromJSON(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("解析会话JSON失败: %w", err)
	}
	if sess.LocalState == nil {
		sess.LocalState = make(map[string]string)
	}
	return &sess, nil
}

// ToNetscape 导出为Netscape cookies.txt格式
// 每行: domain \t includeSubdomains \t path \t secure \t expires \t name \t value
// 供只需要HTTP Cookie的来源使用
func (s *Session) ToNetscape() string {
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, c := range s.Cookies {
		domain := c.Domain
		includeSub := "FALSE"
		if strings.HasPrefix(domain, ".") {
			includeSub = "TRUE"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		expires := c.Expires
		if expires < 0 {
			expires = 0
		}
		prefix := ""
		if c.HTTPOnly {
			prefix = "#HttpOnly_"
		}
		fmt.Fprintf(&b, "%s%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			prefix, domain, includeSub, path, secure, expires, c.Name, c.Value)
	}
	return b.String()
}

// CookiesFromNetscape 解析Netscape cookies.txt格式
// 容忍注释行、空行和字段不全的行;#HttpOnly_前缀按惯例识别
func CookiesFromNetscape(text string) []Cookie {
	cookies := make([]Cookie, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		} else if strings.HasPrefix(line, "#") {
			continue // 普通注释行
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue // 字段不全,跳过该行
		}

		expires, _ := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
		cookies = append(cookies, Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		})
	}
	return cookies
}
