package utils

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// sourceNameRegex 来源标识: 小写字母数字、连字符、下划线
	// 来源标识会作为会话目录名落盘,必须排除路径分隔符
	sourceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	// supportedProxySchemes 支持的代理协议
	supportedProxySchemes = map[string]bool{
		"http":   true,
		"https":  true,
		"socks5": true,
	}
)

// ValidateSourceName 验证来源站点标识
func ValidateSourceName(name string) error {
	if name == "" {
		return fmt.Errorf("来源标识不能为空")
	}
	if !sourceNameRegex.MatchString(name) {
		return fmt.Errorf("来源标识 %q 非法 (仅允许小写字母、数字、连字符和下划线)", name)
	}
	return nil
}

// ValidateProxyAddress 验证代理地址
// 接受 scheme://host:port 或裸 host:port (按http处理)
func ValidateProxyAddress(address string) error {
	if address == "" {
		return fmt.Errorf("代理地址不能为空")
	}

	raw := address
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("代理地址格式无效: %w", err)
	}

	if !supportedProxySchemes[parsed.Scheme] {
		return fmt.Errorf("代理协议 %q 不支持 (仅http/https/socks5)", parsed.Scheme)
	}

	host, port, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		return fmt.Errorf("代理地址缺少端口: %w", err)
	}
	if host == "" {
		return fmt.Errorf("代理地址缺少主机名")
	}
	if port == "" {
		return fmt.Errorf("代理地址缺少端口")
	}

	return nil
}

// FilterValidProxies 过滤出合法的代理地址
// 非法地址记录警告后丢弃,供代理刷新回调使用
func FilterValidProxies(addresses []string) []string {
	valid := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := ValidateProxyAddress(addr); err != nil {
			Warnf("跳过无效代理地址: %s - %v", addr, err)
			continue
		}
		valid = append(valid, addr)
	}
	return valid
}
