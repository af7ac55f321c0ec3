package strategies

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/andybalholm/brotli"
)

// Signer 请求签名回调
// 来源站点的签名算法(如知乎的x-zse-96)各不相同,由注册方提供;
// 返回需要附加到请求上的头部
type Signer func(req *Request, fullURL string) (http.Header, error)

// APIConfig 签名API策略配置
type APIConfig struct {
	BaseHeaders http.Header   // 每次请求附带的基础头部
	Signer      Signer        // 签名回调 (可为nil)
	Timeout     time.Duration // 单请求超时
	MaxBodySize int64         // 响应体读取上限(字节)
}

// APIStrategy 直连站点内部API的策略
// 最轻量的层级: 纯HTTP请求,签名和凭证齐备时成本最低
type APIStrategy struct {
	name   string
	config APIConfig
}

// NewAPIStrategy 创建签名API策略
func NewAPIStrategy(name string, config APIConfig) *APIStrategy {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 10 << 20 // 10MB
	}
	return &APIStrategy{name: name, config: config}
}

// Name 实现Strategy接口
func (s *APIStrategy) Name() string {
	return s.name
}

// Execute 发起签名API请求
func (s *APIStrategy) Execute(ctx context.Context, req *Request) (*models.Observation, error) {
	client, err := newHTTPClient(req.Proxy, s.config.Timeout)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Target, nil)
	if err != nil {
		return nil, fmt.Errorf("构造API请求失败: %w", err)
	}

	for name, values := range s.config.BaseHeaders {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	// 会话Cookie
	if req.Session != nil {
		for _, c := range req.Session.Cookies {
			httpReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	// 站点特定签名
	if s.config.Signer != nil {
		signed, err := s.config.Signer(req, req.Target)
		if err != nil {
			return nil, fmt.Errorf("请求签名失败: %w", err)
		}
		for name, values := range signed {
			for _, v := range values {
				httpReq.Header.Set(name, v)
			}
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	body, err := decompressBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		utils.Warnf("解压响应失败 [%s]: %v", req.Target, err)
		body = raw
	}

	utils.Debugf("API请求完成 [%s]: 状态码=%d, 响应=%d bytes", req.Target, resp.StatusCode, len(body))

	return &models.Observation{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// newHTTPClient 按代理配置构造HTTP客户端
func newHTTPClient(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	if proxy != "" {
		raw := proxy
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("解析代理地址失败: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// decompressBody 按Content-Encoding解压响应体
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case "", "identity":
		return body, nil

	default:
		return nil, fmt.Errorf("不支持的压缩编码: %s", encoding)
	}
}
