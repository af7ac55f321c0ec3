package strategies

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
)

// pageTextLimit 提取页面可见文本的上限
// 信号分类只看开头一段,对齐站点拦截页的提示文案位置
const pageTextLimit = 2000

// StaticConfig 静态页面策略配置
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticStrategy 静态页面抓取策略
// 不渲染JS,直接拉取HTML;适合服务端渲染的内容页
type StaticStrategy struct {
	name   string
	config StaticConfig
}

// NewStaticStrategy 创建静态页面策略
func NewStaticStrategy(name string, config StaticConfig) *StaticStrategy {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &StaticStrategy{name: name, config: config}
}

// Name 实现Strategy接口
func (s *StaticStrategy) Name() string {
	return s.name
}

// Execute 拉取静态页面
func (s *StaticStrategy) Execute(ctx context.Context, req *Request) (*models.Observation, error) {
	c := colly.NewCollector()
	c.SetRequestTimeout(s.config.Timeout)
	c.WithTransport(&http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	})

	if s.config.UserAgent != "" {
		c.UserAgent = s.config.UserAgent
	}
	if req.Proxy != "" {
		if err := c.SetProxy(req.Proxy); err != nil {
			return nil, fmt.Errorf("设置代理失败: %w", err)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}

		if req.Session != nil {
			cookies := make([]string, 0, len(req.Session.Cookies))
			for _, ck := range req.Session.Cookies {
				cookies = append(cookies, ck.Name+"="+ck.Value)
			}
			if len(cookies) > 0 {
				r.Headers.Set("Cookie", strings.Join(cookies, "; "))
			}
		}
	})

	var obs *models.Observation
	c.OnResponse(func(r *colly.Response) {
		obs = &models.Observation{
			StatusCode: r.StatusCode,
			URL:        r.Request.URL.String(),
			Header:     http.Header(*r.Headers),
			Body:       r.Body,
			Meta: map[string]string{
				"page_text": extractPageText(r.Body),
			},
		}
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		// 非2xx响应colly按错误回调,但对分类来说是有效观察结果
		if r != nil && r.StatusCode > 0 {
			obs = &models.Observation{
				StatusCode: r.StatusCode,
				URL:        r.Request.URL.String(),
				Header:     http.Header(*r.Headers),
				Body:       r.Body,
				Meta: map[string]string{
					"page_text": extractPageText(r.Body),
				},
			}
			return
		}
		fetchErr = err
	})

	if err := c.Visit(req.Target); err != nil && obs == nil {
		return nil, fmt.Errorf("静态抓取失败: %w", err)
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if obs == nil {
		if fetchErr != nil {
			return nil, fmt.Errorf("静态抓取失败: %w", fetchErr)
		}
		return nil, fmt.Errorf("静态抓取未得到响应: %s", req.Target)
	}

	utils.Debugf("静态抓取完成 [%s]: 状态码=%d", req.Target, obs.StatusCode)
	return obs, nil
}

// extractPageText 提取HTML的可见文本开头一段
// script/style内容不算可见文本
func extractPageText(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if b.Len() >= pageTextLimit {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := b.String()
	if len(text) > pageTextLimit {
		text = text[:pageTextLimit]
	}
	return text
}
