package strategies

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
)

func TestStaticStrategy_Execute(t *testing.T) {
	t.Run("抓取页面并提取可见文本", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><head><style>.x{color:red}</style></head>
				<body><h1>文章标题</h1><p>正文内容</p>
				<script>var hidden = "不可见";</script></body></html>`))
		}))
		defer srv.Close()

		s := NewStaticStrategy("static", StaticConfig{})
		obs, err := s.Execute(context.Background(), &Request{Target: srv.URL})
		if err != nil {
			t.Fatalf("执行失败: %v", err)
		}

		if obs.StatusCode != 200 {
			t.Errorf("状态码不匹配: %d", obs.StatusCode)
		}
		text := obs.MetaValue("page_text")
		if !strings.Contains(text, "文章标题") || !strings.Contains(text, "正文内容") {
			t.Errorf("可见文本提取不完整: %q", text)
		}
		if strings.Contains(text, "不可见") || strings.Contains(text, "color:red") {
			t.Errorf("script/style内容不应计入可见文本: %q", text)
		}
	})

	t.Run("会话Cookie随请求发送", func(t *testing.T) {
		var gotCookie string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCookie = r.Header.Get("Cookie")
			w.Write([]byte("<html><body>ok</body></html>"))
		}))
		defer srv.Close()

		sess := models.NewSession("example")
		sess.Cookies = []models.Cookie{
			{Name: "sid", Value: "abc"},
			{Name: "token", Value: "xyz"},
		}

		s := NewStaticStrategy("static", StaticConfig{})
		if _, err := s.Execute(context.Background(), &Request{Target: srv.URL, Session: sess}); err != nil {
			t.Fatalf("执行失败: %v", err)
		}

		if !strings.Contains(gotCookie, "sid=abc") || !strings.Contains(gotCookie, "token=xyz") {
			t.Errorf("会话Cookie未携带: %q", gotCookie)
		}
	})

	t.Run("拦截页状态码作为观察结果返回", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(403)
			w.Write([]byte("<html><body>访问受限</body></html>"))
		}))
		defer srv.Close()

		s := NewStaticStrategy("static", StaticConfig{})
		obs, err := s.Execute(context.Background(), &Request{Target: srv.URL})
		if err != nil {
			t.Fatalf("403不应返回error: %v", err)
		}
		if obs.StatusCode != 403 {
			t.Errorf("状态码不匹配: %d", obs.StatusCode)
		}
		if !strings.Contains(obs.MetaValue("page_text"), "访问受限") {
			t.Errorf("拦截页文案未提取: %q", obs.MetaValue("page_text"))
		}
	})
}

func TestExtractPageText(t *testing.T) {
	t.Run("超长文本截断", func(t *testing.T) {
		long := strings.Repeat("字", 3000)
		text := extractPageText([]byte("<html><body>" + long + "</body></html>"))
		if len(text) > pageTextLimit {
			t.Errorf("文本未截断: %d", len(text))
		}
	})

	t.Run("非HTML内容容忍", func(t *testing.T) {
		// html.Parse对任意字节序列都会尽力解析
		_ = extractPageText([]byte(`{"json": true}`))
	})
}
