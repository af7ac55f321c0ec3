package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHeaderLoader(t *testing.T) {
	t.Run("文件不存在时自动生成模板", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "configs", "headers.yaml")
		loader := NewHeaderLoader(path)

		profiles, err := loader.Load()
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Errorf("模板文件未生成: %v", err)
		}
		if profiles.Defaults["Accept-Language"] == "" {
			t.Error("模板应包含默认Accept-Language")
		}
		// UA由身份池提供,模板不应携带
		if profiles.Defaults["User-Agent"] != "" {
			t.Error("模板不应包含User-Agent")
		}
	})

	t.Run("按来源合并头部", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		content := `
defaults:
  User-Agent: "test-agent"
  Accept: "*/*"
sources:
  example:
    Accept: "application/json"
    Referer: "https://www.example.com/"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}

		profiles, err := NewHeaderLoader(path).Load()
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}

		h := profiles.HeadersFor("example")
		if got := h.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %s, 期望继承defaults", got)
		}
		if got := h.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %s, 期望来源覆盖defaults", got)
		}
		if got := h.Get("Referer"); got != "https://www.example.com/" {
			t.Errorf("Referer = %s", got)
		}

		// 未配置的来源只拿到defaults
		h = profiles.HeadersFor("other")
		if got := h.Get("Accept"); got != "*/*" {
			t.Errorf("未知来源Accept = %s, 期望 */*", got)
		}
		if h.Get("Referer") != "" {
			t.Error("未知来源不应有Referer")
		}
	})

	t.Run("文件过大报错", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		big := make([]byte, MaxConfigFileSize+1)
		for i := range big {
			big[i] = '#'
		}
		if err := os.WriteFile(path, big, 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}

		if _, err := NewHeaderLoader(path).Load(); err == nil {
			t.Error("超限文件应报错")
		}
	})

	t.Run("命令行头部解析", func(t *testing.T) {
		h, err := CliHeaders{"X-Token: abc123", "Referer: https://a.com/b"}.Parse()
		if err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if h.Get("X-Token") != "abc123" {
			t.Errorf("X-Token = %s", h.Get("X-Token"))
		}
		if h.Get("Referer") != "https://a.com/b" {
			t.Errorf("Referer = %s", h.Get("Referer"))
		}

		if _, err := (CliHeaders{"no-colon"}).Parse(); err == nil {
			t.Error("缺少冒号应报错")
		}
		if _, err := (CliHeaders{": value-only"}).Parse(); err == nil {
			t.Error("空头部名称应报错")
		}
	})

	t.Run("非法YAML返回ConfigError", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		if err := os.WriteFile(path, []byte("defaults: [not: a: map"), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}

		_, err := NewHeaderLoader(path).Load()
		if err == nil {
			t.Fatal("非法YAML应报错")
		}
		if _, ok := err.(*ConfigError); !ok {
			t.Errorf("期望*ConfigError, 实际 %T", err)
		}
	})
}
