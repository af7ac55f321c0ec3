package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTargetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入目标文件失败: %v", err)
	}
	return path
}

func TestReadTargetsFromFile(t *testing.T) {
	t.Run("跳过注释空行和无效目标", func(t *testing.T) {
		path := writeTargetFile(t, `# 批量目标
https://example.com/a

not-a-url
ftp://example.com/b
https://example.com/c
`)
		targets, err := ReadTargetsFromFile(path)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		want := []string{"https://example.com/a", "https://example.com/c"}
		if len(targets) != len(want) {
			t.Fatalf("目标数量不匹配: %v", targets)
		}
		for i := range want {
			if targets[i] != want[i] {
				t.Errorf("目标[%d] = %s, 期望 %s", i, targets[i], want[i])
			}
		}
	})

	t.Run("重复目标只保留首次出现", func(t *testing.T) {
		path := writeTargetFile(t, `https://example.com/a
https://example.com/b
https://example.com/a
`)
		targets, err := ReadTargetsFromFile(path)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(targets) != 2 {
			t.Errorf("期望去重后2个目标, 实际 %v", targets)
		}
	})

	t.Run("没有有效目标报错", func(t *testing.T) {
		path := writeTargetFile(t, "# 只有注释\n\nnot-a-url\n")
		if _, err := ReadTargetsFromFile(path); err == nil {
			t.Error("期望空目标列表报错")
		}
	})

	t.Run("文件不存在报错", func(t *testing.T) {
		if _, err := ReadTargetsFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
			t.Error("期望打开失败报错")
		}
	})
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		{"标准https", "https://example.com/path", false},
		{"标准http", "http://example.com", false},
		{"缺少协议", "example.com/path", true},
		{"不支持的协议", "ftp://example.com", true},
		{"缺少主机名", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.rawURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.rawURL, err, tt.wantErr)
			}
		})
	}
}
