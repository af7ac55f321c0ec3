package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewStore(t.TempDir()))
}

func importedSession(t *testing.T, m *Manager, source string) *models.Session {
	t.Helper()
	sess := models.NewSession(source)
	sess.Cookies = []models.Cookie{
		{Name: "z_c0", Value: "tok-1", Domain: ".example.com", Path: "/"},
	}
	sess.LocalState["device_id"] = "dev-42"
	if err := m.Import(sess); err != nil {
		t.Fatalf("导入会话失败: %v", err)
	}
	return sess
}

func TestManager_Acquire(t *testing.T) {
	t.Run("无持久化会话返回ErrNotLoggedIn", func(t *testing.T) {
		m := newTestManager(t)

		if _, err := m.Acquire(context.Background(), "example"); !errors.Is(err, ErrNotLoggedIn) {
			t.Errorf("期望ErrNotLoggedIn, 实际 %v", err)
		}
	})

	t.Run("导入后可获取句柄", func(t *testing.T) {
		m := newTestManager(t)
		importedSession(t, m, "example")

		h, err := m.Acquire(context.Background(), "example")
		if err != nil {
			t.Fatalf("获取会话失败: %v", err)
		}
		defer h.Close()

		if v, ok := h.Session().CookieValue("z_c0"); !ok || v != "tok-1" {
			t.Errorf("期望Cookie z_c0=tok-1, 实际 %q", v)
		}
	})

	t.Run("跨进程重启后从磁盘恢复", func(t *testing.T) {
		dir := t.TempDir()
		m1 := NewManager(NewStore(dir))
		sess := models.NewSession("example")
		sess.Cookies = []models.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}
		if err := m1.Import(sess); err != nil {
			t.Fatalf("导入失败: %v", err)
		}

		// 新管理器实例模拟重启
		m2 := NewManager(NewStore(dir))
		h, err := m2.Acquire(context.Background(), "example")
		if err != nil {
			t.Fatalf("重启后获取失败: %v", err)
		}
		defer h.Close()

		if v, _ := h.Session().CookieValue("sid"); v != "abc" {
			t.Errorf("期望恢复Cookie sid=abc, 实际 %q", v)
		}
	})

	t.Run("并发获取共享同一会话", func(t *testing.T) {
		m := newTestManager(t)
		importedSession(t, m, "example")

		var wg sync.WaitGroup
		sessions := make([]*models.Session, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				h, err := m.Acquire(context.Background(), "example")
				if err != nil {
					t.Errorf("并发获取失败: %v", err)
					return
				}
				defer h.Close()
				sessions[n] = h.Session()
			}(i)
		}
		wg.Wait()

		for i := 1; i < 8; i++ {
			if sessions[i] != sessions[0] {
				t.Error("并发获取应共享同一会话实例")
			}
		}
	})

	t.Run("已取消的context直接失败", func(t *testing.T) {
		m := newTestManager(t)
		importedSession(t, m, "example")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Acquire(ctx, "example"); err == nil {
			t.Error("期望已取消的context导致获取失败")
		}
	})
}

func TestManager_Invalidate(t *testing.T) {
	t.Run("标记无效后强制重新认证", func(t *testing.T) {
		m := newTestManager(t)
		importedSession(t, m, "example")

		m.Invalidate("example")

		if _, err := m.Acquire(context.Background(), "example"); !errors.Is(err, ErrNotLoggedIn) {
			t.Errorf("期望ErrNotLoggedIn, 实际 %v", err)
		}
	})

	t.Run("无效标记持久化但记录不删除", func(t *testing.T) {
		dir := t.TempDir()
		m := NewManager(NewStore(dir))
		importedSession(t, m, "example")

		m.Invalidate("example")

		// 重启后仍为无效(记录存在但被标记)
		m2 := NewManager(NewStore(dir))
		if _, err := m2.Acquire(context.Background(), "example"); !errors.Is(err, ErrNotLoggedIn) {
			t.Errorf("期望ErrNotLoggedIn, 实际 %v", err)
		}

		store := NewStore(dir)
		sess, err := store.Load("example")
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}
		if sess == nil {
			t.Fatal("无效会话的记录不应被删除")
		}
		if !sess.Invalid {
			t.Error("期望记录带无效标记")
		}
	})

	t.Run("重新导入清除无效标记", func(t *testing.T) {
		m := newTestManager(t)
		importedSession(t, m, "example")
		m.Invalidate("example")

		importedSession(t, m, "example")
		h, err := m.Acquire(context.Background(), "example")
		if err != nil {
			t.Fatalf("重新导入后获取失败: %v", err)
		}
		h.Close()
	})
}

func TestStore_Load(t *testing.T) {
	t.Run("仅cookies.txt也能构造会话", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)

		sess := models.NewSession("legacy")
		sess.Cookies = []models.Cookie{
			{Name: "cf_clearance", Value: "xyz", Domain: ".legacy.com", Path: "/", Secure: true},
		}
		if err := store.Save(sess); err != nil {
			t.Fatalf("保存失败: %v", err)
		}

		// 删掉状态文件,只留cookies.txt
		if err := os.Remove(store.StatePath("legacy")); err != nil {
			t.Fatalf("删除状态文件失败: %v", err)
		}

		loaded, err := store.Load("legacy")
		if err != nil {
			t.Fatalf("加载失败: %v", err)
		}
		if loaded == nil {
			t.Fatal("期望从cookies.txt恢复会话")
		}
		if v, _ := loaded.CookieValue("cf_clearance"); v != "xyz" {
			t.Errorf("期望cf_clearance=xyz, 实际 %q", v)
		}
	})

	t.Run("损坏的状态文件按无会话处理", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)

		if err := os.MkdirAll(filepath.Dir(store.StatePath("broken")), 0o755); err != nil {
			t.Fatalf("创建目录失败: %v", err)
		}
		if err := os.WriteFile(store.StatePath("broken"), []byte("{not-json"), 0o600); err != nil {
			t.Fatalf("写入失败: %v", err)
		}

		sess, err := store.Load("broken")
		if err != nil {
			t.Fatalf("期望容忍损坏文件, 实际 %v", err)
		}
		if sess != nil {
			t.Error("损坏文件应按无会话处理")
		}
	})
}
