// Package session 管理每个来源站点的认证会话生命周期
//
// 持久化格式: 每来源一个目录,内含session.json(Cookie列表+本地键值状态)
// 和cookies.txt(Netscape格式,供只需要HTTP Cookie的来源使用)。
// 加载容忍部分/缺失字段;记录不存在按"无会话"处理而非报错。
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

const (
	stateFilename   = "session.json"
	cookiesFilename = "cookies.txt"
)

// Store 会话持久化存储
type Store struct {
	dataDir string
}

// NewStore 创建存储
// dataDir为空时使用 ~/.scrapesiege
func NewStore(dataDir string) *Store {
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".scrapesiege")
		} else {
			dataDir = ".scrapesiege"
		}
	}
	return &Store{dataDir: dataDir}
}

// sourceDir 来源站点的数据目录
func (s *Store) sourceDir(source string) string {
	return filepath.Join(s.dataDir, source)
}

// StatePath 会话状态文件路径
func (s *Store) StatePath(source string) string {
	return filepath.Join(s.sourceDir(source), stateFilename)
}

// CookiesPath Netscape格式Cookie文件路径
func (s *Store) CookiesPath(source string) string {
	return filepath.Join(s.sourceDir(source), cookiesFilename)
}

// Load 加载来源的持久化会话
// 记录不存在返回(nil, nil)表示"无会话";损坏的记录同样按无会话处理
func (s *Store) Load(source string) (*models.Session, error) {
	data, err := os.ReadFile(s.StatePath(source))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// 状态文件缺失时退回纯Cookie文件
			return s.loadCookiesOnly(source)
		}
		return nil, fmt.Errorf("读取会话文件失败: %w", err)
	}

	sess, err := models.SessionFromJSON(data)
	if err != nil {
		utils.Warnf("会话文件损坏, 按无会话处理 [source=%s]: %v", source, err)
		return nil, nil
	}
	if sess.Source == "" {
		sess.Source = source
	}
	return sess, nil
}

// loadCookiesOnly 从cookies.txt构造仅含Cookie的会话
func (s *Store) loadCookiesOnly(source string) (*models.Session, error) {
	data, err := os.ReadFile(s.CookiesPath(source))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // 无会话
		}
		return nil, fmt.Errorf("读取Cookie文件失败: %w", err)
	}

	cookies := models.CookiesFromNetscape(string(data))
	if len(cookies) == 0 {
		return nil, nil
	}

	sess := models.NewSession(source)
	sess.Cookies = cookies
	return sess, nil
}

// Save 持久化会话(状态文件与Netscape Cookie文件同时写出)
func (s *Store) Save(sess *models.Session) error {
	dir := s.sourceDir(sess.Source)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建会话目录失败: %w", err)
	}

	data, err := sess.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化会话失败: %w", err)
	}
	if err := os.WriteFile(s.StatePath(sess.Source), data, 0600); err != nil {
		return fmt.Errorf("写入会话文件失败: %w", err)
	}

	if err := os.WriteFile(s.CookiesPath(sess.Source), []byte(sess.ToNetscape()), 0600); err != nil {
		return fmt.Errorf("写入Cookie文件失败: %w", err)
	}

	utils.Debugf("会话已持久化 [source=%s, cookies=%d]", sess.Source, len(sess.Cookies))
	return nil
}
