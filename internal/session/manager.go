package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// ErrNotLoggedIn 无可用会话
// 登录/导入是协作方操作;控制器把这个错误作为终止性的NotLoggedIn失败上报,
// 不会代替调用方执行登录
var ErrNotLoggedIn = errors.New("未登录: 无持久化会话或会话已标记为无效")

// Handle 作用域内的会话句柄
// 同一来源的多个并发策略执行可共享同一只读句柄;
// 需要独占使用(如单浏览器标签页)的策略自行负责互斥。
// 所有退出路径都必须调用Close。
type Handle struct {
	sess    *models.Session
	release func()
	once    sync.Once
}

// Session 返回只读会话
func (h *Handle) Session() *models.Session {
	return h.sess
}

// Close 释放句柄(幂等)
func (h *Handle) Close() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Manager 会话管理器
// 每来源同一时刻至多一个活动会话;并发Acquire对同一来源在会话构造上
// 串行化,之后共享结果句柄。进程内构造一次,显式传入控制器。
type Manager struct {
	store *Store

	mu      sync.Mutex
	live    map[string]*models.Session // source -> 活动会话
	inUse   map[string]int             // source -> 未关闭句柄数
	loading map[string]*sync.Mutex     // source -> 构造串行锁
}

// NewManager 创建会话管理器
func NewManager(store *Store) *Manager {
	return &Manager{
		store:   store,
		live:    make(map[string]*models.Session),
		inUse:   make(map[string]int),
		loading: make(map[string]*sync.Mutex),
	}
}

// loadLock 获取来源的构造串行锁
func (m *Manager) loadLock(source string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk, ok := m.loading[source]
	if !ok {
		lk = &sync.Mutex{}
		m.loading[source] = lk
	}
	return lk
}

// Acquire 获取来源的会话句柄
// 优先复用活动会话;否则加载持久化状态;不存在或已标记无效 → ErrNotLoggedIn
func (m *Manager) Acquire(ctx context.Context, source string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 快路径: 已有活动会话
	m.mu.Lock()
	if sess, ok := m.live[source]; ok && !sess.Invalid {
		m.inUse[source]++
		m.mu.Unlock()
		return m.handle(source, sess), nil
	}
	m.mu.Unlock()

	// 慢路径: 串行化会话构造
	lk := m.loadLock(source)
	lk.Lock()
	defer lk.Unlock()

	// 双检: 等锁期间可能已被其他调用构造
	m.mu.Lock()
	if sess, ok := m.live[source]; ok && !sess.Invalid {
		m.inUse[source]++
		m.mu.Unlock()
		return m.handle(source, sess), nil
	}
	m.mu.Unlock()

	sess, err := m.store.Load(source)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Invalid {
		return nil, ErrNotLoggedIn
	}

	sess.ValidatedAt = time.Now()

	m.mu.Lock()
	m.live[source] = sess
	m.inUse[source]++
	m.mu.Unlock()

	utils.Infof("会话已加载 [source=%s, cookies=%d]", source, len(sess.Cookies))
	return m.handle(source, sess), nil
}

// handle 构造带释放回调的句柄
func (m *Manager) handle(source string, sess *models.Session) *Handle {
	return &Handle{
		sess: sess,
		release: func() {
			m.mu.Lock()
			if m.inUse[source] > 0 {
				m.inUse[source]--
			}
			m.mu.Unlock()
		},
	}
}

// Import 导入(登录后的)会话并持久化
// 成功登录/导入时的持久化入口;导入会话立即成为活动会话
func (m *Manager) Import(sess *models.Session) error {
	sess.Invalid = false
	sess.ValidatedAt = time.Now()

	if err := m.store.Save(sess); err != nil {
		return err
	}

	m.mu.Lock()
	m.live[sess.Source] = sess
	m.mu.Unlock()

	utils.Infof("✅ 会话已导入 [source=%s, cookies=%d]", sess.Source, len(sess.Cookies))
	return nil
}

// Invalidate 标记来源会话为无效
// SessionExpired信号分类出来后由控制器调用: 磁盘记录标记无效(不删除),
// 活动句柄被驱逐,下次Acquire强制重新认证
func (m *Manager) Invalidate(source string) {
	m.mu.Lock()
	sess, ok := m.live[source]
	delete(m.live, source)
	m.mu.Unlock()

	if !ok {
		// 活动会话不存在,仍需标记磁盘记录
		var err error
		sess, err = m.store.Load(source)
		if err != nil || sess == nil {
			return
		}
	}

	sess.Invalid = true
	if err := m.store.Save(sess); err != nil {
		utils.Warnf("标记会话无效失败 [source=%s]: %v", source, err)
		return
	}
	utils.Warnf("会话已标记为无效 [source=%s]", source)
}

// Shutdown 优雅关闭: 持久化所有活动会话
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*models.Session, 0, len(m.live))
	for _, sess := range m.live {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := m.store.Save(sess); err != nil {
			utils.Warnf("关闭时持久化会话失败 [source=%s]: %v", sess.Source, err)
		}
	}
}

// Status 查询来源的会话状态(用于CLI展示)
func (m *Manager) Status(source string) (loaded bool, sess *models.Session, err error) {
	m.mu.Lock()
	if live, ok := m.live[source]; ok {
		m.mu.Unlock()
		return true, live, nil
	}
	m.mu.Unlock()

	sess, err = m.store.Load(source)
	return false, sess, err
}
