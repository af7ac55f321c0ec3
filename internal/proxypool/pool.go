// Package proxypool 提供带健康评分与封禁轮换的出口代理池
//
// 选择按健康分加权随机,活动代理保有最小非零权重避免饿死;
// 连续失败越阈触发随封禁周期指数增长的冷却(有界),
// 冷却结束后作为普通候选重新进入选择。
// 刷新列表由协作方提供;空/失败的刷新视为"无代理可用"而非错误。
package proxypool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// ErrExhausted 代理池耗尽
// 刷新后仍无合格记录时返回,作为该次尝试的终止条件上报控制器,不在池内重试
var ErrExhausted = errors.New("代理池已耗尽")

// RefreshFunc 协作方提供的代理列表操作
// 返回扁平地址列表;返回空列表或错误均按"无代理可用"处理
type RefreshFunc func(ctx context.Context) ([]string, error)

// Config 代理池配置
type Config struct {
	ScoreNeutral  float64       // 新记录的中性起始分
	ScoreCeiling  float64       // 健康分上限
	ScoreFloor    float64       // 健康分下限
	ScoreStep     float64       // 每次成功/失败的分数增减量
	WeightFloor   float64       // 加权选择的最小权重(防止饿死)
	FailThreshold int           // 触发封禁的连续失败阈值
	BanCooldown   time.Duration // 首次封禁冷却时长
	BanCooldownMax time.Duration // 封禁冷却上限(指数增长封顶)
}

// DefaultConfig 默认代理池配置
func DefaultConfig() Config {
	return Config{
		ScoreNeutral:   0.5,
		ScoreCeiling:   1.0,
		ScoreFloor:     0.0,
		ScoreStep:      0.1,
		WeightFloor:    0.01,
		FailThreshold:  3,
		BanCooldown:    5 * time.Minute,
		BanCooldownMax: 80 * time.Minute,
	}
}

// ProxyRecord 单个出口地址及其健康指标
// 所有变更在池锁下原子进行;BannedUntil为零值表示活动状态
type ProxyRecord struct {
	Address     string    `json:"address"`      // 代理地址 (scheme://host:port)
	Score       float64   `json:"score"`        // 有界健康分
	Fails       int       `json:"fails"`        // 连续失败计数
	BanCycles   int       `json:"ban_cycles"`   // 历史封禁周期数(驱动冷却指数)
	BannedUntil time.Time `json:"banned_until"` // 封禁截止时刻(零值=活动)
	LastUsed    time.Time `json:"last_used"`    // 最近被选中时刻
}

// bannedAt 判断记录在now时刻是否处于封禁中
func (p *ProxyRecord) bannedAt(now time.Time) bool {
	return now.Before(p.BannedUntil)
}

// Pool 代理池
// 进程内构造一次,作为显式服务对象传入控制器(无隐式全局状态)
type Pool struct {
	config  Config
	refresh RefreshFunc

	mu      sync.Mutex
	records map[string]*ProxyRecord

	now func() time.Time // 测试钩子
}

// New 创建代理池
func New(config Config, refresh RefreshFunc) *Pool {
	if config.ScoreStep <= 0 {
		config = DefaultConfig()
	}
	return &Pool{
		config:  config,
		refresh: refresh,
		records: make(map[string]*ProxyRecord),
		now:     time.Now,
	}
}

// Size 当前记录总数
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Acquire 选取一个可用代理
// 无合格记录时触发一次刷新;刷新后仍为空或全部封禁中 → ErrExhausted。
// 并发获取共用同一把锁,同一次选择不会被重复计数。
func (p *Pool) Acquire(ctx context.Context) (*ProxyRecord, error) {
	if rec := p.pick(); rec != nil {
		return rec, nil
	}

	// 无合格记录,从外部来源刷新
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}

	if rec := p.pick(); rec != nil {
		return rec, nil
	}
	return nil, ErrExhausted
}

// pick 按健康分加权随机选取无封禁记录,无候选返回nil
func (p *Pool) pick() *ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	eligible := make([]*ProxyRecord, 0, len(p.records))
	total := 0.0
	for _, rec := range p.records {
		if rec.bannedAt(now) {
			continue
		}
		eligible = append(eligible, rec)
		total += p.weight(rec)
	}
	if len(eligible) == 0 {
		return nil
	}

	// 加权随机: 分高者概率大,权重下限保证无活动记录被永久饿死
	r := rand.Float64() * total
	cumulative := 0.0
	for _, rec := range eligible {
		cumulative += p.weight(rec)
		if r <= cumulative {
			rec.LastUsed = now
			return rec
		}
	}

	// 浮点边界兜底
	rec := eligible[len(eligible)-1]
	rec.LastUsed = now
	return rec
}

// weight 记录的选择权重
func (p *Pool) weight(rec *ProxyRecord) float64 {
	if rec.Score < p.config.WeightFloor {
		return p.config.WeightFloor
	}
	return rec.Score
}

// Refresh 从协作方来源刷新地址列表
// 新列表中不存在的记录被移除;幸存记录保留健康状态;新增地址以中性分进入
func (p *Pool) Refresh(ctx context.Context) error {
	if p.refresh == nil {
		return nil
	}

	addrs, err := p.refresh(ctx)
	if err != nil {
		// 刷新失败按"无代理可用"处理,不向上抛错
		utils.Warnf("代理刷新失败: %v", err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := make(map[string]*ProxyRecord, len(addrs))
	added := 0
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if rec, ok := p.records[addr]; ok {
			fresh[addr] = rec // 幸存记录保留健康状态
			continue
		}
		fresh[addr] = &ProxyRecord{
			Address: addr,
			Score:   p.config.ScoreNeutral,
		}
		added++
	}
	removed := len(p.records) + added - len(fresh)
	p.records = fresh

	utils.Infof("代理池刷新完成: 新增 %d, 移除 %d, 总计 %d", added, removed, len(fresh))
	return nil
}

// Report 上报一次使用结果
// success=true: 健康分向上限增长,连续失败清零
// success=false: 健康分下降,连续失败+1;越阈则按封禁周期指数冷却封禁
func (p *Pool) Report(rec *ProxyRecord, success bool) {
	if rec == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		rec.Score += p.config.ScoreStep
		if rec.Score > p.config.ScoreCeiling {
			rec.Score = p.config.ScoreCeiling
		}
		rec.Fails = 0
		return
	}

	rec.Score -= p.config.ScoreStep
	if rec.Score < p.config.ScoreFloor {
		rec.Score = p.config.ScoreFloor
	}
	rec.Fails++

	if rec.Fails >= p.config.FailThreshold {
		cooldown := p.config.BanCooldown << rec.BanCycles
		if cooldown > p.config.BanCooldownMax || cooldown <= 0 {
			cooldown = p.config.BanCooldownMax
		}
		rec.BannedUntil = p.now().Add(cooldown)
		rec.BanCycles++
		rec.Fails = 0

		utils.Warnf("代理已封禁 %.0f秒 [addr=%s, 周期=%d]", cooldown.Seconds(), rec.Address, rec.BanCycles)
	}
}

// Stats 代理池统计快照
type Stats struct {
	Total     int `json:"total"`     // 记录总数
	Available int `json:"available"` // 当前可选数
	Banned    int `json:"banned"`    // 封禁中数量
}

// GetStats 获取池统计
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := Stats{Total: len(p.records)}
	for _, rec := range p.records {
		if rec.bannedAt(now) {
			stats.Banned++
		} else {
			stats.Available++
		}
	}
	return stats
}

// Snapshot 返回所有记录的副本(用于CLI展示)
func (p *Pool) Snapshot() []ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ProxyRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, *rec)
	}
	return out
}
