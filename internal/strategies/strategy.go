package strategies

import (
	"context"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
)

// Request 单次策略执行的输入
// 会话和代理由控制器在执行前填好,策略本身不做凭证管理
type Request struct {
	Source  string            // 来源站点标识
	Op      string            // 操作名称 (如 search, fetch_article)
	Target  string            // 目标URL或查询词
	Params  map[string]string // 操作参数
	Session *models.Session   // 当前会话 (可为nil)
	Proxy   string            // 代理地址 (可为空)
}

// Param 读取操作参数
func (r *Request) Param(key string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[key]
}

// Strategy 一个提取层级
// 执行后返回原始观察结果,信号分类由调用方完成;
// 只有传输层面的失败才返回error
type Strategy interface {
	Name() string
	Execute(ctx context.Context, req *Request) (*models.Observation, error)
}

// FixedEgress 出口固定的策略实现该标记接口
// 浏览器的网络出口在启动时确定,按请求下发的代理对这类层级无效,
// 控制器不再为它们抽取和上报池内代理
type FixedEgress interface {
	FixedEgress()
}
