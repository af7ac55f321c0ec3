package models

import (
	"net/http"
	"time"
)

// Observation 单次策略执行的原始观察结果
// 核心本身不解读其内容,仅交给来源注册时提供的分类谓词消费
type Observation struct {
	StatusCode int               // HTTP状态码(浏览器策略可为主文档响应码)
	URL        string            // 最终URL(跟随重定向后)
	Header     http.Header       // 响应头部(可为nil)
	Body       []byte            // 响应体/页面内容
	Meta       map[string]string // 策略附加的结构化标记(如页面标题、跳转目标)
}

// MetaValue 读取附加标记,键不存在返回空串
func (o *Observation) MetaValue(key string) string {
	if o == nil || o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// StrategyResult 策略执行成功的结果
// Level/LevelName 标记产出结果的策略层级,供调用方展示来源
// (如 "signed-api" vs "browser-dom")并做信任决策。返回后不可变。
type StrategyResult struct {
	Payload   []byte        `json:"-"`          // 结果载荷(由调用方解析)
	Level     int           `json:"level"`      // 产出层级序号(0起)
	LevelName string        `json:"level_name"` // 产出策略名称
	AttemptID string        `json:"attempt_id"` // 本次调用的唯一ID (UUID)
	Elapsed   time.Duration `json:"elapsed"`    // 从调用到成功的耗时
}
