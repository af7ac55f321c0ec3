package models

import (
	"time"
)

// InvocationReport 单次提取调用的报告
// 由CLI在调用结束后生成,记录终态和各层级诊断信息
type InvocationReport struct {
	// 基本信息
	AttemptID string `json:"attempt_id"` // 调用唯一ID (UUID)
	Source    string `json:"source"`     // 来源站点标识
	Op        string `json:"op"`         // 操作名称
	Target    string `json:"target"`     // 目标(URL/查询词)

	// 终态
	Success   bool           `json:"success"`              // 是否成功
	Level     int            `json:"level,omitempty"`      // 成功时的产出层级
	LevelName string         `json:"level_name,omitempty"` // 成功时的策略名称
	FailKind  FailKind       `json:"fail_kind,omitempty"`  // 失败时的种类
	Levels    []LevelOutcome `json:"levels,omitempty"`     // 各层级最后信号(诊断)

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 耗时(秒)
}

// BatchStats 批量提取统计
type BatchStats struct {
	Total     int     `json:"total"`     // 目标总数
	Succeeded int     `json:"succeeded"` // 成功数
	Failed    int     `json:"failed"`    // 失败数
	Duration  float64 `json:"duration"`  // 总耗时(秒)

	// 失败种类分布
	FailKinds map[FailKind]int `json:"fail_kinds,omitempty"`
}

// RecordFailure 记录一次失败
func (b *BatchStats) RecordFailure(kind FailKind) {
	b.Failed++
	if b.FailKinds == nil {
		b.FailKinds = make(map[FailKind]int)
	}
	b.FailKinds[kind]++
}
