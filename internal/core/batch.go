package core

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// BatchRunner 批量提取执行器
// 按顺序对同一来源的多个目标发起调用,目标之间可插入延迟。
// 所有重试/升级仍封闭在控制器内,这里只收集终态并生成报告。
type BatchRunner struct {
	controller    *Controller
	reporter      *utils.Reporter
	delay         time.Duration
	continueOnErr bool
}

// NewBatchRunner 创建批量执行器
// reporter可为nil(不落盘报告)
func NewBatchRunner(controller *Controller, reporter *utils.Reporter, delaySeconds int, continueOnErr bool) *BatchRunner {
	return &BatchRunner{
		controller:    controller,
		reporter:      reporter,
		delay:         time.Duration(delaySeconds) * time.Second,
		continueOnErr: continueOnErr,
	}
}

// RunBatch 对目标列表逐个执行提取
// 返回的统计只在整个批次跑完(或中止)后有效
func (b *BatchRunner) RunBatch(ctx context.Context, source, op string, targets []string, params map[string]string) (*models.BatchStats, error) {
	utils.Infof("🚀 开始批量提取: %d个目标", len(targets))

	stats := &models.BatchStats{Total: len(targets)}
	reports := make([]*models.InvocationReport, 0, len(targets))

	bar := utils.NewProgressBar(len(targets), "批量提取")
	startTime := time.Now()

	for i, target := range targets {
		utils.Infof("\n==================== [%d/%d] ====================", i+1, len(targets))
		utils.Infof("目标: %s", target)

		report := b.runSingle(ctx, source, op, target, params)
		reports = append(reports, report)
		_ = bar.Add(1)

		if report.Success {
			stats.Succeeded++
		} else {
			stats.RecordFailure(report.FailKind)
			if !b.continueOnErr {
				utils.Warn("批量提取中止 (--continue-on-error=false)")
				break
			}
		}

		if ctx.Err() != nil {
			utils.Warn("批量提取中止: 调用方期限到期")
			break
		}

		// 最后一个目标之后不再延迟
		if i < len(targets)-1 && b.delay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个目标...", b.delay.Seconds())
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
			}
		}
	}

	stats.Duration = time.Since(startTime).Seconds()
	b.printSummary(stats)

	if b.reporter != nil {
		if err := b.reporter.SaveBatch(stats, reports); err != nil {
			utils.Warnf("保存批量报告失败: %v", err)
		}
	}

	return stats, nil
}

// runSingle 执行单个目标并生成调用报告
func (b *BatchRunner) runSingle(ctx context.Context, source, op, target string, params map[string]string) *models.InvocationReport {
	report := &models.InvocationReport{
		Source:    source,
		Op:        op,
		Target:    target,
		StartTime: time.Now(),
	}

	result, err := b.controller.Run(ctx, &Invocation{
		Source: source,
		Op:     op,
		Target: target,
		Params: params,
	})

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime).Seconds()

	if err != nil {
		report.Success = false
		if kind, ok := models.KindOf(err); ok {
			report.FailKind = kind
		}
		var se *models.ScrapeError
		if errors.As(err, &se) {
			report.Levels = se.Levels
		}
		utils.Errorf("❌ 提取失败: %v", err)
		return report
	}

	report.Success = true
	report.AttemptID = result.AttemptID
	report.Level = result.Level
	report.LevelName = result.LevelName

	if b.reporter != nil {
		if err := b.reporter.SaveInvocation(report); err != nil {
			utils.Warnf("保存调用报告失败: %v", err)
		}
	}

	return report
}

// printSummary 打印批量提取摘要
func (b *BatchRunner) printSummary(stats *models.BatchStats) {
	utils.Info("\n==================================================")
	utils.Info("📊 批量提取摘要")
	utils.Info("==================================================")
	utils.Infof("目标总数: %d", stats.Total)
	utils.Infof("✅ 成功: %d", stats.Succeeded)
	utils.Infof("❌ 失败: %d", stats.Failed)
	utils.Infof("⏱️  总耗时: %.2f秒", stats.Duration)

	if len(stats.FailKinds) > 0 {
		utils.Warn("\n失败种类分布:")
		for kind, count := range stats.FailKinds {
			utils.Warnf("  - %s: %d", kind, count)
		}
	}
	utils.Info("==================================================")
}
