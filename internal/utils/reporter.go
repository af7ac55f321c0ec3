package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
// 把每次提取调用的终态落盘,批量模式结束时再写汇总统计
type Reporter struct {
	outputDir string
	source    string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string, source string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		source:    source,
	}
}

// SaveInvocation 保存单次调用报告
// 文件名带attempt_id,批量模式下互不覆盖
func (r *Reporter) SaveInvocation(report *models.InvocationReport) error {
	reportsDir := filepath.Join(r.outputDir, r.source, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	filename := fmt.Sprintf("invocation_%s.json", report.AttemptID)
	return r.saveJSONReport(reportsDir, filename, report)
}

// SaveBatch 保存批量汇总报告
func (r *Reporter) SaveBatch(stats *models.BatchStats, reports []*models.InvocationReport) error {
	reportsDir := filepath.Join(r.outputDir, r.source, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	summary := struct {
		Source      string                     `json:"source"`
		GeneratedAt time.Time                  `json:"generated_at"`
		Stats       *models.BatchStats         `json:"stats"`
		Invocations []*models.InvocationReport `json:"invocations"`
	}{
		Source:      r.source,
		GeneratedAt: time.Now(),
		Stats:       stats,
		Invocations: reports,
	}

	if err := r.saveJSONReport(reportsDir, "batch_report.json", summary); err != nil {
		return err
	}

	Infof("✅ 报告已生成: %s", reportsDir)
	return nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
