package main

import (
	"fmt"
	"net/http"

	"github.com/RecoveryAshes/ScrapeSiege/internal/config"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// validateScrapeFlags 验证scrape命令的参数组合
func validateScrapeFlags(source, target, targetFile string, levels []string, timeout int) error {
	// 验证来源标识
	if err := utils.ValidateSourceName(source); err != nil {
		return fmt.Errorf("无效的来源标识: %w", err)
	}

	// 目标与目标文件二选一
	if target == "" && targetFile == "" {
		return fmt.Errorf("必须指定 --url 或 --url-file")
	}
	if target != "" && targetFile != "" {
		return fmt.Errorf("--url 与 --url-file 不能同时指定")
	}

	// 验证目标URL
	if target != "" {
		if err := utils.ValidateURL(target); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	// 验证梯子
	if len(levels) == 0 {
		return fmt.Errorf("策略梯子不能为空")
	}

	// 验证超时
	if timeout < 1 || timeout > 3600 {
		return fmt.Errorf("超时必须在1-3600秒之间,当前值: %d", timeout)
	}

	return nil
}

// parseCliHeaders 解析命令行头部参数
func parseCliHeaders(headers []string) (http.Header, error) {
	if len(headers) == 0 {
		return make(http.Header), nil
	}
	return config.CliHeaders(headers).Parse()
}
