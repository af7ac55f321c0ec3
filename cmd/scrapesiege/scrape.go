package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/core"
	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/cobra"
)

// scrape命令参数
var (
	scrapeSource     string
	scrapeOp         string
	scrapeTarget     string
	scrapeTargetFile string
	scrapeParams     []string
	scrapeLevels     string
	scrapeHeaders    []string
	scrapeUseSession bool
	scrapeUseProxy   bool
	scrapeTimeout    int
	scrapeOutputDir  string
	scrapeHeadless   bool
	scrapeTabs       int
	waitSelector     string
	interceptPattern string
	batchDelay       int
	continueOnError  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "按策略梯子提取目标数据",
	Long: `按策略梯子逐级提取目标数据。

策略梯子由 --levels 指定,从最轻量的层级开始,遇到防御信号按需升级:
  api        签名API直连
  static     静态页面抓取
  render     浏览器渲染提取
  intercept  浏览器接口拦截 (需配合 --intercept-pattern)

示例:
  scrapesiege scrape -s example -u https://www.example.com/a/1
  scrapesiege scrape -s example -f targets.txt --levels static,render
  scrapesiege scrape -s example -u https://... --levels render,intercept --intercept-pattern 'api/v\d+/content'`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeSource, "source", "s", "", "来源站点标识 (必需)")
	scrapeCmd.Flags().StringVar(&scrapeOp, "op", "fetch", "操作名称")
	scrapeCmd.Flags().StringVarP(&scrapeTarget, "url", "u", "", "目标URL (必需,除非使用 --url-file)")
	scrapeCmd.Flags().StringVarP(&scrapeTargetFile, "url-file", "f", "", "包含目标列表的文件路径")
	scrapeCmd.Flags().StringSliceVarP(&scrapeParams, "param", "p", nil, "操作参数,格式: key=value,可多次指定")
	scrapeCmd.Flags().StringVar(&scrapeLevels, "levels", "static,render", "策略梯子,逗号分隔")
	scrapeCmd.Flags().StringSliceVarP(&scrapeHeaders, "header", "H", nil, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	scrapeCmd.Flags().BoolVar(&scrapeUseSession, "use-session", false, "使用持久化会话 (需先 session import)")
	scrapeCmd.Flags().BoolVar(&scrapeUseProxy, "use-proxy", false, "启用代理池")
	scrapeCmd.Flags().IntVar(&scrapeTimeout, "timeout", 300, "单目标总超时(秒)")
	scrapeCmd.Flags().StringVarP(&scrapeOutputDir, "output", "o", "", "输出目录 (默认取配置)")
	scrapeCmd.Flags().BoolVar(&scrapeHeadless, "headless", true, "无头浏览器模式")
	scrapeCmd.Flags().IntVar(&scrapeTabs, "tabs", 0, "浏览器标签页上限 (默认取配置)")
	scrapeCmd.Flags().StringVar(&waitSelector, "wait-selector", "", "渲染层级等待出现的元素选择器")
	scrapeCmd.Flags().StringVar(&interceptPattern, "intercept-pattern", "", "拦截层级匹配的API URL正则")
	scrapeCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理目标间延迟(秒)")
	scrapeCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	_ = scrapeCmd.MarkFlagRequired("source")
}

func runScrape(cmd *cobra.Command, args []string) error {
	levels := splitLevels(scrapeLevels)
	if err := validateScrapeFlags(scrapeSource, scrapeTarget, scrapeTargetFile, levels, scrapeTimeout); err != nil {
		return err
	}

	appConfig.MergeCLIFlags(scrapeHeadless, scrapeTabs, scrapeUseProxy, scrapeOutputDir)

	// 信号处理(Ctrl+C优雅退出)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(scrapeTimeout)*time.Second)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		utils.Warnf("\n收到中断信号: %v, 正在优雅关闭...", sig)
		cancel()
	}()

	needBrowser := false
	for _, level := range levels {
		if level == "render" || level == "intercept" {
			needBrowser = true
		}
	}

	a, err := buildApp(appConfig, needBrowser)
	if err != nil {
		return err
	}
	defer a.close()

	// 代理池预热
	if a.proxies != nil {
		if err := a.proxies.Refresh(ctx); err != nil {
			utils.Warnf("代理池刷新失败: %v", err)
		}
	}

	// 注册来源能力
	extraHeaders, err := parseCliHeaders(scrapeHeaders)
	if err != nil {
		return err
	}
	ladder, err := a.buildLadder(scrapeSource, levels, extraHeaders, waitSelector, interceptPattern)
	if err != nil {
		return err
	}
	err = a.registry.Register(&core.Capability{
		Source:     scrapeSource,
		Strategies: ladder,
		Classifier: defaultClassifier(),
		UseProxy:   appConfig.Proxy.Enabled,
		UseSession: scrapeUseSession,
	})
	if err != nil {
		return err
	}

	params, err := parseParams(scrapeParams)
	if err != nil {
		return err
	}

	// 批量模式
	if scrapeTargetFile != "" {
		targets, err := utils.ReadTargetsFromFile(scrapeTargetFile)
		if err != nil {
			return fmt.Errorf("读取目标文件失败: %w", err)
		}

		reporter := utils.NewReporter(appConfig.Output.BaseDir, scrapeSource)
		runner := core.NewBatchRunner(a.controller, reporter, batchDelay, continueOnError)
		if _, err := runner.RunBatch(ctx, scrapeSource, scrapeOp, targets, params); err != nil {
			return fmt.Errorf("批量提取失败: %w", err)
		}

		utils.Info("✨ 批量提取任务完成!")
		return nil
	}

	// 单目标模式
	result, err := a.controller.Run(ctx, &core.Invocation{
		Source: scrapeSource,
		Op:     scrapeOp,
		Target: scrapeTarget,
		Params: params,
	})
	if err != nil {
		var se *models.ScrapeError
		if errors.As(err, &se) {
			printFailure(se)
			os.Exit(1)
		}
		return err
	}

	outPath, err := savePayload(appConfig.Output.BaseDir, scrapeSource, result)
	if err != nil {
		return fmt.Errorf("保存结果失败: %w", err)
	}

	fmt.Println("\n==================================================")
	fmt.Println("📊 提取结果")
	fmt.Println("==================================================")
	fmt.Printf("✅ 产出层级: L%d (%s)\n", result.Level, result.LevelName)
	fmt.Printf("✅ 载荷大小: %.2f KB\n", float64(len(result.Payload))/1024)
	fmt.Printf("✅ 结果文件: %s\n", outPath)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", result.Elapsed.Seconds())
	fmt.Println("==================================================")

	utils.Info("✨ 提取任务完成!")
	return nil
}

// printFailure 打印类型化失败详情
func printFailure(se *models.ScrapeError) {
	fmt.Fprintln(os.Stderr, "\n==================================================")
	fmt.Fprintf(os.Stderr, "❌ 提取失败: %s\n", se.Kind)
	fmt.Fprintln(os.Stderr, "==================================================")
	for _, lv := range se.Levels {
		fmt.Fprintf(os.Stderr, "  L%d (%s): %s\n", lv.Level, lv.Name, lv.Signal)
	}
	if se.Err != nil {
		fmt.Fprintf(os.Stderr, "  原因: %v\n", se.Err)
	}
}

// savePayload 把成功载荷写入输出目录
func savePayload(baseDir, source string, result *models.StrategyResult) (string, error) {
	dir := filepath.Join(baseDir, source)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("payload_%s.dat", result.AttemptID))
	if err := os.WriteFile(path, result.Payload, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// splitLevels 拆分梯子层级列表
func splitLevels(s string) []string {
	parts := strings.Split(s, ",")
	levels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			levels = append(levels, p)
		}
	}
	return levels
}

// parseParams 解析key=value参数列表
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for i, pair := range pairs {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("参数 --param 第%d项格式错误: 应为 key=value", i+1)
		}
		params[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}
	return params, nil
}
