package main

import (
	"fmt"
	"os"

	"github.com/RecoveryAshes/ScrapeSiege/internal/core"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 全局命令行参数
var (
	configFile  string
	headersFile string
	verbose     bool
	logLevel    string

	// PersistentPreRunE加载后的配置,子命令共享
	appConfig *core.Config
)

var rootCmd = &cobra.Command{
	Use:   "scrapesiege",
	Short: "反爬对抗数据提取工具",
	Long: `ScrapeSiege - 面向防御性站点的弹性数据提取工具

针对有反爬防御的站点按策略梯子逐级提取数据,支持:
  • 签名API直连 / 静态抓取 / 浏览器渲染 / 接口拦截 四级策略
  • 滑动窗口限速与外部限流退避
  • 代理池健康评分与指数封禁冷却
  • 验证码打码服务对接
  • 会话持久化与失效管理
  • 批量目标处理

示例:
  # 导入会话后提取单个目标
  scrapesiege session import -s example --cookies cookies.txt
  scrapesiege scrape -s example -u https://www.example.com/article/123

  # 批量提取
  scrapesiege scrape -s example -f targets.txt --batch-delay 2

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 初始化日志系统
		logConfig := cfg.LogConfig()

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ScrapeSiege %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Println("反爬对抗数据提取工具")
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&headersFile, "headers-file", "", "HTTP头部配置文件路径 (默认 configs/headers.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(proxyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
