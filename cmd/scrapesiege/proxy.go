package main

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/proxypool"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "管理代理池",
	Long: `管理代理出口池。

代理列表来源按优先级: proxy.refresh_url (订阅地址) > proxy.proxy_file
(本地文件) > proxy.static (配置内联)。`,
}

var proxyRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "拉取代理列表并检视池状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool := proxypool.New(appConfig.ProxyPoolConfig(), proxyRefreshFunc(appConfig))
		if err := pool.Refresh(ctx); err != nil {
			return fmt.Errorf("刷新代理池失败: %w", err)
		}

		stats := pool.GetStats()
		utils.Infof("✅ 代理池刷新完成: 共%d个, 可用%d个", stats.Total, stats.Available)
		printPoolSnapshot(pool)
		return nil
	},
}

var proxyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "查看代理池健康状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// 池不跨进程存活,检视前先按配置拉一次列表
		pool := proxypool.New(appConfig.ProxyPoolConfig(), proxyRefreshFunc(appConfig))
		if err := pool.Refresh(ctx); err != nil {
			return fmt.Errorf("刷新代理池失败: %w", err)
		}

		stats := pool.GetStats()
		fmt.Printf("记录总数: %d\n", stats.Total)
		fmt.Printf("当前可用: %d\n", stats.Available)
		fmt.Printf("封禁中:   %d\n", stats.Banned)
		printPoolSnapshot(pool)
		return nil
	},
}

// printPoolSnapshot 打印池内记录明细
func printPoolSnapshot(pool *proxypool.Pool) {
	records := pool.Snapshot()
	if len(records) == 0 {
		fmt.Println("代理池为空")
		return
	}

	fmt.Println("\n地址                                健康分   连续失败  封禁周期")
	fmt.Println("--------------------------------------------------------------")
	now := time.Now()
	for _, rec := range records {
		state := ""
		if now.Before(rec.BannedUntil) {
			state = fmt.Sprintf("  [封禁至 %s]", rec.BannedUntil.Format("15:04:05"))
		}
		fmt.Printf("%-36s %.2f     %d         %d%s\n",
			rec.Address, rec.Score, rec.Fails, rec.BanCycles, state)
	}
}

func init() {
	proxyCmd.AddCommand(proxyRefreshCmd)
	proxyCmd.AddCommand(proxyStatsCmd)
}
