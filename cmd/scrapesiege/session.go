package main

import (
	"fmt"
	"os"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
	"github.com/RecoveryAshes/ScrapeSiege/internal/session"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/cobra"
)

// session命令参数
var (
	sessionSource     string
	sessionCookieFile string
	sessionStateFile  string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "管理持久化会话",
	Long: `管理来源站点的持久化会话。

会话从浏览器导出的cookies.txt (Netscape格式)或完整JSON状态文件导入,
提取时通过 scrape --use-session 使用。失效的会话保留在磁盘上,
重新导入即可恢复。`,
}

var sessionImportCmd = &cobra.Command{
	Use:   "import",
	Short: "导入会话",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateSourceName(sessionSource); err != nil {
			return fmt.Errorf("无效的来源标识: %w", err)
		}
		if sessionCookieFile == "" && sessionStateFile == "" {
			return fmt.Errorf("必须指定 --cookies 或 --state")
		}

		var sess *models.Session
		if sessionStateFile != "" {
			data, err := os.ReadFile(sessionStateFile)
			if err != nil {
				return fmt.Errorf("读取状态文件失败: %w", err)
			}
			sess, err = models.SessionFromJSON(data)
			if err != nil {
				return fmt.Errorf("解析状态文件失败: %w", err)
			}
			sess.Source = sessionSource
		} else {
			data, err := os.ReadFile(sessionCookieFile)
			if err != nil {
				return fmt.Errorf("读取Cookie文件失败: %w", err)
			}
			sess = models.NewSession(sessionSource)
			sess.Cookies = models.CookiesFromNetscape(string(data))
			if len(sess.Cookies) == 0 {
				return fmt.Errorf("未从 %s 解析出任何Cookie", sessionCookieFile)
			}
		}

		manager := newSessionManager()
		defer manager.Shutdown()

		if err := manager.Import(sess); err != nil {
			return fmt.Errorf("导入会话失败: %w", err)
		}

		utils.Infof("✅ 会话已导入 [%s]: %d个Cookie", sessionSource, len(sess.Cookies))
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看会话状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateSourceName(sessionSource); err != nil {
			return fmt.Errorf("无效的来源标识: %w", err)
		}

		manager := newSessionManager()
		defer manager.Shutdown()

		loaded, sess, err := manager.Status(sessionSource)
		if err != nil {
			return fmt.Errorf("读取会话失败: %w", err)
		}

		fmt.Printf("来源: %s\n", sessionSource)
		if sess == nil {
			fmt.Println("状态: 无持久化会话 (需先 session import)")
			return nil
		}

		state := "可用"
		if sess.Invalid {
			state = "已失效 (需重新导入)"
		}
		fmt.Printf("状态: %s\n", state)
		fmt.Printf("内存加载: %v\n", loaded)
		fmt.Printf("Cookie数: %d\n", len(sess.Cookies))
		fmt.Printf("本地状态键数: %d\n", len(sess.LocalState))
		if !sess.CreatedAt.IsZero() {
			fmt.Printf("创建时间: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		if !sess.ValidatedAt.IsZero() {
			fmt.Printf("最后验证: %s\n", sess.ValidatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "标记会话失效",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateSourceName(sessionSource); err != nil {
			return fmt.Errorf("无效的来源标识: %w", err)
		}

		manager := newSessionManager()
		defer manager.Shutdown()

		manager.Invalidate(sessionSource)
		utils.Infof("✅ 会话已标记失效 [%s],记录保留在磁盘", sessionSource)
		return nil
	},
}

// newSessionManager 按全局配置创建会话管理器
func newSessionManager() *session.Manager {
	return session.NewManager(session.NewStore(appConfig.SessionDataDir()))
}

func init() {
	sessionCmd.PersistentFlags().StringVarP(&sessionSource, "source", "s", "", "来源站点标识 (必需)")
	_ = sessionCmd.MarkPersistentFlagRequired("source")

	sessionImportCmd.Flags().StringVar(&sessionCookieFile, "cookies", "", "Netscape格式cookies.txt路径")
	sessionImportCmd.Flags().StringVar(&sessionStateFile, "state", "", "完整JSON会话状态文件路径")

	sessionCmd.AddCommand(sessionImportCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionInvalidateCmd)
}
