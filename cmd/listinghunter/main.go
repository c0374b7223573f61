package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/ListingHunter/internal/core"
	"github.com/RecoveryAshes/ListingHunter/internal/extract"
	"github.com/RecoveryAshes/ListingHunter/internal/models"
	"github.com/RecoveryAshes/ListingHunter/internal/store"
	"github.com/RecoveryAshes/ListingHunter/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 爬取参数
	workers    int
	groupID    int64
	namePrefix string
)

// appConfig 由PersistentPreRunE加载,供所有子命令使用
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "listinghunter",
	Short: "二手平台商品采集编排引擎",
	Long: `ListingHunter - 远程浏览器会话编排采集工具 (Go版本)

通过本地供给服务批量驱动远程浏览器会话,经轮换代理池
访问目标平台并采集商品列表,支持:
  • 代理池轮询分配与分组管理
  • 会话级故障恢复(换代理重启 / 身份重建)
  • 远程任务服务器对接与结果回传
  • 批次间整体代理轮换与冷却

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		if err := config.Validate(); err != nil {
			return fmt.Errorf("配置校验失败: %w", err)
		}
		appConfig = config

		// 初始化日志系统
		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl()
	},
}

// runCrawl 执行完整采集生命周期: 准备 -> 启动 -> 等待 -> 清理
func runCrawl() error {
	if workers < 1 {
		return fmt.Errorf("会话数必须≥1")
	}

	st, err := store.Open(appConfig.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	// 已支持的目标平台,暂时都走通用列表页解析
	for _, platform := range []string{"mercari", "rakuma", "paypay"} {
		extract.Register(extract.NewGenericExtractor(platform))
	}

	engine := core.NewEngine(appConfig, st)
	ctx := context.Background()

	specs := make([]models.SessionSpec, 0, workers)
	for i := 0; i < workers; i++ {
		specs = append(specs, models.SessionSpec{
			Name:    fmt.Sprintf("%s-%02d", namePrefix, i+1),
			GroupID: groupID,
		})
	}

	utils.Infof("🔧 准备会话: 数量=%d 分组=%d", workers, groupID)
	if err := engine.Prepare(ctx, specs); err != nil {
		return fmt.Errorf("准备阶段失败: %w", err)
	}

	// 信号处理(Ctrl+C优雅退出)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		utils.Warnf("收到中断信号: %v, 正在优雅关闭...", sig)
		engine.Stop()
	}()

	if err := engine.StartCrawl(ctx); err != nil {
		engine.Clear(ctx)
		return err
	}

	// 进度展示循环: 每个任务批次一条进度条
	go progressLoop(engine)

	engine.Wait()
	engine.Clear(ctx)
	utils.Info("✨ 采集任务结束!")
	return nil
}

// progressLoop 轮询引擎快照并驱动进度条
func progressLoop(engine *core.Engine) {
	var bar = utils.NewProgressBar(0, "等待任务批次")
	lastTotal := 0

	for {
		time.Sleep(2 * time.Second)
		p := engine.Snapshot()
		if !p.Running {
			return
		}
		if p.TotalTasks == 0 {
			continue
		}
		if p.TotalTasks != lastTotal {
			lastTotal = p.TotalTasks
			bar = utils.NewProgressBar(p.TotalTasks, "采集进度")
		}
		bar.Set(p.DoneTasks + p.FailedTasks)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ListingHunter %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// 爬取参数
	rootCmd.Flags().IntVarP(&workers, "workers", "n", 4, "并发会话数")
	rootCmd.Flags().Int64VarP(&groupID, "group", "g", 0, "代理分组ID (0使用全局池)")
	rootCmd.Flags().StringVar(&namePrefix, "name-prefix", "hunter", "会话名称前缀")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(groupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
