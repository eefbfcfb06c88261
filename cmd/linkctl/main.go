// Package main 提供 linkctl 命令行工具：迁移表结构、签发令牌、同步摄取和检索。
package main

import (
	"os"

	"github.com/spf13/cobra"

	"knowledgelink-go/internal/config"
	"knowledgelink-go/pkg/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "linkctl",
	Short:        "KnowledgeLink 管理工具",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")
}

// loadConfig 读取配置并初始化日志，命令行只输出警告以上的日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init("warn", "console", "")
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	log.Sync()
}
