// Package main 是应用程序的入口点。
package main

import (
	"fmt"
	"os"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "教材 RAG 服务：入库、问答、出题与批改",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. 初始化配置
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			config.Conf = c

			// 2. 初始化日志记录器
			log.Init(c.Log.Level, c.Log.Format, c.Log.OutputPath)
			log.Info("日志记录器初始化成功")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	root.AddCommand(newServeCmd(), newWorkerCmd(), newIngestCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		// 配置加载失败时日志尚未初始化，同时输出到 stderr
		log.Errorf("命令执行失败: %v", err)
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
