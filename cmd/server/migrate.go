package main

import (
	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/repository"
	"dodream-rag-go/pkg/database"
	"dodream-rag-go/pkg/log"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新聊天会话表",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(config.Conf.Database)
			if err != nil {
				return err
			}
			if err := repository.AutoMigrate(db); err != nil {
				return err
			}
			log.Infof("数据库迁移完成, driver: %s", config.Conf.Database.Driver)
			return nil
		},
	}
}
