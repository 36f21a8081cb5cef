package main

import (
	"context"
	"errors"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/log"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "只运行入库 worker（Kafka 消费者）",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg := config.Conf
			c, err := newCore(ctx, cfg)
			if err != nil {
				return err
			}
			taskRepo, err := newTaskRepository(ctx, cfg)
			if err != nil {
				return err
			}
			log.Infof("入库 worker 启动, topic: %s, workers: %d", cfg.Kafka.Topic, cfg.Kafka.Workers)
			if err := c.newRunner(taskRepo).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("入库 worker 已退出")
			return nil
		},
	}
}
