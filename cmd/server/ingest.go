package main

import (
	"context"
	"encoding/json"
	"fmt"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/collection"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/retry"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		documentID  string
		sourceURL   string
		preliminary bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "不经过队列，同步入库一份教材",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg := config.Conf
			c, err := newCore(ctx, cfg)
			if err != nil {
				return err
			}
			if preliminary {
				documentID = collection.PreliminaryID(documentID)
			}

			policy := retry.Policy{
				MaxAttempts: cfg.Ingestion.MaxRetries + 1,
				Delay:       cfg.Ingestion.RetryDelay,
				OnRetry: func(attempt int, err error) {
					log.Warnf("第 %d 次入库失败, %s 后重试: %v", attempt, cfg.Ingestion.RetryDelay, err)
				},
			}
			err = policy.Do(ctx, func(ctx context.Context, _ int) error {
				res, err := c.processor.Process(ctx, documentID, sourceURL)
				if err != nil {
					return err
				}
				out, _ := json.MarshalIndent(res, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&documentID, "document-id", "", "文档 ID（--preliminary 时为 pdf_id）")
	cmd.Flags().StringVar(&sourceURL, "url", "", "结构化 JSON 的地址，支持 http(s):// 与 s3://")
	cmd.Flags().BoolVar(&preliminary, "preliminary", false, "写入 pdf_ 前缀的预备集合")
	_ = cmd.MarkFlagRequired("document-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
