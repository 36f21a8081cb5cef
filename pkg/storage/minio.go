// Package storage 提供了与对象存储服务（如 MinIO / S3）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectReader 读取整个对象。
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// MinIO 封装 minio.Client，用于下载上游产出的 JSON。
type MinIO struct {
	client        *minio.Client
	defaultBucket string
}

// InitMinIO 初始化 MinIO 客户端。存储桶由上游负责创建，这里只做存在性检查。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	if cfg.BucketName != "" {
		exists, err := client.BucketExists(ctx, cfg.BucketName)
		if err != nil {
			log.Warnf("检查 MinIO 存储桶 '%s' 失败: %v", cfg.BucketName, err)
		} else if !exists {
			log.Warnf("存储桶 '%s' 不存在", cfg.BucketName)
		}
	}
	return &MinIO{client: client, defaultBucket: cfg.BucketName}, nil
}

// ReadObject 下载对象的全部内容，bucket 为空时使用默认存储桶。
func (m *MinIO) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = m.defaultBucket
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败 %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败 %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
