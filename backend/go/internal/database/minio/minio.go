package minio

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ragbase/backend/go/internal/config"
)

// Mirror 将上传的文件复制到 MinIO 存储桶中。
type Mirror struct {
	client *minio.Client
	bucket string
}

// Connect 创建 MinIO 客户端，检查连接并确保存储桶存在。
func Connect(ctx context.Context, cfg config.MinIOConfig) (*Mirror, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("无法创建 MinIO 客户端: %w", err)
	}

	exists, err := c.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化健康检查失败: %w", err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建存储桶 '%s' 失败: %w", cfg.Bucket, err)
		}
	}
	return &Mirror{client: c, bucket: cfg.Bucket}, nil
}

// Put 上传本地文件 path，对象名为 name。
func (m *Mirror) Put(ctx context.Context, name, path, contentType string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, name, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("镜像文件 '%s' 到 MinIO 失败: %w", name, err)
	}
	return nil
}

// HealthCheck 检查 MinIO 连接的健康状况。
func (m *Mirror) HealthCheck(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	return nil
}

// Bucket 返回镜像使用的存储桶。
func (m *Mirror) Bucket() string { return m.bucket }
