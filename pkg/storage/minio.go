// Package storage 提供了与对象存储服务（如 MinIO）交互的功能，用于保存原始页面快照。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"knowledgelink-go/pkg/log"
)

// ErrSnapshotNotFound 表示文档没有保存过快照。
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Config 是 MinIO 连接参数。
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// Snapshot 是抓取到的原始页面。
type Snapshot struct {
	Body        []byte
	ContentType string
}

// SnapshotStore 以 snapshots/<documentID> 为 key 保存原始页面。
type SnapshotStore struct {
	client *minio.Client
	bucket string
}

// NewSnapshotStore 初始化 MinIO 客户端并确保存储桶存在。Endpoint 为空时返回 nil, nil。
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return &SnapshotStore{client: client, bucket: cfg.BucketName}, nil
}

func objectName(documentID string) string {
	return "snapshots/" + documentID
}

// Put 覆盖保存文档的快照。
func (s *SnapshotStore) Put(ctx context.Context, documentID string, snap Snapshot) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName(documentID),
		bytes.NewReader(snap.Body), int64(len(snap.Body)),
		minio.PutObjectOptions{ContentType: snap.ContentType})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Get 读取文档的快照，不存在时返回 ErrSnapshotNotFound。
func (s *SnapshotStore) Get(ctx context.Context, documentID string) (*Snapshot, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(documentID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &Snapshot{Body: body, ContentType: info.ContentType}, nil
}

// Remove 删除文档的快照，不存在时不报错。
func (s *SnapshotStore) Remove(ctx context.Context, documentID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(documentID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
