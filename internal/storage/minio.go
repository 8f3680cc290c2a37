package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"refermail/internal/config"
)

// Client 封装 MinIO 客户端，负责简历原件的读写与限时链接签发。
// internalClient 走集群内网地址，publicClient 用于对外签发预签名 URL。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	bucketName     string
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
		bucketLookup = minio.BucketLookupAuto
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	parsedPublicEndpoint, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}

	publicHost := parsedPublicEndpoint.Host
	if publicHost == "" {
		return nil, fmt.Errorf("invalid minio public endpoint, host missing")
	}

	publicClient, err := minio.New(publicHost, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       parsedPublicEndpoint.Scheme == "https",
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := internalClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
		}
		if err := internalClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		bucketName:     cfg.Bucket,
	}, nil
}

// UploadFile 将对象上传到私有 Bucket，并返回上传结果。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// ReadObject 读取私有 Bucket 中的对象全部内容。
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", objectKey, err)
	}
	return data, nil
}

// GeneratePresignedURL 生成对象的限时下载链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	presignedURL, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, nil)
	if err != nil {
		return "", fmt.Errorf("generate presigned url for %q: %w", objectKey, err)
	}
	return presignedURL.String(), nil
}
