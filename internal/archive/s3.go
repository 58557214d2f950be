// Package archive копирует готовые счета в S3-совместимое хранилище (AWS S3, R2, MinIO).
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Config описывает бакет для архива.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archiver загружает PDF по ключу <prefix>/<YYYY>/<MM>/<имя файла>.
type S3Archiver struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
	logger *log.Entry
}

// NewS3Archiver создаёт клиента. Если заданы ключи, используются статические
// credentials, иначе стандартная цепочка AWS SDK.
func NewS3Archiver(ctx context.Context, cfg Config, logger *log.Entry) (*S3Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archiver(client, cfg, logger), nil
}

func newS3Archiver(client objectAPI, cfg Config, logger *log.Entry) *S3Archiver {
	if logger == nil {
		logger = log.WithField("component", "archive")
	}
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// KeyFor возвращает ключ объекта для файла счёта.
func (a *S3Archiver) KeyFor(artifactPath string) string {
	at := a.now()
	key := path.Join(at.Format("2006"), at.Format("01"), filepath.Base(artifactPath))
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	return key
}

// Archive загружает файл. Вызывающий только логирует ошибку.
func (a *S3Archiver) Archive(ctx context.Context, orderNumber, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	key := a.KeyFor(artifactPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/pdf"),
		Metadata:      map[string]string{"order-number": orderNumber},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	a.logger.WithFields(log.Fields{
		"order_number": orderNumber,
		"bucket":       a.bucket,
		"key":          key,
	}).Debug("invoice archived")
	return nil
}

// Ping проверяет доступность бакета.
func (a *S3Archiver) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}

var _ domain.ArtifactArchiver = (*S3Archiver)(nil)
