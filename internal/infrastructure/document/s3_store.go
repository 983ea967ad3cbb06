package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/infrastructure/awscloud"
)

const s3RefPrefix = "s3://"

type s3Store struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	prefix     string
	presignTTL time.Duration
	logger     *zap.Logger
}

func NewS3Store(ctx context.Context, cfg *config.Config, logger *zap.Logger) (AttachmentStore, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required for the s3 provider")
	}

	awsCfg, err := awscloud.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.Storage.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info("S3 attachment store initialized",
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("prefix", cfg.Storage.Prefix),
	)

	return &s3Store{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Storage.Bucket,
		prefix:     strings.Trim(cfg.Storage.Prefix, "/"),
		presignTTL: ttl,
		logger:     logger,
	}, nil
}

func (s *s3Store) Store(ctx context.Context, kind Kind, name, contentType string, data []byte) (string, error) {
	key := path.Join(s.prefix, string(kind), objectName(name, time.Now()))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		s.logger.Error("Failed to upload attachment",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}

	return s3RefPrefix + s.bucket + "/" + key, nil
}

func (s *s3Store) Load(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *s3Store) URL(ctx context.Context, ref string) (string, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return "", err
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign attachment: %w", err)
	}
	return req.URL, nil
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, s3RefPrefix)
	if rest == ref {
		return "", "", fmt.Errorf("not an s3 attachment reference: %q", ref)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed s3 attachment reference: %q", ref)
	}
	return parts[0], parts[1], nil
}
