package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lgulliver/photoflow/pkg/config"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/lgulliver/photoflow/pkg/utils"
	"github.com/rs/zerolog/log"
)

// S3PutAPI is the part of the S3 client the uploader needs
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage implements Uploader on S3 or any S3-compatible endpoint (MinIO)
type S3Storage struct {
	client    S3PutAPI
	bucket    string
	publicURL string
}

// NewS3Storage builds a client from static credentials when they are
// configured and from the default AWS chain otherwise
func NewS3Storage(ctx context.Context, cfg *config.StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	log.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("s3 storage initialized")
	return NewS3StorageWithClient(client, cfg.Bucket, publicURL), nil
}

// NewS3StorageWithClient wires an existing client
func NewS3StorageWithClient(client S3PutAPI, bucket, publicURL string) *S3Storage {
	return &S3Storage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Upload puts the file under folder/assetName
func (s *S3Storage) Upload(ctx context.Context, file File, params UploadParams) (*types.StoredAsset, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open source: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	key := params.Key()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          src,
		ContentLength: aws.Int64(file.Size()),
		ContentType:   aws.String(file.ContentType()),
	})
	if err != nil {
		log.Warn().Err(err).Str("bucket", s.bucket).Str("key", key).Msg("s3 put failed")
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return &types.StoredAsset{
		PublicID:  key,
		SecureURL: s.publicURL + "/" + key,
		Bytes:     file.Size(),
		Format:    utils.FormatFromName(file.Name()),
	}, nil
}
