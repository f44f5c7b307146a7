package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/version"
)

// Putter is the subset of the S3 client used for uploads.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver lands each merged batch in S3 as parquet, one object per table.
type S3Archiver struct {
	client      Putter
	bucket      string
	prefix      string
	compression string
	now         func() time.Time
	logger      zerolog.Logger
}

// NewS3Client builds an S3 client from archive settings. Static keys are used
// when both are set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// NewS3Archiver wires an uploader to the configured bucket.
func NewS3Archiver(client Putter, cfg config.ArchiveConfig, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		compression: cfg.Compression,
		now:         time.Now,
		logger:      logger.With().Str("component", "archive").Logger(),
	}
}

// Archive uploads the batch's prices and dividends. Empty tables are skipped.
func (a *S3Archiver) Archive(ctx context.Context, runID uuid.UUID, batch []market.Series) error {
	id := runID.String()

	prices, n, err := EncodePrices(id, batch, a.compression)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := a.put(ctx, a.key("price_bars", id), prices, n); err != nil {
			return err
		}
	}

	divs, n, err := EncodeDividends(id, batch, a.compression)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := a.put(ctx, a.key("dividends", id), divs, n); err != nil {
			return err
		}
	}
	return nil
}

func (a *S3Archiver) key(table, runID string) string {
	now := a.now().UTC()
	return path.Join(
		a.prefix,
		"table="+table,
		"date="+now.Format(time.DateOnly),
		fmt.Sprintf("%s_%s.parquet", now.Format("20060102150405"), runID),
	)
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte, records int) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       a.compression,
			"hotpotato-version": version.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info().Str("key", key).Int("records", records).Int("bytes", len(data)).Msg("batch archived")
	return nil
}
