// Package s3store is the object-storage backend for the file category,
// backed by any S3-compatible service.
package s3store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// presignExpiry bounds how long a resolved download URL stays valid.
const presignExpiry = 15 * time.Minute

// Config carries S3 connection settings.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// objectAPI and presignAPI are the SDK subsets we use; seams for tests.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Backend struct {
	cfg     Config
	objects objectAPI
	presign presignAPI
	log     logging.Logger
}

// New builds an S3 client with static credentials and an optional custom
// endpoint (MinIO and friends).
func New(ctx context.Context, cfg Config, log logging.Logger) (*Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Backend{
		cfg:     cfg,
		objects: client,
		presign: s3.NewPresignClient(client),
		log:     log.With("component", "s3store"),
	}, nil
}

// storageKey spreads objects over date-based prefixes.
func storageKey() string {
	d := time.Now().UTC()
	return fmt.Sprintf("uploads/%d/%02d/%02d/%s", d.Year(), d.Month(), d.Day(), uuid.NewString())
}

// Upload streams src into a fresh object key, reporting throttled progress.
// The on-disk source is discarded on every final outcome.
func (b *Backend) Upload(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	defer func() { _ = storage.Discard(src) }()

	if err := ctx.Err(); err != nil {
		return nil, storage.AsCanceled(ctx, err)
	}

	mime := opts.MimeType
	if mime == "" {
		if d, ok := src.(*storage.OnDisk); ok {
			if mt, err := mimetype.DetectFile(d.Path); err == nil {
				mime = mt.String()
			}
		}
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	f, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	counting := storage.NewCountingReader(f, src.Size(), opts.OnProgress)
	key := storageKey()

	_, err = b.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          counting,
		ContentLength: aws.Int64(src.Size()),
		ContentType:   aws.String(mime),
	})
	if err != nil {
		return nil, storage.AsCanceled(ctx, fmt.Errorf("put object: %w", err))
	}
	counting.Finish()

	return &storage.StoredMediaReference{
		StorageType:  storage.TypeS3,
		OriginalName: src.Name(),
		MimeType:     mime,
		Size:         src.Size(),
		UploadedAt:   time.Now().UTC(),
		UploadedBy:   opts.OwnerID,
		Bucket:       b.cfg.Bucket,
		Key:          key,
	}, nil
}

// Resolve returns a presigned GET URL for streaming the object back.
func (b *Backend) Resolve(ctx context.Context, ref *storage.StoredMediaReference) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// Delete removes the object. Best effort: failures are logged, never
// returned.
func (b *Backend) Delete(ctx context.Context, ref *storage.StoredMediaReference) error {
	_, err := b.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		b.log.Warn(ctx, "failed to delete object", "bucket", ref.Bucket, "key", ref.Key, "error", err)
	}
	return nil
}
