// Package upload copies session artifacts to an S3-compatible bucket.
package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/logging"
)

var log = logging.Component("upload")

// Config configures the uploader. Credentials come from the default AWS
// chain (environment, shared config, instance role).
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool
	Prefix    string

	// Concurrency bounds parallel uploads in UploadAll.
	Concurrency int
}

// Putter is the subset of the S3 client used here.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader uploads files under <prefix>/<subject>/<file name>.
type Uploader struct {
	client      Putter
	bucket      string
	prefix      string
	concurrency int
}

// New creates an uploader backed by the AWS SDK.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewMissingField("upload.bucket")
	}
	region := cfg.Region
	if region == "" {
		region = config.DefaultUploadRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates an uploader around an existing client.
func NewWithClient(client Putter, cfg Config) *Uploader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Uploader{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		concurrency: cfg.Concurrency,
	}
}

// Key returns the object key for a local file.
func (u *Uploader) Key(subject, file string) string {
	return path.Join(u.prefix, subject, filepath.Base(file))
}

// UploadFile uploads one file and returns its key.
func (u *Uploader) UploadFile(ctx context.Context, subject, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", file, err)
	}

	key := u.Key(subject, file)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType(file)),
		Metadata:      map[string]string{"subject": subject},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	log.Info("uploaded", "file", file, "bucket", u.bucket, "key", key, "bytes", st.Size())
	return key, nil
}

// UploadAll uploads every non-empty path concurrently and returns the keys in
// input order. The first failure cancels the remaining uploads.
func (u *Uploader) UploadAll(ctx context.Context, subject string, files ...string) ([]string, error) {
	keys := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, file := range files {
		if file == "" {
			continue
		}
		g.Go(func() error {
			key, err := u.UploadFile(gctx, subject, file)
			keys[i] = key
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
