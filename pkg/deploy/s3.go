package deploy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/webcompile/pkg/deploy")

// ObjectAPI is the subset of the S3 client used for publishing
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Config holds S3 publishing configuration
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// CreateBucket creates the bucket when it is missing, for local MinIO
	CreateBucket bool
}

// Manifest describes one published precompiled site
type Manifest struct {
	Version  string   `json:"version"`
	Key      string   `json:"key"`
	Checksum string   `json:"checksum"`
	Size     int64    `json:"size"`
	Files    []string `json:"files"`
}

// NewS3Client creates an S3 client. Static credentials are used when both
// keys are set, the default credential chain otherwise.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Publisher uploads precompiled sites as gzipped tarballs
type Publisher struct {
	api    ObjectAPI
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher
func NewPublisher(api ObjectAPI, cfg Config, logger *logrus.Logger) (*Publisher, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{api: api, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Publish packs dir and uploads it as <prefix>/<version>/site.tar.gz, then
// points <prefix>/latest at the version. An empty version is derived from
// the current time. dir must hold a precompiled site.
func (p *Publisher) Publish(ctx context.Context, dir, version string) (*Manifest, error) {
	if version == "" {
		version = p.now().UTC().Format("20060102T150405Z")
	}

	ctx, span := tracer.Start(ctx, "Publisher.Publish",
		trace.WithAttributes(
			attribute.String("s3.bucket", p.cfg.Bucket),
			attribute.String("deploy.version", version),
		),
	)
	defer span.End()

	if _, err := os.Stat(filepath.Join(dir, config.PrecompiledMarkerFile)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not a precompiled site")
		return nil, fmt.Errorf("%s is not a precompiled site: %w", dir, err)
	}

	if p.cfg.CreateBucket {
		if err := p.ensureBucket(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to ensure bucket")
			return nil, err
		}
	}

	archive, files, err := pack(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to pack site")
		return nil, err
	}

	hash := sha256.Sum256(archive)
	manifest := &Manifest{
		Version:  version,
		Key:      p.key(version, "site.tar.gz"),
		Checksum: hex.EncodeToString(hash[:]),
		Size:     int64(len(archive)),
		Files:    files,
	}
	span.SetAttributes(
		attribute.String("s3.key", manifest.Key),
		attribute.Int64("content.size", manifest.Size),
	)

	if err := p.put(ctx, manifest.Key, archive, "application/gzip", map[string]string{
		"checksum-sha256": manifest.Checksum,
		"version":         version,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload site")
		return nil, err
	}

	if err := p.put(ctx, p.key("latest"), []byte(version), "text/plain", nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update latest pointer")
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"bucket":  p.cfg.Bucket,
		"key":     manifest.Key,
		"files":   len(files),
		"size":    manifest.Size,
		"version": version,
	}).Info("Published precompiled site")

	span.SetStatus(codes.Ok, "site published")
	return manifest, nil
}

func (p *Publisher) key(parts ...string) string {
	if p.cfg.Prefix != "" {
		parts = append([]string{strings.Trim(p.cfg.Prefix, "/")}, parts...)
	}
	return path.Join(parts...)
}

func (p *Publisher) put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}
	return nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	if _, err := p.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.cfg.Bucket)}); err == nil {
		return nil
	}

	_, err := p.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(p.cfg.Bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isBucketAlreadyExistsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "BucketAlreadyExists") || strings.Contains(msg, "BucketAlreadyOwnedByYou")
}

// pack writes every regular file under dir into a gzipped tarball with
// slash separated relative names
func pack(dir string) ([]byte, []string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	var files []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		files = append(files, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), files, nil
}
