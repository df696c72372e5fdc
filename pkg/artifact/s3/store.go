// Package s3 provides an S3-backed artifact.Gateway implementation.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opentranscribe/mpo/pkg/artifact"
)

// Config holds configuration for the S3 artifact gateway.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// KeyPrefix is prepended to all keys, e.g. "media/". Should end with "/"
	// if non-empty.
	KeyPrefix string
	// ForcePathStyle is required for S3-compatible services (MinIO, Localstack).
	ForcePathStyle bool
}

// Gateway is an S3-backed implementation of artifact.Gateway.
type Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
}

// New creates a gateway from an existing S3 client.
func New(client *s3.Client, cfg Config) *Gateway {
	return &Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// NewFromConfig builds the AWS SDK config and S3 client, then returns a Gateway.
func NewFromConfig(ctx context.Context, cfg Config) (*Gateway, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func (g *Gateway) fullKey(key string) string {
	return g.keyPrefix + key
}

func (g *Gateway) Put(ctx context.Context, key string, r io.Reader) (*artifact.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
		Body:   strings.NewReader(string(data)),
	})
	if err != nil {
		return nil, artifact.NewStorageError("put", key, classify(err), err)
	}
	return &artifact.PutResult{ByteLength: int64(len(data))}, nil
}

func (g *Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
	})
	if err != nil {
		return nil, artifact.NewStorageError("get", key, classify(err), err)
	}
	return resp.Body, nil
}

func (g *Gateway) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	resp, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, artifact.NewStorageError("stream", key, classify(err), err)
	}
	return resp.Body, nil
}

func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
	})
	if err != nil {
		return artifact.NewStorageError("delete", key, classify(err), err)
	}
	return nil
}

func (g *Gateway) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", artifact.NewStorageError("presign", key, classify(err), err)
	}
	return req.URL, nil
}

func (g *Gateway) Size(ctx context.Context, key string) (int64, error) {
	resp, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.fullKey(key)),
	})
	if err != nil {
		return 0, artifact.NewStorageError("size", key, classify(err), err)
	}
	if resp.ContentLength == nil {
		return 0, nil
	}
	return *resp.ContentLength, nil
}

func (g *Gateway) Healthcheck(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err != nil {
		return artifact.NewStorageError("healthcheck", g.bucket, classify(err), err)
	}
	return nil
}

func classify(err error) artifact.Kind {
	if err == nil {
		return artifact.KindUnknown
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey"), strings.Contains(msg, "NotFound"), strings.Contains(msg, "404"):
		return artifact.KindNotFound
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "Forbidden"), strings.Contains(msg, "403"):
		return artifact.KindAuthDenied
	case strings.Contains(msg, "SlowDown"), strings.Contains(msg, "RequestTimeout"), strings.Contains(msg, "503"):
		return artifact.KindTransient
	default:
		return artifact.KindUnknown
	}
}

var _ artifact.Gateway = (*Gateway)(nil)
