// Package storage publishes archives to an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// DefaultACL makes published objects readable through their public URL.
const DefaultACL = "public-read"

// ErrNoBucket is returned when the client is created without a bucket.
var ErrNoBucket = errors.New("storage bucket is not configured")

// ProgressFunc receives the bytes sent over the wire so far and the file size.
type ProgressFunc func(transferred, total int64)

// Config holds object storage settings.
type Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	PathStyle  bool
	PartSizeMB int64
	ACL        string
}

// Client talks to one bucket.
type Client struct {
	api      *s3.Client
	uploader *manager.Uploader
	cfg      Config
	logger   zerolog.Logger
}

// New creates a client from the default AWS credential chain.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.ACL == "" {
		cfg.ACL = DefaultACL
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	uploader := manager.NewUploader(api, func(u *manager.Uploader) {
		partSize := cfg.PartSizeMB * 1024 * 1024
		if partSize < manager.MinUploadPartSize {
			partSize = manager.MinUploadPartSize
		}
		u.PartSize = partSize
	})

	return &Client{
		api:      api,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger.With().Str("component", "storage").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Exists reports whether key is already stored.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if IsAbsent(err) {
		return false, nil
	}
	return false, &Error{Op: "head", Key: key, Err: err}
}

// Upload stores localPath under key with a multipart upload.
func (c *Client) Upload(ctx context.Context, key, localPath, contentType string, onProgress ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &Error{Op: "upload", Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &Error{Op: "upload", Key: key, Err: err}
	}

	start := time.Now()
	counter := newTransferCounter(info.Size(), onProgress)

	// Parts are read from f by offset; progress counts request bodies as the
	// HTTP client writes them.
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ACL:         s3types.ObjectCannedACL(c.cfg.ACL),
		ContentType: aws.String(contentType),
	}, func(u *manager.Uploader) {
		u.ClientOptions = append(u.ClientOptions[:len(u.ClientOptions):len(u.ClientOptions)], func(o *s3.Options) {
			o.HTTPClient = counter.wrap(o.HTTPClient)
		})
	})
	if err != nil {
		return &Error{Op: "upload", Key: key, Err: err}
	}

	c.logger.Info().
		Str("key", key).
		Int64("size", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("Uploaded object")
	return nil
}

// Delete removes key from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	c.logger.Info().Str("key", key).Msg("Deleted object")
	return nil
}

// List returns every object under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &Error{Op: "list", Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Ping checks that the bucket is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	})
	if err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// PublicURL returns the anonymous URL for key in this bucket.
func (c *Client) PublicURL(key string) string {
	return PublicURL(c.cfg.Bucket, c.cfg.Region, c.cfg.Endpoint, key)
}
