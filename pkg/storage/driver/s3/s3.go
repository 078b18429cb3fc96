// Package s3 drives Amazon S3 and S3-compatible servers such as MinIO
// through aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/transfer"
)

// Config holds everything needed to build a client.
type Config struct {
	Kind            kind.Kind
	Region          string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// FromS3Settings converts Amazon S3 settings.
func FromS3Settings(s *models.S3Settings) Config {
	return Config{
		Kind:            kind.AmazonS3,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		Bucket:          s.Bucket,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UsePathStyle:    s.Endpoint != "",
	}
}

// FromMinIOSettings converts self-hosted settings. Endpoints without scheme
// get http or https depending on UseSSL.
func FromMinIOSettings(s *models.MinIOSettings) Config {
	endpoint := s.Endpoint
	if !strings.Contains(endpoint, "://") {
		if s.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	region := s.Region
	if region == "" {
		region = "us-east-1"
	}

	return Config{
		Kind:            kind.MinIO,
		Region:          region,
		Endpoint:        endpoint,
		Bucket:          s.Bucket,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UsePathStyle:    true,
	}
}

// Client implements driver.Client for one bucket.
type Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     Config
}

// Open builds a client with static credentials. No request is sent.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		config.WithRetryMaxAttempts(3),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

// Opener decodes S3 or MinIO settings and opens a client.
func Opener(ctx context.Context, cfg *models.BackendConfig) (driver.Client, error) {
	settings, err := cfg.Decode()
	if err != nil {
		return nil, err
	}

	switch s := settings.(type) {
	case *models.S3Settings:
		return Open(ctx, FromS3Settings(s))
	case *models.MinIOSettings:
		return Open(ctx, FromMinIOSettings(s))
	default:
		return nil, fmt.Errorf("backend %d is not an S3 compatible configuration", cfg.ID)
	}
}

func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, strategy transfer.Strategy) error {
	if strategy == transfer.Chunked {
		return c.putMultipart(ctx, key, r, contentType)
	}

	// Direct puts are below the multipart threshold, so buffering a
	// non-seekable body is bounded.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(io.LimitReader(r, size+1))
		if err != nil {
			return fmt.Errorf("failed to read upload body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err := c.client.PutObject(ctx, input)
	return err
}

func (c *Client) putMultipart(ctx context.Context, key string, r io.Reader, contentType string) error {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	createResp, err := c.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return err
	}
	uploadID := createResp.UploadId

	partSize := transfer.PartSize(c.cfg.Kind)
	buf := make([]byte, partSize)
	var completedParts []types.CompletedPart

	for partNum := int32(1); ; partNum++ {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
			c.abortMultipartUpload(key, uploadID)
			return fmt.Errorf("failed to read part %d: %w", partNum, readErr)
		}
		if n == 0 && len(completedParts) > 0 {
			break
		}

		uploadResp, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.cfg.Bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNum),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if err != nil {
			c.abortMultipartUpload(key, uploadID)
			return err
		}

		completedParts = append(completedParts, types.CompletedPart{
			ETag:       uploadResp.ETag,
			PartNumber: aws.Int32(partNum),
		})

		if readErr != nil {
			break
		}
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		c.abortMultipartUpload(key, uploadID)
		return err
	}
	return nil
}

// abortMultipartUpload runs detached from the caller's context, which may
// already be cancelled.
func (c *Client) abortMultipartUpload(key string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, _ = c.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
}

func (c *Client) Get(ctx context.Context, key string, size int64, strategy transfer.Strategy) (io.ReadCloser, error) {
	if strategy == transfer.Chunked {
		return driver.NewChunkedReader(ctx, size, transfer.PartSize(c.cfg.Kind), func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
			return c.getObject(ctx, key, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		}), nil
	}
	return c.getObject(ctx, key, "")
}

func (c *Client) getObject(ctx context.Context, key, byteRange string) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	resp, err := c.client.GetObject(ctx, input)
	if err != nil {
		return nil, translate(err)
	}
	return resp.Body, nil
}

// Delete removes key. S3 does not report missing keys on delete, so
// existence is checked first.
func (c *Client) Delete(ctx context.Context, key string) error {
	exists, err := c.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", driver.ErrObjectNotFound, key)
	}

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}

const (
	// maxCopySize is the largest object a single CopyObject call accepts.
	maxCopySize int64 = 5 << 30
	// copyPartSize keeps multipart copies of up to 5 TiB within 10000 parts.
	copyPartSize int64 = 1 << 30
)

// Copy copies src to dst server side. Objects above maxCopySize are copied
// part by part.
func (c *Client) Copy(ctx context.Context, dst, src string) error {
	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		return translate(err)
	}

	size := aws.ToInt64(head.ContentLength)
	if size > maxCopySize {
		return c.copyMultipart(ctx, dst, src, size, head.ContentType)
	}

	_, err = c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.cfg.Bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(c.copySource(src)),
	})
	return translate(err)
}

func (c *Client) copySource(key string) string {
	return c.cfg.Bucket + "/" + escapeKey(key)
}

func (c *Client) copyMultipart(ctx context.Context, dst, src string, size int64, contentType *string) error {
	createResp, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(dst),
		ContentType: contentType,
	})
	if err != nil {
		return err
	}
	uploadID := createResp.UploadId

	ranges := copyRanges(size, copyPartSize)
	completedParts := make([]types.CompletedPart, 0, len(ranges))

	for i, byteRange := range ranges {
		partNum := int32(i + 1)
		resp, err := c.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(c.cfg.Bucket),
			Key:             aws.String(dst),
			UploadId:        uploadID,
			PartNumber:      aws.Int32(partNum),
			CopySource:      aws.String(c.copySource(src)),
			CopySourceRange: aws.String(byteRange),
		})
		if err != nil {
			c.abortMultipartUpload(dst, uploadID)
			return translate(err)
		}

		part := types.CompletedPart{PartNumber: aws.Int32(partNum)}
		if resp.CopyPartResult != nil {
			part.ETag = resp.CopyPartResult.ETag
		}
		completedParts = append(completedParts, part)
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.cfg.Bucket),
		Key:      aws.String(dst),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		c.abortMultipartUpload(dst, uploadID)
		return err
	}
	return nil
}

// copyRanges splits size bytes into inclusive "bytes=first-last" ranges of
// at most partSize bytes.
func copyRanges(size, partSize int64) []string {
	var ranges []string
	for offset := int64(0); offset < size; offset += partSize {
		last := offset + partSize - 1
		if last >= size {
			last = size - 1
		}
		ranges = append(ranges, fmt.Sprintf("bytes=%d-%d", offset, last))
	}
	return ranges
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(translate(err), driver.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) MkdirAll(ctx context.Context, key string) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(driver.MarkerKey(key)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return err
}

func (c *Client) Rmdir(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(driver.MarkerKey(key)),
	})
	return err
}

func (c *Client) Preview(ctx context.Context, key string, expiry time.Duration) (*storage.Preview, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, err
	}
	return &storage.Preview{
		URL:     req.URL,
		Expires: time.Now().Add(expiry),
	}, nil
}

// Ping issues HeadBucket, which needs valid credentials and an existing
// bucket but writes nothing.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	})
	return err
}

func (c *Client) Close() error {
	return nil
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func translate(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", driver.ErrObjectNotFound, err)
	}
	return err
}
