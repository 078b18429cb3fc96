// Package cdk drives Google Cloud Storage and Azure Blob Storage through
// the Go Cloud Development Kit blob abstraction.
//
// See https://pkg.go.dev/gocloud.dev/blob
package cdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/mwantia/gostore/pkg/db/models"
	"github.com/mwantia/gostore/pkg/storage"
	"github.com/mwantia/gostore/pkg/storage/driver"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/mwantia/gostore/pkg/storage/transfer"
	"gocloud.dev/blob"
	"gocloud.dev/blob/azureblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

const gcsScope = "https://www.googleapis.com/auth/devstorage.read_write"

// Client implements driver.Client on top of a *blob.Bucket.
type Client struct {
	bucket *blob.Bucket
	kind   kind.Kind
}

// NewClient wraps an opened bucket. The client owns the bucket and closes
// it in Close.
func NewClient(bucket *blob.Bucket, k kind.Kind) *Client {
	return &Client{bucket: bucket, kind: k}
}

// OpenGCS authenticates with a service account key. The key also signs
// preview URLs.
func OpenGCS(ctx context.Context, settings *models.GCSSettings) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	key := []byte(settings.CredentialsJSON)

	creds, err := google.CredentialsFromJSON(ctx, key, gcsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GCS credentials: %w", err)
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS http client: %w", err)
	}

	opts := &gcsblob.Options{}
	if jwt, err := google.JWTConfigFromJSON(key, gcsScope); err == nil {
		opts.GoogleAccessID = jwt.Email
		opts.PrivateKey = jwt.PrivateKey
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, settings.Bucket, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS bucket %q: %w", settings.Bucket, err)
	}
	return NewClient(bucket, kind.GoogleCloud), nil
}

// OpenAzure authenticates with a shared account key.
func OpenAzure(ctx context.Context, settings *models.AzureSettings) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cred, err := azblob.NewSharedKeyCredential(settings.AccountName, settings.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := settings.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", settings.AccountName)
	}
	containerURL := strings.TrimSuffix(serviceURL, "/") + "/" + settings.Container

	client, err := container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure container client: %w", err)
	}

	bucket, err := azureblob.OpenBucket(ctx, client, &azureblob.Options{Credential: cred})
	if err != nil {
		return nil, fmt.Errorf("failed to open Azure container %q: %w", settings.Container, err)
	}
	return NewClient(bucket, kind.AzureBlob), nil
}

// Opener decodes GCS or Azure settings and opens a client.
func Opener(ctx context.Context, cfg *models.BackendConfig) (driver.Client, error) {
	settings, err := cfg.Decode()
	if err != nil {
		return nil, err
	}

	switch s := settings.(type) {
	case *models.GCSSettings:
		return OpenGCS(ctx, s)
	case *models.AzureSettings:
		return OpenAzure(ctx, s)
	default:
		return nil, fmt.Errorf("backend %d is not a gocloud configuration", cfg.ID)
	}
}

// Put streams r into a bucket writer. Chunked puts set the writer buffer to
// the part size, which the providers upload as resumable chunks (GCS) or
// blocks (Azure).
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, strategy transfer.Strategy) error {
	opts := &blob.WriterOptions{
		ContentType: contentType,
	}
	if strategy == transfer.Chunked {
		opts.BufferSize = int(transfer.PartSize(c.kind))
	}

	// Cancelling ctx aborts the write, nothing is committed.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.bucket.NewWriter(wctx, key, opts)
	if err != nil {
		return err
	}

	n, err := io.Copy(w, r)
	if err == nil && n != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	if err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *Client) Get(ctx context.Context, key string, size int64, strategy transfer.Strategy) (io.ReadCloser, error) {
	if strategy == transfer.Chunked {
		return driver.NewChunkedReader(ctx, size, transfer.PartSize(c.kind), func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
			r, err := c.bucket.NewRangeReader(ctx, key, offset, length, nil)
			return r, translate(err)
		}), nil
	}

	r, err := c.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, translate(err)
	}
	return r, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return translate(c.bucket.Delete(ctx, key))
}

func (c *Client) Copy(ctx context.Context, dst, src string) error {
	return translate(c.bucket.Copy(ctx, dst, src, nil))
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return c.bucket.Exists(ctx, key)
}

func (c *Client) MkdirAll(ctx context.Context, key string) error {
	return c.bucket.WriteAll(ctx, driver.MarkerKey(key), nil, nil)
}

func (c *Client) Rmdir(ctx context.Context, key string) error {
	err := c.bucket.Delete(ctx, driver.MarkerKey(key))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (c *Client) Preview(ctx context.Context, key string, expiry time.Duration) (*storage.Preview, error) {
	url, err := c.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{Expiry: expiry})
	if err != nil {
		if gcerrors.Code(err) != gcerrors.Unimplemented {
			return nil, translate(err)
		}

		// Buckets without URL signing (memblob) fall back to streaming.
		r, rerr := c.bucket.NewReader(ctx, key, nil)
		if rerr != nil {
			return nil, translate(rerr)
		}
		return &storage.Preview{Body: r}, nil
	}
	return &storage.Preview{
		URL:     url,
		Expires: time.Now().Add(expiry),
	}, nil
}

// Ping checks that the bucket exists and the credentials may access it.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.bucket.IsAccessible(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bucket is not accessible")
	}
	return nil
}

func (c *Client) Close() error {
	return c.bucket.Close()
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %v", driver.ErrObjectNotFound, err)
	}
	return err
}
