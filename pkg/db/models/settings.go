package models

import (
	"fmt"
	"sort"
	"strings"

	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/storage/kind"
)

// Settings is the provider specific part of a BackendConfig.
type Settings interface {
	Kind() kind.Kind
	Validate() error
}

// S3Settings configures an Amazon S3 bucket.
type S3Settings struct {
	Endpoint        string `json:"endpoint,omitempty"  mapstructure:"endpoint"`
	Region          string `json:"region"              mapstructure:"region"`
	Bucket          string `json:"bucket"              mapstructure:"bucket"`
	AccessKeyID     string `json:"access_key_id"       mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"   mapstructure:"secret_access_key"`
}

// MinIOSettings configures a self-hosted S3-compatible endpoint.
type MinIOSettings struct {
	Endpoint        string `json:"endpoint"            mapstructure:"endpoint"`
	Region          string `json:"region,omitempty"    mapstructure:"region"`
	Bucket          string `json:"bucket"              mapstructure:"bucket"`
	AccessKeyID     string `json:"access_key_id"       mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"   mapstructure:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"             mapstructure:"use_ssl"`
}

// GCSSettings configures a Google Cloud Storage bucket. CredentialsJSON is
// the content of a service account key file.
type GCSSettings struct {
	Bucket          string `json:"bucket"           mapstructure:"bucket"`
	CredentialsJSON string `json:"credentials_json" mapstructure:"credentials_json"`
}

// AzureSettings configures an Azure Blob Storage container.
type AzureSettings struct {
	AccountName string `json:"account_name"          mapstructure:"account_name"`
	AccountKey  string `json:"account_key"           mapstructure:"account_key"`
	Container   string `json:"container"             mapstructure:"container"`
	ServiceURL  string `json:"service_url,omitempty" mapstructure:"service_url"`
}

// LocalSettings configures a directory on the local disk.
type LocalSettings struct {
	Root string `json:"root" mapstructure:"root"`
}

func (*S3Settings) Kind() kind.Kind    { return kind.AmazonS3 }
func (*MinIOSettings) Kind() kind.Kind { return kind.MinIO }
func (*GCSSettings) Kind() kind.Kind   { return kind.GoogleCloud }
func (*AzureSettings) Kind() kind.Kind { return kind.AzureBlob }
func (*LocalSettings) Kind() kind.Kind { return kind.LocalDisk }

func (s *S3Settings) Validate() error {
	return require(kind.AmazonS3, map[string]string{
		"region":            s.Region,
		"bucket":            s.Bucket,
		"access_key_id":     s.AccessKeyID,
		"secret_access_key": s.SecretAccessKey,
	})
}

func (s *MinIOSettings) Validate() error {
	return require(kind.MinIO, map[string]string{
		"endpoint":          s.Endpoint,
		"bucket":            s.Bucket,
		"access_key_id":     s.AccessKeyID,
		"secret_access_key": s.SecretAccessKey,
	})
}

func (s *GCSSettings) Validate() error {
	return require(kind.GoogleCloud, map[string]string{
		"bucket":           s.Bucket,
		"credentials_json": s.CredentialsJSON,
	})
}

func (s *AzureSettings) Validate() error {
	return require(kind.AzureBlob, map[string]string{
		"account_name": s.AccountName,
		"account_key":  s.AccountKey,
		"container":    s.Container,
	})
}

func (s *LocalSettings) Validate() error {
	return require(kind.LocalDisk, map[string]string{
		"root": s.Root,
	})
}

// NewSettings returns an empty settings variant for k.
func NewSettings(k kind.Kind) (Settings, error) {
	return newSettings(k)
}

func newSettings(k kind.Kind) (Settings, error) {
	switch k {
	case kind.AmazonS3:
		return &S3Settings{}, nil
	case kind.MinIO:
		return &MinIOSettings{}, nil
	case kind.GoogleCloud:
		return &GCSSettings{}, nil
	case kind.AzureBlob:
		return &AzureSettings{}, nil
	case kind.LocalDisk:
		return &LocalSettings{}, nil
	}
	return nil, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "no settings for provider %v", k)
}

func require(k kind.Kind, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return gerrors.Newf(gerrors.CodeInvalidArgument, "%s settings missing required fields: %s",
		k, strings.Join(missing, ", "))
}

// String hides credentials when settings end up in logs.
func (s *S3Settings) String() string {
	return fmt.Sprintf("s3://%s (region=%s)", s.Bucket, s.Region)
}

func (s *MinIOSettings) String() string {
	return fmt.Sprintf("minio://%s/%s", s.Endpoint, s.Bucket)
}

func (s *GCSSettings) String() string {
	return fmt.Sprintf("gs://%s", s.Bucket)
}

func (s *AzureSettings) String() string {
	return fmt.Sprintf("azblob://%s/%s", s.AccountName, s.Container)
}

func (s *LocalSettings) String() string {
	return fmt.Sprintf("file://%s", s.Root)
}
