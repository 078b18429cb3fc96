// Package kind enumerates the storage providers a backend configuration can
// target.
package kind

import (
	"fmt"
	"strings"

	gerrors "github.com/mwantia/gostore/pkg/errors"
)

// Kind identifies a storage provider. The integer value is the stable code
// persisted in the metadata store.
type Kind int

const (
	AmazonS3    Kind = 1
	GoogleCloud Kind = 2
	AzureBlob   Kind = 3
	MinIO       Kind = 4
	LocalDisk   Kind = 5
)

var keys = map[Kind]string{
	AmazonS3:    "s3",
	GoogleCloud: "gcs",
	AzureBlob:   "azure",
	MinIO:       "minio",
	LocalDisk:   "local",
}

var names = map[Kind]string{
	AmazonS3:    "Amazon S3",
	GoogleCloud: "Google Cloud Storage",
	AzureBlob:   "Azure Blob Storage",
	MinIO:       "MinIO",
	LocalDisk:   "Local Disk",
}

// All returns every known kind ordered by code.
func All() []Kind {
	return []Kind{AmazonS3, GoogleCloud, AzureBlob, MinIO, LocalDisk}
}

// Code returns the stable integer code.
func (k Kind) Code() int {
	return int(k)
}

// Key returns the stable string key, e.g. "s3".
func (k Kind) Key() string {
	if key, ok := keys[k]; ok {
		return key
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// DisplayName returns a human readable provider name.
func (k Kind) DisplayName() string {
	if name, ok := names[k]; ok {
		return name
	}
	return k.Key()
}

func (k Kind) String() string {
	return k.Key()
}

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool {
	_, ok := keys[k]
	return ok
}

// Remote reports whether objects of this kind live outside the local host.
func (k Kind) Remote() bool {
	return k != LocalDisk
}

// FromCode resolves a persisted code.
func FromCode(code int) (Kind, error) {
	k := Kind(code)
	if !k.Valid() {
		return 0, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "unknown provider code %d", code)
	}
	return k, nil
}

// MustFromCode is like FromCode but panics on unknown codes.
func MustFromCode(code int) Kind {
	k, err := FromCode(code)
	if err != nil {
		panic(err)
	}
	return k
}

// FromKey resolves a string key (case-insensitive).
func FromKey(key string) (Kind, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for k, v := range keys {
		if v == key {
			return k, nil
		}
	}
	return 0, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "unknown provider key %q", key)
}
