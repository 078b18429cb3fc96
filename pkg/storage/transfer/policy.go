// Package transfer decides how bytes move between gostore and a backend.
package transfer

import (
	"fmt"

	"github.com/mwantia/gostore/pkg/storage/kind"
)

// Strategy is the transfer mode for one object.
type Strategy int

const (
	// Direct moves the object in a single request.
	Direct Strategy = iota
	// Chunked moves the object in parts of PartSize bytes.
	Chunked
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Chunked:
		return "chunked"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
)

// Thresholds at or above which a provider switches to chunked transfers.
// These track the single-request limits each backend handles reliably.
const (
	ThresholdAmazonS3    = 50 * MiB
	ThresholdGoogleCloud = 32 * MiB
	ThresholdAzureBlob   = 64 * MiB
	ThresholdMinIO       = 64 * MiB
	ThresholdLocalDisk   = 50 * MiB
)

// Part sizes for chunked transfers. S3 rejects parts below 5 MiB except the last.
const (
	PartSizeAmazonS3    = 8 * MiB
	PartSizeGoogleCloud = 16 * MiB
	PartSizeAzureBlob   = 8 * MiB
	PartSizeMinIO       = 8 * MiB
	PartSizeLocalDisk   = 4 * MiB
)

// Threshold returns the chunked-transfer threshold in bytes for k.
func Threshold(k kind.Kind) int64 {
	switch k {
	case kind.AmazonS3:
		return ThresholdAmazonS3
	case kind.GoogleCloud:
		return ThresholdGoogleCloud
	case kind.AzureBlob:
		return ThresholdAzureBlob
	case kind.MinIO:
		return ThresholdMinIO
	case kind.LocalDisk:
		return ThresholdLocalDisk
	}
	panic(fmt.Sprintf("transfer: no threshold for provider %v", k))
}

// PartSize returns the chunk size used by chunked transfers for k.
func PartSize(k kind.Kind) int64 {
	switch k {
	case kind.AmazonS3:
		return PartSizeAmazonS3
	case kind.GoogleCloud:
		return PartSizeGoogleCloud
	case kind.AzureBlob:
		return PartSizeAzureBlob
	case kind.MinIO:
		return PartSizeMinIO
	case kind.LocalDisk:
		return PartSizeLocalDisk
	}
	panic(fmt.Sprintf("transfer: no part size for provider %v", k))
}

// Choose returns Chunked when size reaches the provider threshold.
func Choose(k kind.Kind, size int64) Strategy {
	if size >= Threshold(k) {
		return Chunked
	}
	return Direct
}
