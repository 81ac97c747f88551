package gcsuploader

import (
	"context"
)

// StorageService archives uploaded spreadsheets and fetches them back for
// CLI ingestion.
type StorageService interface {
	// UploadBytes stores data under bucket/object.
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error

	// FetchFromGCS downloads the bytes behind a gs:// URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

var _ StorageService = (*GCSStorageService)(nil)
