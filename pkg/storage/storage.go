// Package storage provides the report artifact blob store. Two backends
// exist: a local filesystem directory and an S3-compatible object store.
// The backend is selected once at startup.
package storage

import (
	"context"
	"io"
	"os"
	"strings"
)

// Backend is the capability surface the report layer and the uploader need.
// Get returns (nil, nil) when the key does not exist.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutFile(ctx context.Context, key, localPath, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// ContentTypeFor maps an artifact filename to its upload content type.
func ContentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".jsonl"):
		return "application/jsonl"
	case strings.HasSuffix(name, ".html"):
		return "text/html"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	}
	return "application/octet-stream"
}

// FromEnv builds the backend selected by STORAGE_BACKEND: "minio" (or
// "object") uses MINIO_* credentials, anything else uses a local directory.
func FromEnv(ctx context.Context, reportsDir string) (Backend, error) {
	backend := strings.ToLower(os.Getenv("STORAGE_BACKEND"))
	switch backend {
	case "minio", "object", "s3":
		return NewMinioBackendFromEnv(ctx)
	}
	return NewLocalBackend(reportsDir)
}
