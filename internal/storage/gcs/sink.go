// Package gcs provides an output sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/backoff"
)

// Config captures the parameters required to upload to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Sink uploads archives to <bucket>/<prefix>/<target>/<filename>.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object key used for a delivery.
func (s *Sink) ObjectName(filename, target string) string {
	return path.Join(s.prefix, target, filename)
}

// Deliver uploads the archive and returns its gs:// URI. Throttling responses
// become *archiver.RateLimitedError and server errors *archiver.TransientError.
func (s *Sink) Deliver(ctx context.Context, artifact archiver.Artifact, filename string, target string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	name := s.ObjectName(filename, target)
	src, err := artifact.Open()
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = src.Close() }()

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/vnd.comicbook+zip"
	writer.Metadata = map[string]string{"sha256": artifact.Checksum()}
	if _, err := io.Copy(writer, src); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", classify(fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr))
		}
		return "", classify(fmt.Errorf("copy object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", classify(fmt.Errorf("close writer: %w", err))
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		if backoff.IsTransient(err) {
			return &archiver.TransientError{Err: err}
		}
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		wait := backoff.DefaultRateLimitWait
		if parsed, ok := backoff.ParseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now()); ok {
			wait = parsed
		}
		return &archiver.RateLimitedError{Wait: wait, Err: err}
	case apiErr.Code >= 500:
		return &archiver.TransientError{Err: err}
	default:
		return err
	}
}
