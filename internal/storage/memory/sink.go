// Package memory provides in-process output sinks and job stores.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// Delivery records one archive handed to the Sink.
type Delivery struct {
	ID       string
	Target   string
	Filename string
	Data     []byte
	Checksum string
}

// Sink keeps delivered archives in memory.
type Sink struct {
	mu         sync.RWMutex
	deliveries []Delivery
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Deliver copies the archive and returns a memory:// delivery ID.
func (s *Sink) Deliver(ctx context.Context, artifact archiver.Artifact, filename string, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("deliver canceled: %w", err)
	}
	rc, err := artifact.Open()
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := "memory://" + path.Join(target, filename)
	s.deliveries = append(s.deliveries, Delivery{
		ID:       id,
		Target:   target,
		Filename: filename,
		Data:     data,
		Checksum: artifact.Checksum(),
	})
	return id, nil
}

// Deliveries returns a copy of everything delivered so far.
func (s *Sink) Deliveries() []Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}
