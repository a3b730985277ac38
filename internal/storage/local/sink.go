// Package local implements an output sink that writes archives to the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// Config captures the parameters for the local sink.
type Config struct {
	// BaseDir is the root directory archives are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink writes archives to <BaseDir>/<target>/<filename>.
type Sink struct {
	baseDir string
}

// New creates the sink, creating BaseDir when missing and verifying it is writable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &Sink{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Deliver streams the archive into place and returns a file:// URI. The file
// is written under a temporary name and renamed so readers never see a partial archive.
func (s *Sink) Deliver(ctx context.Context, artifact archiver.Artifact, filename string, target string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("deliver canceled: %w", err)
	}

	fullPath := filepath.Join(s.baseDir, target, filename)
	if !strings.HasPrefix(filepath.Clean(fullPath), s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	src, err := artifact.Open()
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename archive: %w", err)
	}
	return "file://" + fullPath, nil
}
