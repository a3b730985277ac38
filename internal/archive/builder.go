package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/hash/sha256"
)

// Backing selects where archive bytes are accumulated.
type Backing string

// Supported backings.
const (
	BackingMemory Backing = "memory"
	BackingDisk   Backing = "disk"
	BackingAuto   Backing = "auto"
)

// ParseBacking converts a config string into a Backing.
func ParseBacking(s string) (Backing, error) {
	switch Backing(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackingAuto:
		return BackingAuto, nil
	case BackingMemory:
		return BackingMemory, nil
	case BackingDisk:
		return BackingDisk, nil
	default:
		return "", fmt.Errorf("unknown archive backing %q", s)
	}
}

// Config controls archive construction.
type Config struct {
	Backing           Backing
	SpoolDir          string
	MemoryMaxChapters int
}

// Builder opens archive handles.
type Builder struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backing == "" {
		cfg.Backing = BackingAuto
	}
	return &Builder{cfg: cfg, logger: logger.Named("archive"), now: time.Now}
}

// BackingFor resolves the configured backing for a job with the given chapter count.
func (b *Builder) BackingFor(chapters int) Backing {
	switch b.cfg.Backing {
	case BackingMemory, BackingDisk:
		return b.cfg.Backing
	}
	if b.cfg.MemoryMaxChapters > 0 && chapters > b.cfg.MemoryMaxChapters {
		return BackingDisk
	}
	return BackingMemory
}

// Open starts a new archive.
func (b *Builder) Open(name string, backing Backing) (*Handle, error) {
	h := &Handle{
		name:    name,
		backing: backing,
		digest:  sha256.NewDigest(),
		paths:   make(map[string]struct{}),
		modTime: b.now(),
		logger:  b.logger.With(zap.String("archive", name)),
	}
	var dst io.Writer
	switch backing {
	case BackingMemory:
		h.buf = &bytes.Buffer{}
		dst = h.buf
	case BackingDisk:
		f, err := os.CreateTemp(b.cfg.SpoolDir, "archive-*.cbz")
		if err != nil {
			return nil, fmt.Errorf("create spool file: %w", err)
		}
		h.file = f
		dst = f
	default:
		return nil, fmt.Errorf("unsupported archive backing %q", backing)
	}
	h.counter = &countingWriter{}
	h.zw = zip.NewWriter(io.MultiWriter(dst, h.digest, h.counter))
	return h, nil
}

// Handle is an open archive. It is not safe for concurrent use.
type Handle struct {
	name    string
	backing Backing
	buf     *bytes.Buffer
	file    *os.File
	digest  *sha256.Digest
	counter *countingWriter
	zw      *zip.Writer
	paths   map[string]struct{}
	entries int
	modTime time.Time
	done    bool
	logger  *zap.Logger
}

// ErrDuplicateEntry is returned when a path is written twice.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// ErrHandleClosed is returned when writing to a closed or discarded handle.
var ErrHandleClosed = errors.New("archive handle closed")

// Write compresses data into a new entry at path.
func (h *Handle) Write(path string, data []byte) error {
	if h.done {
		return ErrHandleClosed
	}
	if _, dup := h.paths[path]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, path)
	}
	w, err := h.zw.CreateHeader(&zip.FileHeader{
		Name:     path,
		Method:   zip.Deflate,
		Modified: h.modTime,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", path, err)
	}
	h.paths[path] = struct{}{}
	h.entries++
	return nil
}

// Entries returns the number of entries written so far.
func (h *Handle) Entries() int {
	return h.entries
}

// Backing reports where the archive bytes are held.
func (h *Handle) Backing() Backing {
	return h.backing
}

// Close finalizes the zip directory and returns the finished archive.
// On error the partial artifact is removed.
func (h *Handle) Close() (*Archive, error) {
	if h.done {
		return nil, ErrHandleClosed
	}
	h.done = true
	if err := h.zw.Close(); err != nil {
		_ = h.cleanup()
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	a := &Archive{
		name:     h.name,
		backing:  h.backing,
		size:     h.counter.n,
		entries:  h.entries,
		checksum: h.digest.Hex(),
	}
	switch h.backing {
	case BackingMemory:
		a.data = h.buf.Bytes()
		h.buf = nil
	case BackingDisk:
		a.path = h.file.Name()
		if err := h.file.Close(); err != nil {
			_ = h.cleanup()
			return nil, fmt.Errorf("close spool file: %w", err)
		}
		h.file = nil
	}
	h.logger.Debug("archive finalized",
		zap.Int("entries", a.entries),
		zap.Int64("bytes", a.size),
		zap.String("backing", string(a.backing)),
	)
	return a, nil
}

// Discard abandons the archive and removes any spooled file. It is safe to call
// more than once and is a no-op after a successful Close.
func (h *Handle) Discard() error {
	h.done = true
	return h.cleanup()
}

func (h *Handle) cleanup() error {
	h.buf = nil
	if h.file == nil {
		return nil
	}
	name := h.file.Name()
	_ = h.file.Close()
	h.file = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spool file: %w", err)
	}
	return nil
}

// Archive is a finalized archive ready for delivery.
type Archive struct {
	name     string
	backing  Backing
	size     int64
	entries  int
	checksum string
	data     []byte
	path     string
}

// Name returns the archive name given to Open.
func (a *Archive) Name() string { return a.name }

// Size returns the archive length in bytes.
func (a *Archive) Size() int64 { return a.size }

// Entries returns the number of entries in the archive.
func (a *Archive) Entries() int { return a.entries }

// Checksum returns the hex SHA-256 of the archive bytes.
func (a *Archive) Checksum() string { return a.checksum }

// Path returns the spool file path for disk-backed archives, or "".
func (a *Archive) Path() string { return a.path }

// Backing reports where the archive bytes are held.
func (a *Archive) Backing() Backing { return a.backing }

// Open returns a reader over the archive bytes. Each call starts from the beginning.
func (a *Archive) Open() (io.ReadCloser, error) {
	if a.path != "" {
		f, err := os.Open(a.path)
		if err != nil {
			return nil, fmt.Errorf("open spool file: %w", err)
		}
		return f, nil
	}
	if a.data == nil {
		return nil, errors.New("archive released")
	}
	return io.NopCloser(bytes.NewReader(a.data)), nil
}

// Bytes reads the full archive into memory.
func (a *Archive) Bytes() ([]byte, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return data, nil
}

// Release frees the archive bytes and deletes the spool file, if any.
func (a *Archive) Release() error {
	a.data = nil
	if a.path == "" {
		return nil
	}
	path := a.path
	a.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spool file: %w", err)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
