package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// ErrUnknownSource is returned when a name matches no registered source.
var ErrUnknownSource = errors.New("unknown source")

// ErrNoResults is returned by SearchAll when no source found the query.
var ErrNoResults = errors.New("no results")

// Registry holds sources in lookup order.
type Registry struct {
	sources []archiver.ContentSource
	logger  *zap.Logger
}

// NewRegistry builds a registry. Later sources with a duplicate name are rejected.
func NewRegistry(logger *zap.Logger, sources ...archiver.ContentSource) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		key := strings.ToLower(src.Name())
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name())
		}
		seen[key] = struct{}{}
	}
	return &Registry{sources: sources, logger: logger.Named("sources")}, nil
}

// Get looks up a source by case-insensitive name.
func (r *Registry) Get(name string) (archiver.ContentSource, error) {
	for _, src := range r.sources {
		if strings.EqualFold(src.Name(), name) {
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// Names lists registered source names in lookup order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for _, src := range r.sources {
		names = append(names, src.Name())
	}
	return names
}

// SearchAll queries sources in order and returns the first one with results.
// Failing sources are logged and skipped.
func (r *Registry) SearchAll(ctx context.Context, query string) (archiver.ContentSource, []archiver.SearchResult, error) {
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("search canceled: %w", err)
		}
		results, err := src.Search(ctx, query)
		if err != nil {
			r.logger.Warn("source search failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if len(results) > 0 {
			return src, results, nil
		}
	}
	return nil, nil, fmt.Errorf("%w for %q", ErrNoResults, query)
}
