package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// ErrListChapters marks a failure to read a title's chapter list from its source.
var ErrListChapters = errors.New("list chapters")

// SourceLookup resolves a content source by name. *sources.Registry satisfies it.
type SourceLookup interface {
	Get(name string) (archiver.ContentSource, error)
}

// Request is a front-end job request before chapters are resolved.
type Request struct {
	OwnerID      string             `json:"owner_id"`
	OutputTarget string             `json:"output_target"`
	Source       string             `json:"source"`
	MangaID      string             `json:"manga_id"`
	Selection    archiver.Selection `json:"selection"`
	// ArchiveName overrides the name derived from the title and selection.
	ArchiveName string `json:"archive_name,omitempty"`
}

// ResolveJob lists the title's chapters, applies the selection and names the
// archive. An empty selection mode selects every chapter.
func ResolveJob(ctx context.Context, lookup SourceLookup, req Request) (archiver.Job, error) {
	if strings.TrimSpace(req.MangaID) == "" {
		return archiver.Job{}, fmt.Errorf("%w: manga id is required", archiver.ErrInvalidJob)
	}
	src, err := lookup.Get(req.Source)
	if err != nil {
		return archiver.Job{}, err
	}
	listed, err := src.ListChapters(ctx, req.MangaID)
	if err != nil {
		return archiver.Job{}, fmt.Errorf("%w: %w", ErrListChapters, err)
	}
	sel := req.Selection
	if sel.Mode == "" {
		sel.Mode = archiver.SelectAll
	}
	chapters, err := archiver.SelectChapters(listed, sel)
	if err != nil {
		return archiver.Job{}, err
	}
	name := strings.TrimSpace(req.ArchiveName)
	if name == "" {
		name = archiver.DefaultArchiveName(chapters[0].Title, sel)
	}
	return archiver.Job{
		OwnerID:      req.OwnerID,
		OutputTarget: req.OutputTarget,
		SourceName:   src.Name(),
		Source:       src,
		Chapters:     chapters,
		ArchiveName:  name,
	}, nil
}
