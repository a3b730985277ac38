package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// MangaFlixConfig configures the MangaFlix API source.
type MangaFlixConfig struct {
	BaseURL   string
	Language  string
	UserAgent string
}

// MangaFlix reads the MangaFlix v1 JSON API.
type MangaFlix struct {
	http httpClient
	cfg  MangaFlixConfig
}

// NewMangaFlix builds the source; client may be nil.
func NewMangaFlix(cfg MangaFlixConfig, client *http.Client) *MangaFlix {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mangaflix.net/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "pt-br"
	}
	return &MangaFlix{http: newHTTPClient(client, cfg.UserAgent), cfg: cfg}
}

// Name implements archiver.ContentSource.
func (m *MangaFlix) Name() string { return "mangaflix" }

// Search implements archiver.ContentSource.
func (m *MangaFlix) Search(ctx context.Context, query string) ([]archiver.SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("selected_language", m.cfg.Language)
	var resp struct {
		Data []struct {
			ID   string `json:"_id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/search/mangas?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("mangaflix search: %w", err)
	}
	out := make([]archiver.SearchResult, 0, len(resp.Data))
	for _, item := range resp.Data {
		out = append(out, archiver.SearchResult{Title: item.Name, ID: item.ID})
	}
	return out, nil
}

// ListChapters implements archiver.ContentSource. Chapter numbers arrive as
// strings or numbers depending on the title.
func (m *MangaFlix) ListChapters(ctx context.Context, mangaID string) ([]archiver.Chapter, error) {
	var resp struct {
		Data struct {
			Name     string `json:"name"`
			Chapters []struct {
				ID     string `json:"_id"`
				Number any    `json:"number"`
			} `json:"chapters"`
		} `json:"data"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/mangas/"+url.PathEscape(mangaID), &resp); err != nil {
		return nil, fmt.Errorf("mangaflix manga: %w", err)
	}
	seen := make(map[float64]struct{}, len(resp.Data.Chapters))
	out := make([]archiver.Chapter, 0, len(resp.Data.Chapters))
	for _, ch := range resp.Data.Chapters {
		n := archiver.ParseChapterNumber(fmt.Sprint(ch.Number))
		if _, dup := seen[n]; dup || ch.ID == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, archiver.Chapter{Number: n, PageSource: ch.ID, Title: resp.Data.Name})
	}
	return out, nil
}

// ListPages implements archiver.ContentSource.
func (m *MangaFlix) ListPages(ctx context.Context, chapterID string) ([]string, error) {
	q := url.Values{}
	q.Set("selected_language", m.cfg.Language)
	var resp struct {
		Data struct {
			Images []struct {
				DefaultURL string `json:"default_url"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/chapters/"+url.PathEscape(chapterID)+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("mangaflix chapter: %w", err)
	}
	pages := make([]string, 0, len(resp.Data.Images))
	for _, img := range resp.Data.Images {
		if img.DefaultURL != "" {
			pages = append(pages, img.DefaultURL)
		}
	}
	return pages, nil
}
