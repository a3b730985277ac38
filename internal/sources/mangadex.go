package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// MangaDexConfig configures the MangaDex API source.
type MangaDexConfig struct {
	BaseURL   string
	Language  string
	UserAgent string
	// DataSaver selects the compressed image set.
	DataSaver bool
	PageSize  int
}

// MangaDex reads titles, chapter feeds and at-home image servers from the MangaDex API.
type MangaDex struct {
	http httpClient
	cfg  MangaDexConfig
}

// NewMangaDex builds the source; client may be nil.
func NewMangaDex(cfg MangaDexConfig, client *http.Client) *MangaDex {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mangadex.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "pt-br"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &MangaDex{http: newHTTPClient(client, cfg.UserAgent), cfg: cfg}
}

// Name implements archiver.ContentSource.
func (m *MangaDex) Name() string { return "mangadex" }

type mangadexManga struct {
	ID         string `json:"id"`
	Attributes struct {
		Title map[string]string `json:"title"`
	} `json:"attributes"`
}

func (m mangadexManga) title(lang string) string {
	t := m.Attributes.Title
	for _, key := range []string{lang, "en", "ja-ro"} {
		if v := t[key]; v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return t[keys[0]]
}

// Search implements archiver.ContentSource.
func (m *MangaDex) Search(ctx context.Context, query string) ([]archiver.SearchResult, error) {
	q := url.Values{}
	q.Set("title", query)
	q.Set("limit", "20")
	var resp struct {
		Data []mangadexManga `json:"data"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/manga?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("mangadex search: %w", err)
	}
	out := make([]archiver.SearchResult, 0, len(resp.Data))
	for _, manga := range resp.Data {
		out = append(out, archiver.SearchResult{Title: manga.title(m.cfg.Language), ID: manga.ID})
	}
	return out, nil
}

type mangadexChapter struct {
	ID         string `json:"id"`
	Attributes struct {
		Title  string  `json:"title"`
		Number *string `json:"chapter"`
		Pages  int     `json:"pages"`
	} `json:"attributes"`
}

// ListChapters walks the title's feed in ascending chapter order. When several
// groups upload the same chapter number the first one wins.
func (m *MangaDex) ListChapters(ctx context.Context, mangaID string) ([]archiver.Chapter, error) {
	var manga struct {
		Data mangadexManga `json:"data"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/manga/"+url.PathEscape(mangaID), &manga); err != nil {
		return nil, fmt.Errorf("mangadex manga: %w", err)
	}
	title := manga.Data.title(m.cfg.Language)

	var (
		chapters []archiver.Chapter
		seen     = make(map[float64]struct{})
	)
	for offset := 0; ; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(m.cfg.PageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("order[chapter]", "asc")
		q.Add("translatedLanguage[]", m.cfg.Language)
		var feed struct {
			Data  []mangadexChapter `json:"data"`
			Total int               `json:"total"`
		}
		feedURL := fmt.Sprintf("%s/manga/%s/feed?%s", m.cfg.BaseURL, url.PathEscape(mangaID), q.Encode())
		if err := m.http.getJSON(ctx, feedURL, &feed); err != nil {
			return nil, fmt.Errorf("mangadex feed: %w", err)
		}
		for _, ch := range feed.Data {
			if ch.Attributes.Number == nil {
				continue
			}
			n, err := strconv.ParseFloat(*ch.Attributes.Number, 64)
			if err != nil {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			chapters = append(chapters, archiver.Chapter{Number: n, PageSource: ch.ID, Title: title})
		}
		offset += len(feed.Data)
		if len(feed.Data) == 0 || offset >= feed.Total {
			break
		}
	}
	return chapters, nil
}

// ListPages resolves image URLs through the at-home server for one chapter ID.
func (m *MangaDex) ListPages(ctx context.Context, chapterID string) ([]string, error) {
	var server struct {
		BaseURL string `json:"baseUrl"`
		Chapter struct {
			Hash      string   `json:"hash"`
			Data      []string `json:"data"`
			DataSaver []string `json:"dataSaver"`
		} `json:"chapter"`
	}
	if err := m.http.getJSON(ctx, m.cfg.BaseURL+"/at-home/server/"+url.PathEscape(chapterID), &server); err != nil {
		return nil, fmt.Errorf("mangadex at-home: %w", err)
	}
	files, quality := server.Chapter.Data, "data"
	if m.cfg.DataSaver {
		files, quality = server.Chapter.DataSaver, "data-saver"
	}
	pages := make([]string, 0, len(files))
	for _, f := range files {
		pages = append(pages, fmt.Sprintf("%s/%s/%s/%s", server.BaseURL, quality, server.Chapter.Hash, f))
	}
	return pages, nil
}
