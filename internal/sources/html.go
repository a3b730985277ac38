package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// HTMLConfig describes a scraped site. Selector defaults match Madara
// WordPress themes; the manga ID is the title's page URL.
type HTMLConfig struct {
	Name    string
	BaseURL string
	// SearchPath is appended to BaseURL; %s receives the escaped query.
	SearchPath    string
	SearchItem    string
	SearchLink    string
	TitleSelector string
	ChapterLink   string
	PageImage     string
	UserAgent     string
	// NewestFirst reverses the chapter list so the result ascends.
	NewestFirst bool
}

// HTML scrapes search results, chapter lists and page images with goquery.
type HTML struct {
	http httpClient
	cfg  HTMLConfig
	base *url.URL
}

// NewHTML validates cfg and builds the source; client may be nil.
func NewHTML(cfg HTMLConfig, client *http.Client) (*HTML, error) {
	if cfg.Name == "" {
		return nil, errors.New("html source name is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("html source %s: invalid base url %q", cfg.Name, cfg.BaseURL)
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/?s=%s&post_type=wp-manga"
	}
	if cfg.SearchItem == "" {
		cfg.SearchItem = ".c-tabs-item__content"
	}
	if cfg.SearchLink == "" {
		cfg.SearchLink = ".post-title a"
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = ".post-title h1"
	}
	if cfg.ChapterLink == "" {
		cfg.ChapterLink = ".wp-manga-chapter a"
	}
	if cfg.PageImage == "" {
		cfg.PageImage = ".reading-content img"
	}
	return &HTML{http: newHTTPClient(client, cfg.UserAgent), cfg: cfg, base: base}, nil
}

// Name implements archiver.ContentSource.
func (h *HTML) Name() string { return h.cfg.Name }

func (h *HTML) document(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	pageURL, err := h.base.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", rawURL, err)
	}
	body, err := h.http.get(ctx, pageURL.String(), "text/html")
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, pageURL, nil
}

// Search implements archiver.ContentSource.
func (h *HTML) Search(ctx context.Context, query string) ([]archiver.SearchResult, error) {
	searchURL := strings.TrimRight(h.cfg.BaseURL, "/") + fmt.Sprintf(h.cfg.SearchPath, url.QueryEscape(query))
	doc, pageURL, err := h.document(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", h.cfg.Name, err)
	}
	var out []archiver.SearchResult
	doc.Find(h.cfg.SearchItem).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(h.cfg.SearchLink).First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		out = append(out, archiver.SearchResult{
			Title: strings.TrimSpace(link.Text()),
			ID:    resolve(pageURL, href),
		})
	})
	return out, nil
}

// ListChapters implements archiver.ContentSource. Chapter numbers come from
// the link text; links without a number are skipped.
func (h *HTML) ListChapters(ctx context.Context, mangaURL string) ([]archiver.Chapter, error) {
	doc, pageURL, err := h.document(ctx, mangaURL)
	if err != nil {
		return nil, fmt.Errorf("%s chapters: %w", h.cfg.Name, err)
	}
	title := strings.TrimSpace(doc.Find(h.cfg.TitleSelector).First().Text())
	var chapters []archiver.Chapter
	seen := make(map[float64]struct{})
	doc.Find(h.cfg.ChapterLink).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		text := strings.TrimSpace(link.Text())
		if !strings.ContainsAny(text, "0123456789") {
			return
		}
		n := archiver.ParseChapterNumber(text)
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		chapters = append(chapters, archiver.Chapter{Number: n, PageSource: resolve(pageURL, href), Title: title})
	})
	if h.cfg.NewestFirst {
		for i, j := 0, len(chapters)-1; i < j; i, j = i+1, j-1 {
			chapters[i], chapters[j] = chapters[j], chapters[i]
		}
	}
	return chapters, nil
}

// ListPages implements archiver.ContentSource. Lazy-loaded images carry the
// real URL in data-src.
func (h *HTML) ListPages(ctx context.Context, chapterURL string) ([]string, error) {
	doc, pageURL, err := h.document(ctx, chapterURL)
	if err != nil {
		return nil, fmt.Errorf("%s pages: %w", h.cfg.Name, err)
	}
	var pages []string
	doc.Find(h.cfg.PageImage).Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("data-src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("src", ""))
		}
		if src != "" {
			pages = append(pages, resolve(pageURL, src))
		}
	})
	return pages, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
