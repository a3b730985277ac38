package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

const (
	searchPage = `<html><body>
<div class="c-tabs-item__content"><div class="post-title"><a href="/manga/tower/"> Tower of God </a></div></div>
<div class="c-tabs-item__content"><div class="post-title"><span>no link</span></div></div>
</body></html>`
	mangaPage = `<html><body><div class="post-title"><h1> Tower of God </h1></div><ul>
<li class="wp-manga-chapter"><a href="/manga/tower/cap-2/">Capítulo 2</a></li>
<li class="wp-manga-chapter"><a href="/manga/tower/cap-1-5/">Capítulo 1.5</a></li>
<li class="wp-manga-chapter"><a href="/manga/tower/extra/">Extra</a></li>
<li class="wp-manga-chapter"><a href="/manga/tower/cap-1/">Capítulo 1</a></li>
</ul></body></html>`
	chapterPage = `<html><body><div class="reading-content">
<img data-src=" https://cdn.example/1.jpg " src="placeholder.gif">
<img src="/uploads/2.jpg">
<img>
</div></body></html>`
)

func newHTMLServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			assert.Equal(t, "tower", r.URL.Query().Get("s"))
			fmt.Fprint(w, searchPage)
		case "/manga/tower/":
			fmt.Fprint(w, mangaPage)
		case "/manga/tower/cap-1/":
			fmt.Fprint(w, chapterPage)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTMLSource(t *testing.T) {
	t.Parallel()

	srv := newHTMLServer(t)
	src, err := NewHTML(HTMLConfig{Name: "mangaonline", BaseURL: srv.URL, NewestFirst: true}, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	results, err := src.Search(ctx, "tower")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Tower of God", results[0].Title)
	assert.Equal(t, srv.URL+"/manga/tower/", results[0].ID)

	chapters, err := src.ListChapters(ctx, results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []archiver.Chapter{
		{Number: 1, PageSource: srv.URL + "/manga/tower/cap-1/", Title: "Tower of God"},
		{Number: 1.5, PageSource: srv.URL + "/manga/tower/cap-1-5/", Title: "Tower of God"},
		{Number: 2, PageSource: srv.URL + "/manga/tower/cap-2/", Title: "Tower of God"},
	}, chapters)

	pages, err := src.ListPages(ctx, chapters[0].PageSource)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example/1.jpg", srv.URL + "/uploads/2.jpg"}, pages)
}

func TestHTMLSourceMissingPage(t *testing.T) {
	t.Parallel()

	srv := newHTMLServer(t)
	src, err := NewHTML(HTMLConfig{Name: "site", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = src.ListPages(context.Background(), "/missing/")
	require.Error(t, err)
}

func TestNewHTMLValidates(t *testing.T) {
	t.Parallel()

	_, err := NewHTML(HTMLConfig{BaseURL: "https://x"}, nil)
	require.Error(t, err)
	_, err = NewHTML(HTMLConfig{Name: "x", BaseURL: "not a url"}, nil)
	require.Error(t, err)
}
