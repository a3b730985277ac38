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

func newMangaFlixServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/mangas":
			assert.Equal(t, "pt-br", r.URL.Query().Get("selected_language"))
			fmt.Fprint(w, `{"data":[{"_id":"abc","name":"Solo Leveling"}]}`)
		case "/mangas/abc":
			fmt.Fprint(w, `{"data":{"name":"Solo Leveling","chapters":[
				{"_id":"c1","number":"1"},{"_id":"c2","number":2.5},{"_id":"c2b","number":"2.5"}]}}`)
		case "/chapters/c1":
			assert.Equal(t, "pt-br", r.URL.Query().Get("selected_language"))
			fmt.Fprint(w, `{"data":{"images":[{"default_url":"https://cdn/1.webp"},{"default_url":""},{"default_url":"https://cdn/2.webp"}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMangaFlixSource(t *testing.T) {
	t.Parallel()

	srv := newMangaFlixServer(t)
	src := NewMangaFlix(MangaFlixConfig{BaseURL: srv.URL}, srv.Client())
	ctx := context.Background()

	results, err := src.Search(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, []archiver.SearchResult{{Title: "Solo Leveling", ID: "abc"}}, results)

	chapters, err := src.ListChapters(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []archiver.Chapter{
		{Number: 1, PageSource: "c1", Title: "Solo Leveling"},
		{Number: 2.5, PageSource: "c2", Title: "Solo Leveling"},
	}, chapters)

	pages, err := src.ListPages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/1.webp", "https://cdn/2.webp"}, pages)
}

func TestMangaFlixServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewMangaFlix(MangaFlixConfig{BaseURL: srv.URL}, srv.Client()).ListPages(context.Background(), "c1")
	var transient *archiver.TransientError
	require.ErrorAs(t, err, &transient)
}
