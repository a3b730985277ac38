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

func TestMangaDexSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/manga", r.URL.Path)
		assert.Equal(t, "one piece", r.URL.Query().Get("title"))
		fmt.Fprint(w, `{"data":[{"id":"m1","attributes":{"title":{"en":"One Piece"}}},{"id":"m2","attributes":{"title":{"ko":"X"}}}]}`)
	}))
	defer srv.Close()

	src := NewMangaDex(MangaDexConfig{BaseURL: srv.URL}, srv.Client())
	results, err := src.Search(context.Background(), "one piece")
	require.NoError(t, err)
	assert.Equal(t, []archiver.SearchResult{{Title: "One Piece", ID: "m1"}, {Title: "X", ID: "m2"}}, results)
}

func TestMangaDexListChaptersPagesAndDedups(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manga/m1":
			fmt.Fprint(w, `{"data":{"id":"m1","attributes":{"title":{"pt-br":"Titulo"}}}}`)
		case "/manga/m1/feed":
			assert.Equal(t, "pt-br", r.URL.Query().Get("translatedLanguage[]"))
			if r.URL.Query().Get("offset") == "0" {
				fmt.Fprint(w, `{"total":4,"data":[
					{"id":"c1","attributes":{"chapter":"1"}},
					{"id":"c1b","attributes":{"chapter":"1"}}]}`)
				return
			}
			fmt.Fprint(w, `{"total":4,"data":[
				{"id":"c2","attributes":{"chapter":"10.5"}},
				{"id":"oneshot","attributes":{"chapter":null}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewMangaDex(MangaDexConfig{BaseURL: srv.URL, PageSize: 2}, srv.Client())
	chapters, err := src.ListChapters(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []archiver.Chapter{
		{Number: 1, PageSource: "c1", Title: "Titulo"},
		{Number: 10.5, PageSource: "c2", Title: "Titulo"},
	}, chapters)
}

func TestMangaDexListPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/at-home/server/c1", r.URL.Path)
		fmt.Fprint(w, `{"baseUrl":"https://img.example","chapter":{"hash":"h","data":["a.png","b.png"],"dataSaver":["a.jpg"]}}`)
	}))
	defer srv.Close()

	src := NewMangaDex(MangaDexConfig{BaseURL: srv.URL}, srv.Client())
	pages, err := src.ListPages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.example/data/h/a.png", "https://img.example/data/h/b.png"}, pages)

	saver := NewMangaDex(MangaDexConfig{BaseURL: srv.URL, DataSaver: true}, srv.Client())
	pages, err = saver.ListPages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.example/data-saver/h/a.jpg"}, pages)
}

func TestMangaDexRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewMangaDex(MangaDexConfig{BaseURL: srv.URL}, srv.Client()).Search(context.Background(), "x")
	var limited *archiver.RateLimitedError
	require.ErrorAs(t, err, &limited)
}
