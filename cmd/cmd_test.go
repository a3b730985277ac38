package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

func TestParseSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    archiver.Selection
		wantErr string
	}{
		{name: "all", args: []string{"--all"}, want: archiver.Selection{Mode: archiver.SelectAll}},
		{name: "single", args: []string{"--chapter", "10.5"}, want: archiver.Selection{Mode: archiver.SelectSingle, From: 10.5}},
		{name: "range", args: []string{"--from", "1", "--to", "3"}, want: archiver.Selection{Mode: archiver.SelectRange, From: 1, To: 3}},
		{name: "open range", args: []string{"--from", "4"}, want: archiver.Selection{Mode: archiver.SelectRange, From: 4, To: 4}},
		{name: "none", wantErr: "one of --all"},
		{name: "conflict", args: []string{"--all", "--chapter", "2"}, wantErr: "mutually exclusive"},
		{name: "to without from", args: []string{"--to", "2"}, wantErr: "--to requires --from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := newDownloadCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			opts := downloadOptions{}
			opts.all, _ = cmd.Flags().GetBool("all")
			opts.chapter, _ = cmd.Flags().GetFloat64("chapter")
			opts.from, _ = cmd.Flags().GetFloat64("from")
			opts.to, _ = cmd.Flags().GetFloat64("to")

			got, err := parseSelection(cmd.Flags(), opts)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchAndChaptersCommands(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<div class="c-tabs-item__content"><div class="post-title">`+
				`<a href="/manga/solo/">Solo Leveling</a></div></div>`)
		case "/manga/solo/":
			fmt.Fprint(w, `<div class="post-title"><h1>Solo Leveling</h1></div>`+
				`<li class="wp-manga-chapter"><a href="/manga/solo/cap-7/">Capítulo 7</a></li>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.Close)
	cfgPath := writeConfig(t, site.URL)

	out, err := runCLI(t, "--config", cfgPath, "search", "solo", "leveling")
	require.NoError(t, err)
	assert.Contains(t, out, "comics")
	assert.Contains(t, out, site.URL+"/manga/solo/")
	assert.Contains(t, out, "Solo Leveling")

	out, err = runCLI(t, "--config", cfgPath, "chapters", "--source", "comics", "--manga", site.URL+"/manga/solo/")
	require.NoError(t, err)
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "/manga/solo/cap-7/")

	_, err = runCLI(t, "--config", cfgPath, "search", "--source", "missing", "solo")
	require.ErrorContains(t, err, "unknown source")
}

func TestRootRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "search", "x")
	require.ErrorContains(t, err, "load config")
}

func TestResolveEnvWithoutPreRun(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	_, err := resolveEnv(cmd.Context())
	require.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, siteURL string) string {
	t.Helper()
	body := fmt.Sprintf(`logging:
  development: false
  level: error
sources:
  mangadex:
    enabled: false
  mangaflix:
    enabled: false
  html:
    - name: comics
      base_url: %s
`, siteURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
