package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Cap_1/1.jpg", EntryPath(1, 1, "jpg", false, 0))
	assert.Equal(t, "Cap_10.5/12.png", EntryPath(10.5, 12, "png", false, 0))
	assert.Equal(t, "3.jpg", EntryPath(1, 3, "jpg", true, 0))
	assert.Equal(t, "Cap_2/007.webp", EntryPath(2, 7, "webp", false, 3))
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "png", ExtensionFor("image/png", "https://cdn/x.jpg", ""))
	assert.Equal(t, "jpg", ExtensionFor("image/jpeg; charset=binary", "", ""))
	assert.Equal(t, "webp", ExtensionFor("application/octet-stream", "https://cdn/a/b.WEBP?x=1", ""))
	assert.Equal(t, "jpg", ExtensionFor("", "https://cdn/a/b", ""))
	assert.Equal(t, "png", ExtensionFor("", "https://cdn/a/b.bin", "png"))
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Berserk_Cap_3.cbz", FileName("Berserk_Cap_3", "cbz"))
	assert.Equal(t, "Fate_Zero_ Vol 1_Completo.cbz", FileName("Fate/Zero: Vol 1_Completo", ""))
	assert.Equal(t, "archive.zip", FileName(" .. ", "zip"))
}
