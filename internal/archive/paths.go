package archive

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// DefaultExtension is used when neither content type nor URL identify the image format.
const DefaultExtension = "jpg"

// EntryPath names a page entry. Multi-chapter archives group pages under
// "Cap_<n>/"; single-chapter archives are flat. index is 1-based and is
// zero padded to pad digits when pad > 0.
func EntryPath(chapter float64, index int, ext string, single bool, pad int) string {
	var name string
	if pad > 0 {
		name = fmt.Sprintf("%0*d.%s", pad, index, ext)
	} else {
		name = fmt.Sprintf("%d.%s", index, ext)
	}
	if single {
		return name
	}
	return "Cap_" + archiver.FormatChapterNumber(chapter) + "/" + name
}

var contentTypeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/avif": "avif",
}

var knownExt = map[string]string{
	"jpg":  "jpg",
	"jpeg": "jpg",
	"png":  "png",
	"webp": "webp",
	"gif":  "gif",
	"avif": "avif",
}

// ExtensionFor picks a file extension from the response content type, then the URL path,
// then fallback (DefaultExtension when empty).
func ExtensionFor(contentType, rawURL, fallback string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := contentTypeExt[ct]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if known, ok := knownExt[ext]; ok {
			return known
		}
	}
	if fallback == "" {
		return DefaultExtension
	}
	return fallback
}

// FileName builds the delivered file name "<base>.<ext>" with characters that
// are unsafe in file names replaced by underscores.
func FileName(base, ext string) string {
	if ext == "" {
		ext = "cbz"
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, base)
	clean = strings.Trim(strings.TrimSpace(clean), ".")
	if clean == "" {
		clean = "archive"
	}
	return clean + "." + ext
}
