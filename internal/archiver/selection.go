package archiver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SelectionMode picks which chapters of a title a job covers.
type SelectionMode string

// Supported selection modes.
const (
	SelectSingle SelectionMode = "single"
	SelectRange  SelectionMode = "range"
	SelectAll    SelectionMode = "all"
)

// Selection describes a chapter subset chosen by a front end.
// From is used for single selections; From and To bound a range inclusively.
type Selection struct {
	Mode SelectionMode `json:"mode"`
	From float64       `json:"from"`
	To   float64       `json:"to"`
}

// ChapterOrder controls the order chapters are written into an archive.
type ChapterOrder string

// Supported chapter orders.
const (
	OrderAsGiven    ChapterOrder = "as_given"
	OrderAscending  ChapterOrder = "asc"
	OrderDescending ChapterOrder = "desc"
)

// ParseChapterOrder converts a config string into a ChapterOrder.
func ParseChapterOrder(s string) (ChapterOrder, error) {
	switch ChapterOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderAsGiven:
		return OrderAsGiven, nil
	case OrderAscending:
		return OrderAscending, nil
	case OrderDescending:
		return OrderDescending, nil
	default:
		return "", fmt.Errorf("unknown chapter order %q", s)
	}
}

// OrderChapters returns a copy of chapters arranged according to order.
func OrderChapters(chapters []Chapter, order ChapterOrder) []Chapter {
	out := make([]Chapter, len(chapters))
	copy(out, chapters)
	switch order {
	case OrderAscending:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	case OrderDescending:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	}
	return out
}

// SelectChapters filters the chapters listed by a source down to the selection.
// The returned chapters keep the listing order.
func SelectChapters(chapters []Chapter, sel Selection) ([]Chapter, error) {
	var out []Chapter
	switch sel.Mode {
	case SelectAll:
		out = append(out, chapters...)
	case SelectSingle:
		for _, ch := range chapters {
			if ch.Number == sel.From {
				out = append(out, ch)
				break
			}
		}
	case SelectRange:
		lo, hi := sel.From, sel.To
		if lo > hi {
			lo, hi = hi, lo
		}
		for _, ch := range chapters {
			if ch.Number >= lo && ch.Number <= hi {
				out = append(out, ch)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown selection mode %q", ErrInvalidJob, sel.Mode)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no chapters match selection", ErrInvalidJob)
	}
	return out, nil
}

// DefaultArchiveName derives "<Title>_Cap_<n>", "<Title>_Cap_<a>-<b>" or "<Title>_Completo".
func DefaultArchiveName(title string, sel Selection) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "archive"
	}
	switch sel.Mode {
	case SelectSingle:
		return title + "_Cap_" + FormatChapterNumber(sel.From)
	case SelectRange:
		lo, hi := sel.From, sel.To
		if lo > hi {
			lo, hi = hi, lo
		}
		return title + "_Cap_" + FormatChapterNumber(lo) + "-" + FormatChapterNumber(hi)
	default:
		return title + "_Completo"
	}
}

var chapterNumberRe = regexp.MustCompile(`\d+(\.\d+)?`)

// ParseChapterNumber extracts the first decimal number from a label such as "Capítulo 10.5".
// Labels without digits yield 0.
func ParseChapterNumber(text string) float64 {
	m := chapterNumberRe.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return n
}

// FormatChapterNumber prints a chapter number without trailing zeros.
func FormatChapterNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
