package download

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxMatchDistance is the largest Levenshtein rank still accepted as
// the same title. Loose enough to absorb subtitle noise, tight enough
// to reject different books.
const maxMatchDistance = 20

// normalizeTitle lowercases and strips punctuation so catalog titles
// like "Économie-Politique" and requests like "economie politique"
// compare cleanly.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// matchesTitle reports whether a catalog title satisfies a requested
// one: exact after normalization, a containment either way, or a close
// fuzzy rank.
func matchesTitle(requested, title string) bool {
	reqNorm := normalizeTitle(requested)
	titleNorm := normalizeTitle(title)
	if reqNorm == "" || titleNorm == "" {
		return false
	}
	if reqNorm == titleNorm {
		return true
	}
	if strings.Contains(titleNorm, reqNorm) || strings.Contains(reqNorm, titleNorm) {
		return true
	}

	rank := fuzzy.RankMatchNormalizedFold(reqNorm, titleNorm)
	return rank >= 0 && rank <= maxMatchDistance
}

// filterByTitles keeps the catalog entries matching any requested
// title. An empty request list keeps everything.
func filterByTitles(books []siteBook, requested []string) []siteBook {
	if len(requested) == 0 {
		return books
	}

	var matched []siteBook
	for _, book := range books {
		for _, want := range requested {
			if matchesTitle(want, book.Title) {
				matched = append(matched, book)
				break
			}
		}
	}
	return matched
}
