package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"The Go Programming Language", "the go programming language"},
		{"Economie-Politique", "economie politique"},
		{"  Moby-Dick;  or, The Whale ", "moby dick or the whale"},
		{"C++ Primer (5th Edition)", "c primer 5th edition"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.input))
	}
}

func TestMatchesTitle(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		title     string
		want      bool
	}{
		{"exact", "Moby Dick", "Moby Dick", true},
		{"case and punctuation", "moby-dick!", "Moby Dick", true},
		{"request contained in title", "Moby Dick", "Moby-Dick; or, The Whale", true},
		{"title contained in request", "Moby-Dick; or, The Whale", "Moby Dick", true},
		{"close fuzzy", "The Go Programing Language", "The Go Programming Language", true},
		{"different book", "Moby Dick", "Pride and Prejudice", false},
		{"empty request", "", "Moby Dick", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesTitle(tt.requested, tt.title))
		})
	}
}

func TestFilterByTitles(t *testing.T) {
	books := []siteBook{
		{Title: "Moby-Dick; or, The Whale"},
		{Title: "Pride and Prejudice"},
		{Title: "The Go Programming Language"},
	}

	matched := filterByTitles(books, []string{"moby dick", "pride and prejudice"})
	assert.Len(t, matched, 2)
	assert.Equal(t, "Moby-Dick; or, The Whale", matched[0].Title)
	assert.Equal(t, "Pride and Prejudice", matched[1].Title)

	// No filter keeps everything.
	assert.Len(t, filterByTitles(books, nil), 3)

	// No hits.
	assert.Empty(t, filterByTitles(books, []string{"War and Peace"}))
}
