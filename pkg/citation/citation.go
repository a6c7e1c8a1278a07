// Package citation numbers documents and links the [n] markers a model
// writes into its answer.
package citation

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/datallama/internal/models"
)

var markerRe = regexp.MustCompile(`\[([1-9]\d*)\]`)

// Entry is one numbered source as rendered to API clients.
type Entry struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Synthetic bool   `json:"synthetic"`
}

// BuildList formats docs as "[n] title — url", numbered from 1 in input order.
func BuildList(docs []models.Document) []string {
	list := make([]string, 0, len(docs))
	for i, doc := range docs {
		list = append(list, fmt.Sprintf("[%d] %s — %s", i+1, doc.DisplayTitle(), doc.URL))
	}
	return list
}

// Entries returns the structured form of BuildList.
func Entries(docs []models.Document) []Entry {
	entries := make([]Entry, 0, len(docs))
	for i, doc := range docs {
		entries = append(entries, Entry{
			Number:    i + 1,
			Title:     doc.DisplayTitle(),
			URL:       doc.URL,
			Synthetic: doc.Synthetic,
		})
	}
	return entries
}

// RewriteMarkers replaces each [n] that has a matching document with a
// superscript link to its URL. n is written without leading zeros; markers
// without a document are left as is.
func RewriteMarkers(text string, docs []models.Document) string {
	if len(docs) == 0 || !strings.Contains(text, "[") {
		return text
	}

	return markerRe.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(marker[1 : len(marker)-1])
		if err != nil || n < 1 || n > len(docs) {
			return marker
		}
		return Link(n, docs[n-1].URL)
	})
}

// Link renders the linked form of marker n.
func Link(n int, url string) string {
	return fmt.Sprintf(`<sup><a href="%s" target="_blank" rel="noopener">[%d]</a></sup>`, html.EscapeString(url), n)
}
