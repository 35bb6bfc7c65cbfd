package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/extract"
)

// Document is a parsed HTML snapshot that selector ladders can query.
// Invalid selectors match nothing, goquery never panics on them.
type Document struct {
	doc *goquery.Document
}

// Parse builds a queryable tree from raw HTML.
func Parse(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{doc: doc}, nil
}

// First implements extract.Page.
func (d *Document) First(query, attr string) (string, error) {
	sel := d.doc.Find(query).First()
	if sel.Length() == 0 {
		return "", extract.ErrNoMatch
	}
	return read(sel, attr), nil
}

// All implements extract.Page.
func (d *Document) All(query, attr string) ([]string, error) {
	sel := d.doc.Find(query)
	if sel.Length() == 0 {
		return nil, extract.ErrNoMatch
	}

	values := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		values = append(values, read(s, attr))
	})
	return values, nil
}

func read(s *goquery.Selection, attr string) string {
	if attr == "" {
		return strings.TrimSpace(s.Text())
	}
	return strings.TrimSpace(s.AttrOr(attr, ""))
}
