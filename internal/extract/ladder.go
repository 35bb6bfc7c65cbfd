package extract

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no rule of a ladder produced a value.
	ErrNotFound = errors.New("no selector matched")
	// ErrNoMatch is returned by a Page when a query matches no node.
	ErrNoMatch = errors.New("no matching node")
)

// Page is anything a selector ladder can be evaluated against: a rendered
// browser page or a parsed HTML document.
type Page interface {
	// First returns the value of the first node matching query. An empty attr
	// reads the text content, otherwise the named attribute.
	First(query, attr string) (string, error)
	// All returns the values of every node matching query.
	All(query, attr string) ([]string, error)
}

// Rule is one rung of a selector ladder.
type Rule struct {
	Query string
	Attr  string
}

// Text builds a rule reading the text content of query.
func Text(query string) Rule {
	return Rule{Query: query}
}

// Attr builds a rule reading attribute name of query.
func Attr(query, name string) Rule {
	return Rule{Query: query, Attr: name}
}

func (r Rule) String() string {
	if r.Attr == "" {
		return r.Query
	}
	return r.Query + "@" + r.Attr
}

// Resolve tries rules strictly in order and returns the first non-empty
// trimmed value. A rule that errors or yields only whitespace is skipped.
func Resolve(page Page, rules []Rule) (string, error) {
	for _, rule := range rules {
		value, err := page.First(rule.Query, rule.Attr)
		if err != nil {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	return "", ErrNotFound
}

// ResolveOr is Resolve with a sentinel returned when every rule fails.
func ResolveOr(page Page, rules []Rule, fallback string) string {
	value, err := Resolve(page, rules)
	if err != nil {
		return fallback
	}
	return value
}

// ResolveAll is the list form of Resolve. The first rule yielding at least one
// non-empty value wins; blank items are dropped.
func ResolveAll(page Page, rules []Rule) ([]string, error) {
	for _, rule := range rules {
		values, err := page.All(rule.Query, rule.Attr)
		if err != nil {
			continue
		}

		var out []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, ErrNotFound
}
