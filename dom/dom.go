// Package dom is the boundary between the expander and a page. The expander
// only sees Document and Element; a live Chrome tab (package browser) and a
// parsed static page (Static, in this package) both implement them.
package dom

import (
	"context"
	"fmt"
	"strings"
)

// Querier finds elements by CSS selector in document order.
type Querier interface {
	FindAll(selector string) ([]Element, error)
}

// Element is one node of the page.
type Element interface {
	Querier

	// Key identifies the node within its document. Two Elements for the
	// same node have the same Key.
	Key() string
	// Tag is the lower-case tag name.
	Tag() string
	// Text is the rendered text of the node and its descendants.
	Text() string
	Attr(name string) (string, bool)

	SetHTML(html string) error
	AppendHTML(html string) error
	Remove() error
	// Click activates the node the way a user click would.
	Click() error
}

// Document is a loaded page.
type Document interface {
	Querier

	// URL is the address of the current page.
	URL() string
	// Navigate loads url in place of the current page.
	Navigate(ctx context.Context, url string) error
}

// First returns the first element matching selector, or nil.
func First(q Querier, selector string) (Element, error) {
	els, err := q.FindAll(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// FirstMatch walks selectors in order and returns the first element of the
// first selector that matches anything, with the selector that hit. It
// returns a nil Element when nothing matches.
func FirstMatch(q Querier, selectors ...string) (Element, string, error) {
	for _, sel := range selectors {
		el, err := First(q, sel)
		if err != nil {
			return nil, "", fmt.Errorf("dom: %q: %w", sel, err)
		}
		if el != nil {
			return el, sel, nil
		}
	}
	return nil, "", nil
}

// Union returns the elements matching any of selectors, each node once,
// in document order.
func Union(q Querier, selectors ...string) ([]Element, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	group := strings.Join(selectors, ", ")
	els, err := q.FindAll(group)
	if err != nil {
		return nil, fmt.Errorf("dom: %q: %w", group, err)
	}
	return els, nil
}
