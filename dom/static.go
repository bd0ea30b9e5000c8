package dom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Static is a Document over parsed HTML. It backs fetched full-view pages
// and tests; the hooks let a test play the part of the page's own scripts.
type Static struct {
	doc *goquery.Document

	mu  sync.Mutex
	url string

	// OnClick runs when an element is clicked. Nil means clicks do nothing.
	OnClick func(el *StaticElement) error
	// OnNavigate runs instead of the default, which only records the URL.
	OnNavigate func(ctx context.Context, url string) error
	// OnMutate runs after every SetHTML, AppendHTML and Remove.
	OnMutate func()
}

// Parse reads an HTML document loaded from url.
func Parse(url string, r io.Reader) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Static{doc: doc, url: url}, nil
}

// ParseString is Parse over a string.
func ParseString(url, src string) (*Static, error) {
	return Parse(url, strings.NewReader(src))
}

func (s *Static) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Static) Navigate(ctx context.Context, url string) error {
	if s.OnNavigate != nil {
		return s.OnNavigate(ctx, url)
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *Static) FindAll(selector string) ([]Element, error) {
	return s.wrap(s.doc.Selection, selector)
}

// HTML renders the whole document.
func (s *Static) HTML() string {
	out, _ := s.doc.Html()
	return out
}

func (s *Static) wrap(from *goquery.Selection, selector string) ([]Element, error) {
	if _, err := cascadia.Compile(selector); err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	found := from.Find(selector)
	out := make([]Element, 0, found.Length())
	found.Each(func(_ int, sel *goquery.Selection) {
		out = append(out, &StaticElement{sel: sel, doc: s})
	})
	return out, nil
}

func (s *Static) mutated() {
	if s.OnMutate != nil {
		s.OnMutate()
	}
}

// StaticElement is an Element of a Static document.
type StaticElement struct {
	sel *goquery.Selection
	doc *Static
}

func (e *StaticElement) node() *html.Node { return e.sel.Get(0) }

func (e *StaticElement) Key() string { return fmt.Sprintf("%p", e.node()) }

func (e *StaticElement) Tag() string { return goquery.NodeName(e.sel) }

func (e *StaticElement) Text() string { return e.sel.Text() }

func (e *StaticElement) Attr(name string) (string, bool) { return e.sel.Attr(name) }

func (e *StaticElement) FindAll(selector string) ([]Element, error) {
	return e.doc.wrap(e.sel, selector)
}

func (e *StaticElement) SetHTML(src string) error {
	e.sel.SetHtml(src)
	e.doc.mutated()
	return nil
}

func (e *StaticElement) AppendHTML(src string) error {
	e.sel.AppendHtml(src)
	e.doc.mutated()
	return nil
}

func (e *StaticElement) Remove() error {
	e.sel.Remove()
	e.doc.mutated()
	return nil
}

func (e *StaticElement) Click() error {
	if e.doc.OnClick == nil {
		return nil
	}
	return e.doc.OnClick(e)
}

// OuterHTML renders the element itself.
func (e *StaticElement) OuterHTML() string {
	out, _ := goquery.OuterHtml(e.sel)
	return out
}

// InnerHTML renders the element's children.
func (e *StaticElement) InnerHTML() string {
	out, _ := e.sel.Html()
	return out
}
