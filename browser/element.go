package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/unclip/dom"
)

// element adapts a rod element. The node description is fetched once.
type element struct {
	el   *rod.Element
	key  string
	tag  string
	desc bool
}

func wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out
}

func (e *element) describe() {
	if e.desc {
		return
	}
	e.desc = true
	node, err := e.el.Describe(0, false)
	if err != nil {
		e.key = string(e.el.Object.ObjectID)
		return
	}
	e.key = fmt.Sprintf("node:%d", node.BackendNodeID)
	e.tag = strings.ToLower(node.LocalName)
}

func (e *element) Key() string {
	e.describe()
	return e.key
}

func (e *element) Tag() string {
	e.describe()
	return e.tag
}

func (e *element) Text() string {
	s, err := e.el.Text()
	if err != nil {
		return ""
	}
	return s
}

func (e *element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *element) FindAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

func (e *element) SetHTML(html string) error {
	_, err := e.el.Eval(`(h) => { this.innerHTML = h }`, html)
	return err
}

func (e *element) AppendHTML(html string) error {
	_, err := e.el.Eval(`(h) => { this.insertAdjacentHTML('beforeend', h) }`, html)
	return err
}

func (e *element) Remove() error { return e.el.Remove() }

func (e *element) Click() error {
	_, err := e.el.Eval(`() => { this.click() }`)
	return err
}
