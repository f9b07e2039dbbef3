// Package htmltext provides a tracker.Target over a static HTML document.
// It is used to check a saved page against recorded responses without a
// browser, and to drive sessions in tests.
package htmltext

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed HTML page. Replace swaps the content and notifies
// subscribers as one mutation batch.
type Document struct {
	mu   sync.RWMutex
	text string
	subs map[uint64]func()
	next uint64
}

// Parse reads an HTML document from r.
func Parse(r io.Reader) (*Document, error) {
	d := &Document{subs: make(map[uint64]func())}
	if err := d.load(r); err != nil {
		return nil, err
	}
	return d, nil
}

// FromString parses an HTML string.
func FromString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Text returns the rendered body text.
func (d *Document) Text(_ context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text, nil
}

// Subscribe registers fn for mutation notifications.
func (d *Document) Subscribe(fn func()) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Replace parses a new document from r and notifies subscribers.
func (d *Document) Replace(r io.Reader) error {
	if err := d.load(r); err != nil {
		return err
	}

	d.mu.RLock()
	subs := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
	return nil
}

func (d *Document) load(r io.Reader) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("htmltext: parse: %w", err)
	}
	text := BodyText(doc)

	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
	return nil
}

// BodyText approximates innerText of the document body: script, style and
// template content is skipped, whitespace runs collapse to one space outside
// preformatted elements and block elements break lines. Table cells are
// separated by tabs.
func BodyText(doc *html.Node) string {
	root := findBody(doc)
	if root == nil {
		root = doc
	}

	var b textBuilder
	b.walk(root)
	return b.String()
}

type textBuilder struct {
	lines   []string
	current strings.Builder
	space   bool
	pre     int // depth of enclosing preformatted elements
}

func (b *textBuilder) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.text(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
			return
		case atom.Br:
			b.breakLine()
			return
		case atom.Td, atom.Th:
			if b.current.Len() > 0 {
				b.current.WriteByte('\t')
				b.space = false
			}
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	pre := n.Type == html.ElementNode && isPreformatted(n.DataAtom)
	if block {
		b.breakLine()
	}
	if pre {
		b.pre++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
	if pre {
		b.pre--
	}
	if block {
		b.breakLine()
	}
}

func (b *textBuilder) text(s string) {
	if b.pre > 0 {
		b.verbatim(s)
		return
	}
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f' {
			b.space = true
			continue
		}
		if b.space && b.current.Len() > 0 {
			b.current.WriteByte(' ')
		}
		b.space = false
		b.current.WriteRune(r)
	}
}

// verbatim writes preformatted text: whitespace is kept and newlines end
// lines, blank ones included.
func (b *textBuilder) verbatim(s string) {
	if b.space && b.current.Len() > 0 {
		b.current.WriteByte(' ')
	}
	b.space = false
	for _, r := range s {
		switch r {
		case '\r':
		case '\n':
			b.lines = append(b.lines, b.current.String())
			b.current.Reset()
		default:
			b.current.WriteRune(r)
		}
	}
}

func (b *textBuilder) breakLine() {
	if b.current.Len() > 0 {
		b.lines = append(b.lines, b.current.String())
		b.current.Reset()
	}
	b.space = false
}

func (b *textBuilder) String() string {
	b.breakLine()
	return strings.Join(b.lines, "\n")
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}

func isPreformatted(a atom.Atom) bool {
	switch a {
	case atom.Pre, atom.Textarea, atom.Listing, atom.Xmp, atom.Plaintext:
		return true
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Dd,
		atom.Details, atom.Dialog, atom.Div, atom.Dl, atom.Dt, atom.Fieldset,
		atom.Figcaption, atom.Figure, atom.Footer, atom.Form, atom.H1, atom.H2,
		atom.H3, atom.H4, atom.H5, atom.H6, atom.Header, atom.Hr, atom.Li,
		atom.Main, atom.Nav, atom.Ol, atom.P, atom.Pre, atom.Section,
		atom.Summary, atom.Table, atom.Tr, atom.Ul, atom.Caption:
		return true
	}
	return false
}
