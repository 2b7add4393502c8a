package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const emptyPage = "<!DOCTYPE html><html><head></head><body></body></html>"

// DOM is a read-only snapshot of the tracking page. Scripts query it through
// document.getElementById/querySelector; writes stay on the JS side.
type DOM struct {
	doc    *goquery.Document
	byNode map[*html.Node]*Element
	order  []*Element
}

// Element represents a DOM element
type Element struct {
	Key        int
	TagName    string
	ID         string
	ClassName  string
	Attributes map[string]string
	Children   []*Element
	Parent     *Element

	node *html.Node
}

// ParseDOM builds a snapshot from page HTML. An empty page yields a bare document.
func ParseDOM(page string) (*DOM, error) {
	if strings.TrimSpace(page) == "" {
		page = emptyPage
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	d := &DOM{doc: doc, byNode: make(map[*html.Node]*Element)}
	for _, n := range doc.Nodes {
		d.walk(n, nil)
	}
	return d, nil
}

func (d *DOM) walk(n *html.Node, parent *Element) {
	if n.Type == html.ElementNode {
		el := &Element{
			Key:        len(d.order),
			TagName:    strings.ToUpper(n.Data),
			Attributes: make(map[string]string, len(n.Attr)),
			Parent:     parent,
			node:       n,
		}
		for _, a := range n.Attr {
			el.Attributes[a.Key] = a.Val
		}
		el.ID = el.Attributes["id"]
		el.ClassName = el.Attributes["class"]

		d.byNode[n] = el
		d.order = append(d.order, el)
		if parent != nil {
			parent.Children = append(parent.Children, el)
		}
		parent = el
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c, parent)
	}
}

// Query finds elements matching a CSS selector in document order
func (d *DOM) Query(selector string) []*Element {
	var out []*Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if el, ok := d.byNode[s.Get(0)]; ok {
			out = append(out, el)
		}
	})
	return out
}

// ByID returns the element with the given id
func (d *DOM) ByID(id string) *Element {
	for _, el := range d.order {
		if el.ID == id {
			return el
		}
	}
	return nil
}

// Len returns the number of elements
func (d *DOM) Len() int {
	return len(d.order)
}

// Title returns the page title
func (d *DOM) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// record converts an element to the plain object the JS side wraps
func (e *Element) record() map[string]interface{} {
	attrs := make(map[string]interface{}, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return map[string]interface{}{
		"key":         e.Key,
		"tagName":     e.TagName,
		"id":          e.ID,
		"className":   e.ClassName,
		"textContent": e.Text(),
		"attributes":  attrs,
	}
}

// Text returns the concatenated text of the element's subtree
func (e *Element) Text() string {
	return goquery.NewDocumentFromNode(e.node).Text()
}

// GetAttribute retrieves attribute value
func (e *Element) GetAttribute(name string) string {
	return e.Attributes[name]
}
