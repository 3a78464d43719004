// Package opml reads and writes the OPML v2 feed lists maintained in this
// repository and provides the tree operations the sync engine works with.
package opml

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

type StructureError struct {
	Path   string
	Detail string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("invalid OPML structure in %s: %s", e.Path, e.Detail)
}

// Outline is a single <outline> node. Feed entries carry type="rss" and a
// non-empty xmlUrl; any other outline acts as a category container.
type Outline struct {
	Text     string     `xml:"text,attr,omitempty"`
	Title    string     `xml:"title,attr,omitempty"`
	Type     string     `xml:"type,attr,omitempty"`
	XMLURL   string     `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string     `xml:"htmlUrl,attr,omitempty"`
	Outlines []*Outline `xml:"outline"`
}

type Head struct {
	Title string `xml:"title,omitempty"`
}

type Body struct {
	Outlines []*Outline `xml:"outline"`
}

type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr,omitempty"`
	Head    Head     `xml:"head"`
	Body    *Body    `xml:"body"`
}

// IsFeed reports whether the outline is an RSS/Atom feed entry. Feed
// entries may still carry an empty xmlUrl; the sync engine removes those.
func (o *Outline) IsFeed() bool {
	return o.Type == "rss"
}

// CategoryName returns the display name of a category outline, preferring
// the title attribute over text.
func (o *Outline) CategoryName() string {
	if name := strings.TrimSpace(o.Title); name != "" {
		return name
	}
	return strings.TrimSpace(o.Text)
}

// Clone returns a copy of the outline without children. Feed entries never
// carry children, which is the only case Clone is used for.
func (o *Outline) Clone() *Outline {
	clone := *o
	clone.Outlines = nil
	return &clone
}

func NormalizeURL(url string) string {
	return strings.TrimSpace(url)
}

func Parse(data []byte, path string) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Body == nil {
		return nil, &StructureError{Path: path, Detail: "missing <body> element"}
	}
	return &doc, nil
}

func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Marshal serializes the document with an XML declaration and trailing
// newline so the output is stable across runs.
func (d *Document) Marshal() ([]byte, error) {
	payload, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize OPML: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(payload)+1)
	out = append(out, []byte(xml.Header)...)
	out = append(out, payload...)
	out = append(out, '\n')
	return out, nil
}

// WalkFeeds visits every feed entry in document order, depth first.
func (d *Document) WalkFeeds(visit func(feed *Outline)) {
	walkFeeds(d.Body.Outlines, visit)
}

// WalkFeeds visits every feed entry nested under the outline.
func (o *Outline) WalkFeeds(visit func(feed *Outline)) {
	walkFeeds(o.Outlines, visit)
}

func walkFeeds(nodes []*Outline, visit func(feed *Outline)) {
	for _, node := range nodes {
		if node.IsFeed() {
			visit(node)
			continue
		}
		walkFeeds(node.Outlines, visit)
	}
}

// FeedURLs returns the normalized xmlUrl of every feed entry in document
// order. Empty URLs are skipped.
func (d *Document) FeedURLs() []string {
	var urls []string
	d.WalkFeeds(func(feed *Outline) {
		if url := NormalizeURL(feed.XMLURL); url != "" {
			urls = append(urls, url)
		}
	})
	return urls
}

// Categories returns the top-level category outlines in document order.
func (d *Document) Categories() []*Outline {
	var categories []*Outline
	for _, node := range d.Body.Outlines {
		if !node.IsFeed() {
			categories = append(categories, node)
		}
	}
	return categories
}

// FindCategory looks up a top-level category by exact name.
func (d *Document) FindCategory(name string) *Outline {
	for _, category := range d.Categories() {
		if category.CategoryName() == name {
			return category
		}
	}
	return nil
}

// EnsureCategory returns the top-level category with the given name,
// appending a new one at the end of the body when absent.
func (d *Document) EnsureCategory(name string) *Outline {
	if existing := d.FindCategory(name); existing != nil {
		return existing
	}
	category := &Outline{Title: name, Text: name}
	d.Body.Outlines = append(d.Body.Outlines, category)
	return category
}
