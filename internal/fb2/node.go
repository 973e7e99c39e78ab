// Package fb2 parses FictionBook documents into a small typed tree.
package fb2

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Node is an element or, when Name is empty, a run of character data.
type Node struct {
	Name     string
	Attrs    []xml.Attr
	Data     string
	Children []*Node
}

// Parse reads a whole document. Any declared charset is honoured; unknown
// HTML entities and unclosed tags are tolerated.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	root := &Node{}
	stack := []*Node{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse fb2: %w", err)
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: strings.ToLower(t.Name.Local), Attrs: t.Copy().Attr}
			top.Children = append(top.Children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.Children = append(top.Children, &Node{Data: string(t)})
		}
	}

	doc := root.Child("fictionbook")
	if doc == nil {
		return nil, fmt.Errorf("parse fb2: no FictionBook root element")
	}
	return doc, nil
}

// IsText reports whether n is character data.
func (n *Node) IsText() bool { return n != nil && n.Name == "" }

// Child returns the first child element called name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name != "" && strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child element called name.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name != "" && strings.EqualFold(c.Name, name) {
			out = append(out, c)
		}
	}
	return out
}

// Find walks a path of child element names.
func (n *Node) Find(path ...string) *Node {
	for _, p := range path {
		n = n.Child(p)
	}
	return n
}

// Attr returns an attribute by local name, so "href" matches l:href and
// xlink:href alike.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// inline elements run into the surrounding text without a break.
var inline = map[string]bool{
	"emphasis": true, "strong": true, "strikethrough": true, "style": true,
	"sub": true, "sup": true, "code": true, "a": true,
}

// Text returns the descendant character data with ASCII whitespace
// collapsed. Non-breaking spaces are kept.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.appendText(&b)
	return collapseSpace(b.String())
}

func (n *Node) appendText(b *strings.Builder) {
	if n.IsText() {
		b.WriteString(n.Data)
		return
	}
	for _, c := range n.Children {
		c.appendText(b)
		if !c.IsText() && !inline[c.Name] {
			b.WriteByte(' ')
		}
	}
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
