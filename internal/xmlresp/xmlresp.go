// Package xmlresp renders the dynamic, handler-built response trees this
// service returns for the EC2 query protocol and the Route 53 REST API
// into XML text. AWS's query-protocol schema has no single static Go
// type per action (every action's shape is different and many fields are
// optional), so responses are built as a small generic element tree
// instead of one struct per action — the Go analogue of the original's
// dict-to-XML rendering, since the corpus carries no equivalent of
// Python's dicttoxml.
package xmlresp

import (
	"encoding/xml"
	"strings"
)

// Element is a node in a response tree: a tag name, optional attributes,
// and a list of children which are either nested *Element values or plain
// text leaves (string).
type Element struct {
	Name     string
	Attrs    []Attr
	Children []any
}

// Attr is a single XML attribute.
type Attr struct {
	Name  string
	Value string
}

// El starts a new element named name.
func El(name string) *Element {
	return &Element{Name: name}
}

// SetAttr adds an attribute and returns e for chaining.
func (e *Element) SetAttr(name, value string) *Element {
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

// Text appends a text leaf and returns e for chaining.
func (e *Element) Text(s string) *Element {
	e.Children = append(e.Children, s)
	return e
}

// Child appends a child element and returns e for chaining.
func (e *Element) Child(c *Element) *Element {
	e.Children = append(e.Children, c)
	return e
}

// Field appends a simple <name>value</name> child and returns e for
// chaining — the common case of a scalar response field.
func (e *Element) Field(name, value string) *Element {
	return e.Child(El(name).Text(value))
}

// ListStyle controls how a repeated field is wrapped.
type ListStyle int

const (
	// Expanded wraps every element of a list under a generic <item> tag,
	// the EC2 query-protocol convention for most repeated fields.
	Expanded ListStyle = iota
	// Condensed names each element after the parent tag with a trailing
	// "s" stripped (e.g. a <Tags> parent wraps each child as <Tag>).
	Condensed
)

// List appends a wrapper element named wrapperName containing one child
// per item, styled per style, and returns e for chaining.
func (e *Element) List(wrapperName string, style ListStyle, items []*Element) *Element {
	wrapper := El(wrapperName)
	itemName := "item"
	if style == Condensed {
		itemName = strings.TrimSuffix(wrapperName, "s")
	}
	for _, item := range items {
		item.Name = itemName
		wrapper.Child(item)
	}
	return e.Child(wrapper)
}

// Render serializes root to XML with a leading XML declaration and,
// if xmlns is non-empty, an xmlns attribute on the root element.
func Render(root *Element, xmlns string) ([]byte, error) {
	if xmlns != "" {
		// Prepend so it appears first among attributes, matching the
		// convention of EC2 responses declaring xmlns before any other
		// root-level attribute.
		root.Attrs = append([]Attr{{Name: "xmlns", Value: xmlns}}, root.Attrs...)
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	writeElement(&b, root)
	return []byte(b.String()), nil
}

func writeElement(b *strings.Builder, e *Element) {
	b.WriteByte('<')
	b.WriteString(e.Name)
	for _, a := range e.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		xml.EscapeText(b, []byte(a.Value))
		b.WriteByte('"')
	}
	if len(e.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	for _, child := range e.Children {
		switch c := child.(type) {
		case string:
			xml.EscapeText(b, []byte(c))
		case *Element:
			writeElement(b, c)
		}
	}
	b.WriteString("</")
	b.WriteString(e.Name)
	b.WriteByte('>')
}
