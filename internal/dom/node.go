// Package dom provides the in-memory document tree the widget engine operates
// over: element nodes with layout rects in page coordinates, computed
// visibility, scroll offsets, hit testing, and mutation notification. Pages
// are either built programmatically by an embedder or parsed from an HTML
// snapshot captured on the deployed preview.
package dom

import (
	"strings"
)

// Rect is an axis-aligned box in page coordinates (scroll already folded in).
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether the page point lies inside the rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Point is a position in page coordinates.
type Point struct {
	X float64
	Y float64
}

// Style holds the subset of computed style the engine inspects.
type Style struct {
	Display    string
	Visibility string
	Opacity    float64
}

// Node is a single element in the document tree.
type Node struct {
	Tag string

	doc      *Document
	parent   *Node
	children []*Node

	id      string
	classes []string
	attrs   map[string]string
	style   Style
	rect    Rect
	text    string
}

func newNode(tag string) *Node {
	return &Node{
		Tag:   strings.ToLower(tag),
		attrs: make(map[string]string),
		style: Style{Opacity: 1},
	}
}

// ID returns the element id, empty when unset.
func (n *Node) ID() string {
	return n.id
}

// Classes returns the element class list in declaration order.
func (n *Node) Classes() []string {
	out := make([]string, len(n.classes))
	copy(out, n.classes)
	return out
}

// HasClass reports whether the class list contains name.
func (n *Node) HasClass(name string) bool {
	for _, class := range n.classes {
		if class == name {
			return true
		}
	}
	return false
}

// Attr returns the named attribute value, empty when unset.
func (n *Node) Attr(name string) string {
	return n.attrs[name]
}

// Parent returns the parent element, nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the child elements in document order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Text returns the element's direct text content.
func (n *Node) Text() string {
	return n.text
}

// Rect returns the layout box in page coordinates.
func (n *Node) Rect() Rect {
	return n.rect
}

// Styles returns the element's computed style subset.
func (n *Node) Styles() Style {
	return n.style
}

// Visible reports whether the element participates in layout and is shown.
// An element is invisible when it or any ancestor has display:none, when its
// own subtree sets visibility:hidden, or when effective opacity reaches zero.
// Detached nodes (no path to the document root) are never visible; this stands
// in for the browser's null offsetParent check.
func (n *Node) Visible() bool {
	if n.doc == nil {
		return false
	}
	attached := false
	for cursor := n; cursor != nil; cursor = cursor.parent {
		if cursor.style.Display == "none" {
			return false
		}
		if cursor.style.Visibility == "hidden" {
			return false
		}
		if cursor.style.Opacity == 0 {
			return false
		}
		if cursor == n.doc.root {
			attached = true
		}
	}
	return attached
}

// SetID assigns the element id and fires an attribute mutation.
func (n *Node) SetID(id string) {
	n.id = id
	n.notifyAttribute("id")
}

// SetClasses replaces the class list and fires an attribute mutation.
func (n *Node) SetClasses(classes ...string) {
	n.classes = append([]string(nil), classes...)
	n.notifyAttribute("class")
}

// SetAttr sets a plain attribute without mutation semantics beyond recording.
func (n *Node) SetAttr(name, value string) {
	n.attrs[name] = value
	n.notifyAttribute(name)
}

// SetText replaces the element's direct text content.
func (n *Node) SetText(text string) {
	n.text = text
}

// SetRect assigns the layout box. Layout changes do not fire mutations; the
// browser analogue (scroll/resize) is signalled through Document.SetScroll and
// explicit invalidation by the embedder.
func (n *Node) SetRect(rect Rect) {
	n.rect = rect
}

// SetStyle replaces the computed style subset and fires a style mutation.
func (n *Node) SetStyle(style Style) {
	n.style = style
	n.notifyAttribute("style")
}

// SetDisplay updates only the display property and fires a style mutation.
func (n *Node) SetDisplay(display string) {
	n.style.Display = display
	n.notifyAttribute("style")
}

// AppendChild attaches child as the last child and fires a childList mutation.
func (n *Node) AppendChild(child *Node) *Node {
	child.detach()
	child.parent = n
	child.setDocument(n.doc)
	n.children = append(n.children, child)
	n.notifyChildList()
	return child
}

// Remove detaches the element from its parent and fires a childList mutation.
func (n *Node) Remove() {
	parent := n.parent
	n.detach()
	if parent != nil {
		parent.notifyChildList()
	}
	n.setDocument(nil)
}

func (n *Node) detach() {
	if n.parent == nil {
		return
	}
	siblings := n.parent.children
	for index, sibling := range siblings {
		if sibling == n {
			n.parent.children = append(siblings[:index], siblings[index+1:]...)
			break
		}
	}
	n.parent = nil
}

func (n *Node) setDocument(doc *Document) {
	n.doc = doc
	for _, child := range n.children {
		child.setDocument(doc)
	}
}

// siblingIndexOfTag returns the 1-based position of n among siblings sharing
// its tag, and how many such siblings exist in total.
func (n *Node) siblingIndexOfTag() (index, total int) {
	if n.parent == nil {
		return 1, 1
	}
	for _, sibling := range n.parent.children {
		if sibling.Tag != n.Tag {
			continue
		}
		total++
		if sibling == n {
			index = total
		}
	}
	return index, total
}

func (n *Node) notifyAttribute(name string) {
	if n.doc != nil {
		n.doc.notify(Mutation{Type: MutationAttributes, Target: n, AttributeName: name})
	}
}

func (n *Node) notifyChildList() {
	if n.doc != nil {
		n.doc.notify(Mutation{Type: MutationChildList, Target: n})
	}
}

// descendants appends all elements under n (excluding n) in document order.
func (n *Node) descendants(out []*Node) []*Node {
	for _, child := range n.children {
		out = append(out, child)
		out = child.descendants(out)
	}
	return out
}
