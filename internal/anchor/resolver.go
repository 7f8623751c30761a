package anchor

import (
	"github.com/pinpoint-labs/pinpoint/internal/dom"
)

// Resolution is a successfully located anchor position. Element is nil when
// the position came from the coordinate fallback rather than a live element.
type Resolution struct {
	Element *dom.Node
	Point   dom.Point
}

// Resolve locates the anchor's current position on the document.
//
// The selector is attempted first; a match must also be visible, since a
// selector that resolves onto a tab-hidden panel is as good as gone. A
// malformed selector is treated exactly like a missing match. When the
// selector path fails, the literal coordinates are returned with no element
// reference. When neither identity produces a position the result is nil and
// the caller must suppress the marker entirely.
func Resolve(doc *dom.Document, a Anchor) *Resolution {
	if a.Selector != "" {
		node, err := doc.Query(a.Selector)
		if err == nil && node != nil && node.Visible() {
			return &Resolution{Element: node, Point: node.Rect().Center()}
		}
	}
	if a.Coordinates != nil {
		return &Resolution{Point: *a.Coordinates}
	}
	return nil
}
