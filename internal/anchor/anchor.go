// Package anchor maps persisted comment anchors onto the live document and
// derives fresh anchors from elements. An anchor carries two redundant
// identities: a structural selector (preferred while it still resolves) and
// absolute page coordinates (the durable fallback once the element is gone).
package anchor

import (
	"github.com/pinpoint-labs/pinpoint/internal/dom"
)

// Anchor is the spatial identity of a UI-context comment. At creation at
// least one of Selector and Coordinates must be set; reposition supersedes
// both fields together, never one of them.
type Anchor struct {
	Selector    string     `json:"selector,omitempty"`
	Coordinates *dom.Point `json:"coordinates,omitempty"`
}

// IsZero reports whether the anchor carries no identity at all.
func (a Anchor) IsZero() bool {
	return a.Selector == "" && a.Coordinates == nil
}

// At builds a coordinates-only anchor.
func At(x, y float64) Anchor {
	return Anchor{Coordinates: &dom.Point{X: x, Y: y}}
}

// FromElement derives a full anchor for the element: a structural selector
// plus the element's current center point as the coordinate fallback.
func FromElement(node *dom.Node) Anchor {
	point := node.Rect().Center()
	return Anchor{
		Selector:    BuildSelector(node),
		Coordinates: &point,
	}
}
