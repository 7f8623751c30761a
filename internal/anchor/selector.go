package anchor

import (
	"fmt"
	"strings"

	"github.com/pinpoint-labs/pinpoint/internal/dom"
)

// internalClassPrefixes marks classes that never belong in a selector: the
// widget's own chrome and build-tool generated names that churn between
// deployments.
var internalClassPrefixes = []string{"pp-", "css-", "jsx-", "svelte-"}

// BuildSelector walks from the element up to (not including) the document
// root, recording at each level the tag, the filtered class list, and a
// same-tag sibling disambiguator when one is needed. An element with an id
// short-circuits the walk: `#id` alone is the whole selector. The result is a
// best-effort structural path, not a guaranteed-unique one.
func BuildSelector(node *dom.Node) string {
	if node == nil {
		return ""
	}

	var segments []string
	for cursor := node; cursor != nil && cursor.Parent() != nil; cursor = cursor.Parent() {
		if cursor.ID() != "" {
			segments = append(segments, "#"+cursor.ID())
			break
		}
		segments = append(segments, buildSegment(cursor))
	}

	// The walk collected target-first; the selector reads ancestor-first.
	for left, right := 0, len(segments)-1; left < right; left, right = left+1, right-1 {
		segments[left], segments[right] = segments[right], segments[left]
	}
	return strings.Join(segments, " > ")
}

func buildSegment(node *dom.Node) string {
	var segment strings.Builder
	segment.WriteString(node.Tag)

	for _, class := range node.Classes() {
		if isInternalClass(class) {
			continue
		}
		segment.WriteString(".")
		segment.WriteString(class)
	}

	if index, total := siblingPosition(node); total > 1 {
		fmt.Fprintf(&segment, ":nth-of-type(%d)", index)
	}
	return segment.String()
}

func isInternalClass(class string) bool {
	for _, prefix := range internalClassPrefixes {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

func siblingPosition(node *dom.Node) (index, total int) {
	parent := node.Parent()
	if parent == nil {
		return 1, 1
	}
	for _, sibling := range parent.Children() {
		if sibling.Tag != node.Tag {
			continue
		}
		total++
		if sibling == node {
			index = total
		}
	}
	return index, total
}
