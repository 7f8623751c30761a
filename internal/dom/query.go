package dom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedSelector indicates the selector could not be parsed. Callers
// treat this the same as "no match".
var ErrMalformedSelector = errors.New("dom: malformed selector")

// selectorSegment is one step in a structural path: either an id reference or
// a tag with optional classes and a same-tag sibling disambiguator.
type selectorSegment struct {
	id       string
	tag      string
	classes  []string
	nthIndex int // 0 when absent, otherwise 1-based :nth-of-type
}

// Query resolves a structural selector of the form produced by the anchor
// builder: `#id` alone, or `tag.class...:nth-of-type(n)` segments joined by
// " > " from an ancestor down to the target. Returns the first match in
// document order, nil when nothing matches, and ErrMalformedSelector when the
// selector cannot be parsed.
func (d *Document) Query(selector string) (*Node, error) {
	segments, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}

	candidates := d.allElements()
	for _, node := range candidates {
		if matchFrom(node, segments) {
			return deepTarget(node, segments), nil
		}
	}
	return nil, nil
}

// matchFrom reports whether node matches segments[0] and has a direct-child
// chain matching the remaining segments.
func matchFrom(node *Node, segments []selectorSegment) bool {
	if !segmentMatches(node, segments[0]) {
		return false
	}
	if len(segments) == 1 {
		return true
	}
	for _, child := range node.children {
		if matchFrom(child, segments[1:]) {
			return true
		}
	}
	return false
}

// deepTarget re-walks a known-matching chain to return the leaf element.
func deepTarget(node *Node, segments []selectorSegment) *Node {
	if len(segments) == 1 {
		return node
	}
	for _, child := range node.children {
		if matchFrom(child, segments[1:]) {
			return deepTarget(child, segments[1:])
		}
	}
	return node
}

func segmentMatches(node *Node, segment selectorSegment) bool {
	if segment.id != "" {
		return node.id == segment.id
	}
	if node.Tag != segment.tag {
		return false
	}
	for _, class := range segment.classes {
		if !node.HasClass(class) {
			return false
		}
	}
	if segment.nthIndex > 0 {
		index, _ := node.siblingIndexOfTag()
		if index != segment.nthIndex {
			return false
		}
	}
	return true
}

func parseSelector(selector string) ([]selectorSegment, error) {
	trimmed := strings.TrimSpace(selector)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedSelector)
	}

	parts := strings.Split(trimmed, ">")
	segments := make([]selectorSegment, 0, len(parts))
	for _, part := range parts {
		segment, err := parseSegment(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

func parseSegment(raw string) (selectorSegment, error) {
	if raw == "" {
		return selectorSegment{}, fmt.Errorf("%w: empty segment", ErrMalformedSelector)
	}

	if strings.HasPrefix(raw, "#") {
		id := raw[1:]
		if id == "" || strings.ContainsAny(id, " .:>") {
			return selectorSegment{}, fmt.Errorf("%w: bad id segment %q", ErrMalformedSelector, raw)
		}
		return selectorSegment{id: id}, nil
	}

	segment := selectorSegment{}
	rest := raw

	if open := strings.Index(rest, ":nth-of-type("); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return selectorSegment{}, fmt.Errorf("%w: unterminated nth in %q", ErrMalformedSelector, raw)
		}
		numeral := rest[open+len(":nth-of-type(") : len(rest)-1]
		index, err := strconv.Atoi(numeral)
		if err != nil || index < 1 {
			return selectorSegment{}, fmt.Errorf("%w: bad nth index in %q", ErrMalformedSelector, raw)
		}
		segment.nthIndex = index
		rest = rest[:open]
	} else if strings.Contains(rest, ":") {
		return selectorSegment{}, fmt.Errorf("%w: unsupported pseudo in %q", ErrMalformedSelector, raw)
	}

	pieces := strings.Split(rest, ".")
	if pieces[0] == "" || !isIdentifier(pieces[0]) {
		return selectorSegment{}, fmt.Errorf("%w: bad tag in %q", ErrMalformedSelector, raw)
	}
	segment.tag = strings.ToLower(pieces[0])
	for _, class := range pieces[1:] {
		if class == "" || !isIdentifier(class) {
			return selectorSegment{}, fmt.Errorf("%w: bad class in %q", ErrMalformedSelector, raw)
		}
		segment.classes = append(segment.classes, class)
	}
	return segment, nil
}

func isIdentifier(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
