package dom

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// rectAttr carries layout boxes through HTML snapshots. The capture step on
// the deployed preview stamps every element with its bounding rect so the
// headless engine can resolve anchors without running layout.
const rectAttr = "data-pp-rect"

// scrollAttr records page scroll offsets on the root element of a snapshot.
const scrollAttr = "data-pp-scroll"

// ParseSnapshot builds a Document from an HTML page snapshot. Only element
// nodes survive; inline style contributes display/visibility/opacity and the
// data-pp-rect attribute contributes the layout box.
func ParseSnapshot(r io.Reader) (*Document, error) {
	parsed, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse snapshot: %w", err)
	}

	body := findElement(parsed, "body")
	if body == nil {
		return nil, fmt.Errorf("dom: snapshot has no body element")
	}

	doc := NewDocument()
	applyAttributes(doc.Root(), body.Attr)
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		doc.Root().AppendChild(convertElement(child))
	}

	if raw := doc.Root().Attr(scrollAttr); raw != "" {
		x, y, ok := parsePair(raw)
		if ok {
			doc.SetScroll(x, y)
		}
	}
	return doc, nil
}

func findElement(node *html.Node, tag string) *html.Node {
	if node.Type == html.ElementNode && node.Data == tag {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func convertElement(src *html.Node) *Node {
	node := newNode(src.Data)
	applyAttributes(node, src.Attr)

	var text strings.Builder
	for child := src.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.ElementNode:
			node.AppendChild(convertElement(child))
		case html.TextNode:
			text.WriteString(child.Data)
		}
	}
	node.text = strings.TrimSpace(text.String())
	return node
}

func applyAttributes(node *Node, attrs []html.Attribute) {
	for _, attr := range attrs {
		switch attr.Key {
		case "id":
			node.id = attr.Val
		case "class":
			node.classes = strings.Fields(attr.Val)
		case "style":
			node.style = parseInlineStyle(attr.Val)
		case rectAttr:
			if rect, ok := parseRect(attr.Val); ok {
				node.rect = rect
			}
			node.attrs[attr.Key] = attr.Val
		default:
			node.attrs[attr.Key] = attr.Val
		}
	}
}

func parseInlineStyle(raw string) Style {
	style := Style{Opacity: 1}
	for _, declaration := range strings.Split(raw, ";") {
		name, value, found := strings.Cut(declaration, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(strings.ToLower(name))
		value = strings.TrimSpace(strings.ToLower(value))
		switch name {
		case "display":
			style.Display = value
		case "visibility":
			style.Visibility = value
		case "opacity":
			if opacity, err := strconv.ParseFloat(value, 64); err == nil {
				style.Opacity = opacity
			}
		}
	}
	return style
}

func parseRect(raw string) (Rect, bool) {
	fields := strings.Split(raw, ",")
	if len(fields) != 4 {
		return Rect{}, false
	}
	values := make([]float64, 4)
	for index, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Rect{}, false
		}
		values[index] = value
	}
	return Rect{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, true
}

func parsePair(raw string) (x, y float64, ok bool) {
	fields := strings.Split(raw, ",")
	if len(fields) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}
