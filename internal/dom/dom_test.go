package dom

import (
	"strings"
	"testing"
)

const snapshotHTML = `<html><body data-pp-scroll="0,120">
<div id="app" data-pp-rect="0,0,1200,2400">
  <nav class="topbar" data-pp-rect="0,0,1200,60"></nav>
  <section class="card" data-pp-rect="40,100,400,200"><p data-pp-rect="60,120,360,40">First card</p></section>
  <section class="card" data-pp-rect="40,340,400,200" style="display:none"><p>Hidden card</p></section>
</div>
</body></html>`

func TestParseSnapshotBuildsTree(t *testing.T) {
	doc, err := ParseSnapshot(strings.NewReader(snapshotHTML))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	app := doc.GetElementByID("app")
	if app == nil {
		t.Fatalf("expected #app element")
	}
	if got := len(app.Children()); got != 3 {
		t.Fatalf("expected 3 children under #app, got %d", got)
	}
	if _, y := doc.Scroll(); y != 120 {
		t.Fatalf("expected scroll y 120, got %v", y)
	}

	first := app.Children()[1]
	if first.Rect() != (Rect{X: 40, Y: 100, Width: 400, Height: 200}) {
		t.Fatalf("unexpected rect: %+v", first.Rect())
	}
	if first.Children()[0].Text() != "First card" {
		t.Fatalf("unexpected text: %q", first.Children()[0].Text())
	}
}

func TestQueryMatchesStructuralPath(t *testing.T) {
	doc, err := ParseSnapshot(strings.NewReader(snapshotHTML))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	node, err := doc.Query("div > section.card:nth-of-type(1) > p")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if node == nil || node.Text() != "First card" {
		t.Fatalf("expected first card paragraph, got %#v", node)
	}

	byID, err := doc.Query("#app")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if byID == nil || byID.ID() != "app" {
		t.Fatalf("expected #app match")
	}

	missing, err := doc.Query("div > aside")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no match for absent element")
	}
}

func TestQueryRejectsMalformedSelector(t *testing.T) {
	doc := NewDocument()
	cases := []string{"", "div >", "section:nth-of-type(x)", "div[role=main]", "#"}
	for _, selector := range cases {
		if _, err := doc.Query(selector); err == nil {
			t.Fatalf("expected error for selector %q", selector)
		}
	}
}

func TestVisibilityFollowsAncestors(t *testing.T) {
	doc, err := ParseSnapshot(strings.NewReader(snapshotHTML))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	hiddenParagraph := doc.GetElementByID("app").Children()[2].Children()[0]
	if hiddenParagraph.Visible() {
		t.Fatalf("paragraph inside display:none section should be invisible")
	}

	nav, _ := doc.Query("nav.topbar")
	if nav == nil || !nav.Visible() {
		t.Fatalf("topbar should be visible")
	}

	nav.Remove()
	if nav.Visible() {
		t.Fatalf("detached element should be invisible")
	}
}

func TestElementFromPointPicksTopmostVisible(t *testing.T) {
	doc, err := ParseSnapshot(strings.NewReader(snapshotHTML))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	hit := doc.ElementFromPoint(Point{X: 100, Y: 130})
	if hit == nil || hit.Tag != "p" {
		t.Fatalf("expected paragraph hit, got %#v", hit)
	}

	// Hidden section occupies 40,340..440,540 but must not hit-test.
	if hit := doc.ElementFromPoint(Point{X: 100, Y: 400}); hit != nil && hit.HasClass("card") {
		t.Fatalf("display:none card must not hit-test, got %#v", hit)
	}

	marker := doc.CreateElement("div")
	marker.SetRect(Rect{X: 90, Y: 120, Width: 40, Height: 40})
	marker.SetAttr("data-pp-pointer-events", "none")
	doc.Root().AppendChild(marker)
	if hit := doc.ElementFromPoint(Point{X: 100, Y: 130}); hit == nil || hit.Tag != "p" {
		t.Fatalf("pointer-events none marker must be transparent to hit testing")
	}
}

func TestMutationAndScrollListeners(t *testing.T) {
	doc := NewDocument()
	var mutations []Mutation
	disconnect := doc.OnMutation(func(m Mutation) { mutations = append(mutations, m) })

	child := doc.CreateElement("div")
	doc.Root().AppendChild(child)
	child.SetClasses("panel")
	child.SetDisplay("none")
	child.Remove()

	if len(mutations) != 4 {
		t.Fatalf("expected 4 mutations, got %d", len(mutations))
	}
	if mutations[0].Type != MutationChildList || mutations[1].AttributeName != "class" {
		t.Fatalf("unexpected mutation order: %+v", mutations)
	}

	disconnect()
	doc.Root().AppendChild(doc.CreateElement("span"))
	if len(mutations) != 4 {
		t.Fatalf("disconnected listener must not fire")
	}

	var scrolls int
	doc.OnScroll(func(x, y float64) { scrolls++ })
	doc.SetScroll(0, 300)
	if scrolls != 1 {
		t.Fatalf("expected one scroll notification, got %d", scrolls)
	}
}
