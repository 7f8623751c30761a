package dom

// MutationType distinguishes structural changes from attribute changes.
type MutationType string

const (
	// MutationChildList marks nodes added to or removed from a parent.
	MutationChildList MutationType = "childList"
	// MutationAttributes marks an attribute (including class/style) change.
	MutationAttributes MutationType = "attributes"
)

// Mutation describes one observed document change.
type Mutation struct {
	Type          MutationType
	Target        *Node
	AttributeName string
}

// MutationListener receives document mutations. Listeners run synchronously on
// the mutating call; anything expensive must coalesce on its own schedule.
type MutationListener func(Mutation)

// ScrollListener receives scroll offset changes.
type ScrollListener func(x, y float64)

// Document owns a node tree plus the page-level state the engine reads:
// scroll offsets and mutation/scroll subscriptions.
type Document struct {
	root *Node

	scrollX float64
	scrollY float64

	nextListenerID    int64
	mutationListeners map[int64]MutationListener
	scrollListeners   map[int64]ScrollListener
}

// NewDocument returns a document with an empty body root.
func NewDocument() *Document {
	doc := &Document{
		mutationListeners: make(map[int64]MutationListener),
		scrollListeners:   make(map[int64]ScrollListener),
	}
	root := newNode("body")
	root.doc = doc
	doc.root = root
	return doc
}

// Root returns the document root element.
func (d *Document) Root() *Node {
	return d.root
}

// CreateElement returns a detached element owned by this document once attached.
func (d *Document) CreateElement(tag string) *Node {
	return newNode(tag)
}

// Scroll returns the current scroll offsets.
func (d *Document) Scroll() (x, y float64) {
	return d.scrollX, d.scrollY
}

// SetScroll updates scroll offsets and notifies scroll listeners.
func (d *Document) SetScroll(x, y float64) {
	d.scrollX = x
	d.scrollY = y
	for _, listener := range d.scrollListeners {
		listener(x, y)
	}
}

// OnMutation subscribes to document mutations; the returned func unsubscribes.
func (d *Document) OnMutation(listener MutationListener) (disconnect func()) {
	d.nextListenerID++
	id := d.nextListenerID
	d.mutationListeners[id] = listener
	return func() { delete(d.mutationListeners, id) }
}

// OnScroll subscribes to scroll changes; the returned func unsubscribes.
func (d *Document) OnScroll(listener ScrollListener) (disconnect func()) {
	d.nextListenerID++
	id := d.nextListenerID
	d.scrollListeners[id] = listener
	return func() { delete(d.scrollListeners, id) }
}

func (d *Document) notify(mutation Mutation) {
	for _, listener := range d.mutationListeners {
		listener(mutation)
	}
}

// GetElementByID returns the first element with the id, nil when absent.
func (d *Document) GetElementByID(id string) *Node {
	if id == "" {
		return nil
	}
	for _, node := range d.allElements() {
		if node.id == id {
			return node
		}
	}
	return nil
}

// ElementFromPoint returns the topmost visible element whose box contains the
// page point. Later siblings paint above earlier ones, children above parents,
// so the last match in document order wins. Elements flagged with
// data-pp-pointer-events="none" are skipped, mirroring the drop-time hit test
// that must see through the dragged marker.
func (d *Document) ElementFromPoint(p Point) *Node {
	var hit *Node
	for _, node := range d.allElements() {
		if !node.Visible() {
			continue
		}
		if node.Attr("data-pp-pointer-events") == "none" {
			continue
		}
		if node.rect.Contains(p) {
			hit = node
		}
	}
	return hit
}

func (d *Document) allElements() []*Node {
	return d.root.descendants(nil)
}
