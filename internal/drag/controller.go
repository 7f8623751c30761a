// Package drag implements manual marker repositioning. The same pointer
// gesture means two different things: a press-and-release within the movement
// threshold opens the thread, anything farther is a drag that ends in a
// reposition request.
package drag

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/pinpoint-labs/pinpoint/internal/anchor"
	"github.com/pinpoint-labs/pinpoint/internal/dom"
)

// DefaultThreshold is the total pointer movement, in page pixels, separating
// a click from a drag.
const DefaultThreshold = 5.0

const pointerEventsAttr = "data-pp-pointer-events"

var (
	errMissingDocument = errors.New("document is required")
	noOpLogger         = zap.NewNop()
)

// State is the controller's gesture phase.
type State int

const (
	// StateIdle means no pointer interaction is in progress.
	StateIdle State = iota
	// StatePotentialDrag means the pointer is down but under the threshold.
	StatePotentialDrag
	// StateDragging means the marker is following the pointer.
	StateDragging
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Document  *dom.Document
	Threshold float64
	Logger    *zap.Logger
	// OnOpenThread fires for a sub-threshold press-and-release.
	OnOpenThread func(threadID string)
	// OnReposition fires on drop with the freshly derived anchor. Selector and
	// coordinates are superseded together; the receiver must submit them as
	// one atomic update.
	OnReposition func(threadID string, a anchor.Anchor)
}

// Controller runs the Idle → PotentialDrag → Dragging gesture machine.
type Controller struct {
	doc          *dom.Document
	threshold    float64
	logger       *zap.Logger
	onOpenThread func(string)
	onReposition func(string, anchor.Anchor)

	state      State
	threadID   string
	marker     *dom.Node
	start      dom.Point
	grabOffset dom.Point
}

// NewController validates the config and returns an idle controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Document == nil {
		return nil, errMissingDocument
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Controller{
		doc:          cfg.Document,
		threshold:    threshold,
		logger:       logger,
		onOpenThread: cfg.OnOpenThread,
		onReposition: cfg.OnReposition,
	}, nil
}

// State returns the current gesture phase.
func (c *Controller) State() State {
	return c.state
}

// PointerDown begins a gesture on the thread's marker. The grab offset keeps
// the marker from jumping to center on the cursor once dragging starts.
func (c *Controller) PointerDown(threadID string, marker *dom.Node, pointer dom.Point) {
	if c.state != StateIdle || marker == nil {
		return
	}
	rect := marker.Rect()
	c.state = StatePotentialDrag
	c.threadID = threadID
	c.marker = marker
	c.start = pointer
	c.grabOffset = dom.Point{X: pointer.X - rect.X, Y: pointer.Y - rect.Y}
}

// PointerMove advances the gesture. Below the threshold nothing moves; past
// it the marker tracks the pointer exactly, offset by the initial grab point.
func (c *Controller) PointerMove(pointer dom.Point) {
	switch c.state {
	case StatePotentialDrag:
		if distance(c.start, pointer) <= c.threshold {
			return
		}
		c.state = StateDragging
		c.moveMarker(pointer)
	case StateDragging:
		c.moveMarker(pointer)
	}
}

// PointerUp ends the gesture: a click opens the thread, a drag derives a new
// anchor from whatever now sits under the drop point and emits a reposition.
func (c *Controller) PointerUp(pointer dom.Point) {
	state := c.state
	threadID := c.threadID
	marker := c.marker
	c.reset()

	switch state {
	case StatePotentialDrag:
		if c.onOpenThread != nil {
			c.onOpenThread(threadID)
		}
	case StateDragging:
		c.finishDrag(threadID, marker, pointer)
	}
}

// Cancel aborts any gesture in progress without emitting anything.
func (c *Controller) Cancel() {
	c.reset()
}

func (c *Controller) finishDrag(threadID string, marker *dom.Node, drop dom.Point) {
	// The marker itself sits under the pointer; make it transparent to the
	// hit test so the element underneath is found instead.
	restore := marker.Attr(pointerEventsAttr)
	marker.SetAttr(pointerEventsAttr, "none")
	target := c.doc.ElementFromPoint(drop)
	marker.SetAttr(pointerEventsAttr, restore)

	a := anchor.Anchor{Coordinates: &dom.Point{X: drop.X, Y: drop.Y}}
	if target != nil {
		a.Selector = anchor.BuildSelector(target)
	}

	c.logger.Debug("marker dropped",
		zap.String("thread_id", threadID),
		zap.String("selector", a.Selector),
		zap.Float64("x", drop.X),
		zap.Float64("y", drop.Y))

	if c.onReposition != nil {
		c.onReposition(threadID, a)
	}
}

func (c *Controller) moveMarker(pointer dom.Point) {
	rect := c.marker.Rect()
	rect.X = pointer.X - c.grabOffset.X
	rect.Y = pointer.Y - c.grabOffset.Y
	c.marker.SetRect(rect)
}

func (c *Controller) reset() {
	c.state = StateIdle
	c.threadID = ""
	c.marker = nil
}

func distance(from, to dom.Point) float64 {
	return math.Hypot(to.X-from.X, to.Y-from.Y)
}
