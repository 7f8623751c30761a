package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBufferSize = 16

// Dispatcher fans events out to room subscribers. A subscriber that cannot
// keep up loses events rather than blocking the publisher; clients recover by
// reloading, so delivery here is best-effort by design of the protocol.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	logger      *zap.Logger
}

type subscriber struct {
	id     int64
	rooms  map[string]struct{}
	stream chan Event
}

// NewDispatcher constructs an empty Dispatcher. A nil logger disables logging.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers for events on the given rooms until ctx is done or the
// returned cleanup runs. Subscribing with no rooms yields a closed stream.
func (d *Dispatcher) Subscribe(ctx context.Context, rooms []string) (<-chan Event, func()) {
	if len(rooms) == 0 {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		rooms:  make(map[string]struct{}, len(rooms)),
		stream: make(chan Event, subscriberBufferSize),
	}
	for _, room := range rooms {
		if room != "" {
			sub.rooms[room] = struct{}{}
		}
	}
	d.register(sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(sub) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish sends an event to every subscriber of the room. It satisfies the
// thread service's EventPublisher dependency.
func (d *Dispatcher) Publish(room, op string, data any) {
	if room == "" || op == "" {
		return
	}
	event, err := NewEvent(room, op, data)
	if err != nil {
		d.logger.Error("realtime event encode failed",
			zap.String("room", room),
			zap.String("op", op),
			zap.Error(err),
		)
		return
	}

	d.mu.RLock()
	members := d.subscribers[room]
	if len(members) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(members))
	for _, member := range members {
		copies = append(copies, member)
	}
	d.mu.RUnlock()

	for _, member := range copies {
		select {
		case member.stream <- event:
		default:
			d.logger.Warn("realtime subscriber lagging, event dropped",
				zap.String("room", room),
				zap.String("op", op),
				zap.Int64("subscriber_id", member.id),
			)
		}
	}
}

// SubscriberCount reports how many subscribers a room currently has.
func (d *Dispatcher) SubscriberCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[room])
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	for room := range sub.rooms {
		if _, ok := d.subscribers[room]; !ok {
			d.subscribers[room] = make(map[int64]*subscriber)
		}
		d.subscribers[room][sub.id] = sub
	}
}

func (d *Dispatcher) unregister(sub *subscriber) {
	d.mu.Lock()
	for room := range sub.rooms {
		members := d.subscribers[room]
		if members != nil {
			delete(members, sub.id)
			if len(members) == 0 {
				delete(d.subscribers, room)
			}
		}
	}
	d.mu.Unlock()
}
