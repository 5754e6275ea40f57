package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bfree-trainer/bfree/internal/backoff"
	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/oklog/ulid/v2"
)

// EventKind identifies an outbound session event
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventConnected
	EventRetrying
	EventBattery
	EventMeasurement
	EventFailed
	EventDisconnected
)

var eventNames = [...]string{
	EventStateChanged: "state_changed",
	EventConnected:    "connected",
	EventRetrying:     "retrying",
	EventBattery:      "battery",
	EventMeasurement:  "measurement",
	EventFailed:       "failed",
	EventDisconnected: "disconnected",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(k))
	}
	return eventNames[k]
}

// Event is published on the session's outbound stream. Role, PairingID,
// State, Device, Battery and Time are always set; the rest depends on Kind.
type Event struct {
	Kind      EventKind
	Role      string
	PairingID ulid.ULID
	State     State
	Previous  State // EventStateChanged
	Device    *device.Handle
	Battery   int
	Time      time.Time

	Link    *Link         // EventConnected
	Backoff backoff.State // EventRetrying
	Intent  Intent        // EventMeasurement
	Value   []byte        // EventMeasurement
	Err     error         // EventFailed, EventRetrying
}

// Link gives the session owner access to the live channel for control
// commands. It stops working once the channel is torn down; a new Link is
// handed out on every reconnect.
type Link struct {
	role string
	ch   device.Channel
	ctx  context.Context
}

// Device returns the connected device
func (l *Link) Device() *device.Handle {
	return l.ch.Handle()
}

// Done is closed when the link is torn down
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Context is cancelled when the link is torn down
func (l *Link) Context() context.Context {
	return l.ctx
}

// Write sends a control command on the live channel
func (l *Link) Write(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error {
	if l.ctx.Err() != nil {
		return fmt.Errorf("%s link closed: %w", l.role, device.ErrNotConnected)
	}
	return l.ch.Write(ctx, service, characteristic, data, withResponse)
}

// Read reads a characteristic once on the live channel
func (l *Link) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	if l.ctx.Err() != nil {
		return nil, fmt.Errorf("%s link closed: %w", l.role, device.ErrNotConnected)
	}
	return l.ch.Read(ctx, service, characteristic)
}

// outbox queues events so the actor never blocks on a slow consumer.
// Events are forwarded to out in push order; out is closed after close
// once the queue is drained.
type outbox struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	signal chan struct{}
	out    chan Event
}

func newOutbox(buffer int) *outbox {
	return &outbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
	}
}

func (o *outbox) push(ev Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, ev)
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) pump(context.Context) {
	defer close(o.out)
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			<-o.signal
			continue
		}
		ev := o.queue[0]
		o.queue[0] = Event{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.out <- ev
	}
}
