package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/groutine"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the per-characteristic delivery buffer
const DefaultQueueSize = 128

// Listener receives raw characteristic values in arrival order
type Listener func(value []byte)

// Subscription is one characteristic subscribed on one channel
type Subscription struct {
	Service        string
	Characteristic string

	// Static is set when the characteristic could be read but does not
	// support notifications; only the initial value is delivered.
	Static bool

	listener  Listener
	queue     chan []byte
	delivered atomic.Uint64
	ctx       context.Context
}

// Delivered returns how many values reached the listener
func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// channelSubscriptions holds every subscription of one channel
type channelSubscriptions struct {
	subs   []*Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Multiplexer subscribes characteristics on channels and redelivers values
// to listeners. It never decodes values.
type Multiplexer struct {
	mu        sync.Mutex
	channels  map[device.Channel]*channelSubscriptions
	queueSize int
	logger    *logrus.Logger
}

// New creates a Multiplexer
func New(logger *logrus.Logger) *Multiplexer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Multiplexer{
		channels:  make(map[device.Channel]*channelSubscriptions),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
}

// entry returns the subscription set for ch, creating it if needed
func (m *Multiplexer) entry(ch device.Channel) *channelSubscriptions {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.channels[ch]
	if !ok {
		cs = &channelSubscriptions{}
		cs.ctx, cs.cancel = context.WithCancel(context.Background())
		m.channels[ch] = cs
	}
	return cs
}

// Subscribe reads the current value of a characteristic once, hands it to the
// listener, then enables push delivery. The returned error wraps
// device.ErrUnsupported when the peripheral lacks the characteristic; callers
// are expected to carry on without it.
func (m *Multiplexer) Subscribe(ctx context.Context, ch device.Channel, service, characteristic string, listener Listener) (*Subscription, error) {
	if ch == nil {
		return nil, device.ErrNotConnected
	}
	if listener == nil {
		return nil, fmt.Errorf("no listener for characteristic %s", characteristic)
	}

	cs := m.entry(ch)
	log := m.logger.WithFields(logrus.Fields{
		"service":        service,
		"characteristic": characteristic,
	})

	sub := &Subscription{
		Service:        device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(characteristic),
		listener:       listener,
		queue:          make(chan []byte, m.queueSize),
		ctx:            cs.ctx,
	}

	initial, readErr := ch.Read(ctx, service, characteristic)
	if readErr != nil && !errors.Is(readErr, device.ErrUnsupported) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithField("error", readErr).Warn("Initial read failed, waiting for notifications")
	}

	// The queue is still empty, so the initial value is always delivered
	// ahead of the first push.
	if readErr == nil {
		sub.queue <- copyValue(initial)
	}

	subErr := ch.Subscribe(service, characteristic, sub.enqueue)
	if subErr != nil {
		switch {
		case !errors.Is(subErr, device.ErrUnsupported):
			return nil, fmt.Errorf("subscribe %s: %w", characteristic, subErr)
		case readErr != nil:
			log.Debug("Characteristic not supported by device")
			return nil, fmt.Errorf("characteristic %s: %w", characteristic, subErr)
		default:
			sub.Static = true
		}
	}

	m.mu.Lock()
	if m.channels[ch] != cs {
		m.mu.Unlock()
		// UnsubscribeAll ran while we were talking to the device
		if subErr == nil {
			_ = ch.Unsubscribe(service, characteristic)
		}
		return nil, device.ErrNotConnected
	}
	cs.subs = append(cs.subs, sub)
	cs.wg.Add(1)
	m.mu.Unlock()

	groutine.Go(cs.ctx, "notify-"+sub.Characteristic, func(ctx context.Context) {
		defer cs.wg.Done()
		m.deliver(ctx, sub)
	})

	log.WithField("static", sub.Static).Debug("Subscribed")
	return sub, nil
}

// enqueue is the platform notification handler
func (s *Subscription) enqueue(data []byte) {
	select {
	case s.queue <- copyValue(data):
	case <-s.ctx.Done():
	}
}

// copyValue detaches a value from a buffer the platform may reuse
func copyValue(data []byte) []byte {
	value := make([]byte, len(data))
	copy(value, data)
	return value
}

// deliver invokes the listener for each queued value until ctx is cancelled
func (m *Multiplexer) deliver(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-sub.queue:
			if ctx.Err() != nil {
				return
			}
			m.invoke(ctx, sub, v)
			sub.delivered.Add(1)
		}
	}
}

// invoke runs the listener once; a panic drops only the current value
func (m *Multiplexer) invoke(ctx context.Context, sub *Subscription, v []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"panic":          r,
				"characteristic": sub.Characteristic,
				"goroutine":      groutine.Name(ctx),
			}).Error("Notification listener panicked")
		}
	}()
	sub.listener(v)
}

// UnsubscribeAll cancels every subscription on ch and waits until no listener
// is running. It is idempotent and safe on a closed channel.
func (m *Multiplexer) UnsubscribeAll(ch device.Channel) error {
	m.mu.Lock()
	cs, ok := m.channels[ch]
	if ok {
		delete(m.channels, ch)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	cs.cancel()

	var errs []error
	for _, sub := range cs.subs {
		if sub.Static {
			continue
		}
		if err := ch.Unsubscribe(sub.Service, sub.Characteristic); err != nil {
			if device.IsConnectionState(err, device.NotConnected) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", sub.Characteristic, err))
		}
	}

	cs.wg.Wait()

	m.logger.WithField("subscriptions", len(cs.subs)).Debug("Unsubscribed all characteristics")
	return errors.Join(errs...)
}

// Active returns the subscriptions currently registered for ch
func (m *Multiplexer) Active(ch device.Channel) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.channels[ch]
	if !ok {
		return nil
	}
	result := make([]*Subscription, len(cs.subs))
	copy(result, cs.subs)
	return result
}
