// Package session runs the lifecycle of one sensor role: discovery, link
// establishment with backoff, subscription replay, and reconnection after
// link loss.
//
// Each Session is an actor. A single goroutine owns the session's mutable
// state and handles one message at a time from its inbox: pair and unpair
// requests, results from the blocking worker, link-loss signals and
// characteristic values. Blocking I/O never runs on the actor goroutine; at
// most one cancellable worker runs per session and posts its result back.
//
// Every channel the session opens gets its own generation. Values and
// disconnect signals carry the generation they were produced under and are
// dropped when it is no longer current, so nothing from a torn-down channel
// reaches the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bfree-trainer/bfree/internal/backoff"
	"github.com/bfree-trainer/bfree/internal/decode"
	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/groutine"
	"github.com/bfree-trainer/bfree/internal/link"
	"github.com/bfree-trainer/bfree/internal/notify"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	inboxSize   = 32
	eventBuffer = 64
)

// Config wires a Session to the platform
type Config struct {
	Role       string
	Discoverer device.Discoverer
	Opener     device.Opener

	// Multiplexer may be shared between sessions; nil creates a private one
	Multiplexer *notify.Multiplexer

	// Sleeper drives backoff waits; nil waits on the real clock
	Sleeper backoff.Sleeper

	// BaseDelay <= 0 selects backoff.DefaultBaseDelay
	BaseDelay time.Duration

	// MaxAttempts is the number of retries after the first connect attempt;
	// 0 selects backoff.DefaultMaxAttempts
	MaxAttempts uint

	Logger *logrus.Logger
}

type message interface{}

type pairMsg struct {
	ctx   context.Context
	req   Request
	reply chan error
}

type unpairMsg struct {
	reply chan struct{}
}

type discoveredMsg struct {
	gen    uint64
	handle *device.Handle
	err    error
}

type retryMsg struct {
	gen   uint64
	state backoff.State
	err   error
}

type establishedMsg struct {
	gen uint64
	ch  device.Channel
	err error
}

type subscribedMsg struct {
	gen         uint64
	unsupported []Intent
	err         error
}

type disconnectedMsg struct {
	gen uint64
}

type valueMsg struct {
	gen    uint64
	intent Intent
	value  []byte
}

// worker is the single in-flight blocking operation of a session
type worker struct {
	gen    uint64
	cancel context.CancelFunc
	done   <-chan struct{}
}

// connection is one channel generation
type connection struct {
	gen    uint64
	ch     device.Channel
	ctx    context.Context
	cancel context.CancelFunc
	link   *Link
}

// Session manages one role's device
type Session struct {
	role        string
	discoverer  device.Discoverer
	establisher *link.Establisher
	mux         *notify.Multiplexer
	baseDelay   time.Duration
	maxAttempts uint
	logger      *logrus.Logger

	inbox  chan message
	outbox *outbox
	record atomic.Pointer[Record]

	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}

	// owned by the actor goroutine
	rec     Record
	seq     uint64
	work    *worker
	conn    *connection
	waiters []chan error
	pairCtx context.Context
}

// New creates a Session in Idle and starts its actor
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	mux := cfg.Multiplexer
	if mux == nil {
		mux = notify.New(logger)
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = backoff.DefaultBaseDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = backoff.DefaultMaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		role:        cfg.Role,
		discoverer:  cfg.Discoverer,
		establisher: link.NewEstablisher(cfg.Opener, cfg.Sleeper, logger),
		mux:         mux,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
		inbox:       make(chan message, inboxSize),
		outbox:      newOutbox(eventBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.rec = Record{
		Role:      cfg.Role,
		State:     Idle,
		Backoff:   backoff.NewState(baseDelay, maxAttempts),
		Battery:   BatteryUnknown,
		UpdatedAt: time.Now(),
	}
	s.publish()

	groutine.Go(context.Background(), "session-"+s.role+"-events", s.outbox.pump)
	s.done = groutine.Go(ctx, "session-"+s.role, s.run)
	return s
}

// Role returns the role name
func (s *Session) Role() string {
	return s.role
}

// Pair discovers a device matching req.Filter, connects and subscribes the
// battery level plus req.Intents. It blocks until the session is Connected
// (nil) or the pairing failed. A pairing already in progress or connected is
// unpaired first and its Pair call returns ErrUnpaired.
//
// ctx bounds the pairing only; once Connected, reconnects are not tied to it.
func (s *Session) Pair(ctx context.Context, req Request) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, pairMsg{ctx: ctx, req: req, reply: reply}); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return closedReply(reply)
	case <-ctx.Done():
		// The actor aborts the pairing on its own; wait for it to settle
		select {
		case err := <-reply:
			return err
		case <-s.done:
			return closedReply(reply)
		}
	}
}

// closedReply reads the reply of a Pair once the actor has stopped. An empty
// reply means the request was still queued when the actor exited.
func closedReply(reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRejected, ErrClosed)
	}
}

// Unpair tears down the device, interrupting any backoff wait or connect
// attempt. When it returns no listener callback from the old channel runs.
func (s *Session) Unpair(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, unpairMsg{reply: reply}); err != nil {
		return err
	}

	select {
	case <-reply:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest snapshot
func (s *Session) Status() Record {
	return s.record.Load().clone()
}

// Events returns the outbound event stream. It is closed after Close.
// Consumers must keep reading; events are queued, never dropped.
func (s *Session) Events() <-chan Event {
	return s.outbox.out
}

// Close unpairs and stops the actor. It is safe to call more than once.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Session) send(ctx context.Context, msg message) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a message from a worker or callback. It gives up when ctx
// ends so teardown never waits on a full inbox.
func (s *Session) post(ctx context.Context, msg message) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.outbox.close()
	defer s.shutdown()

	s.log().Debug("Session started")
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg message) {
	switch m := msg.(type) {
	case pairMsg:
		s.onPair(m)
	case unpairMsg:
		s.onUnpair(m)
	case discoveredMsg:
		s.onDiscovered(m)
	case retryMsg:
		s.onRetry(m)
	case establishedMsg:
		s.onEstablished(m)
	case subscribedMsg:
		s.onSubscribed(m)
	case disconnectedMsg:
		s.onDisconnected(m)
	case valueMsg:
		s.onValue(m)
	default:
		s.log().WithField("message", fmt.Sprintf("%T", msg)).Warn("Unknown session message")
	}
}

func (s *Session) onPair(m pairMsg) {
	if s.rec.State.Active() {
		s.log().Info("Pair requested while active, unpairing current device first")
		s.reset(Unpaired, ErrUnpaired)
	}

	id := m.req.ID
	if id == (ulid.ULID{}) {
		id = ulid.Make()
	}

	s.pairCtx = m.ctx
	s.waiters = append(s.waiters, m.reply)
	s.rec.PairingID = id
	s.rec.Device = nil
	s.rec.Intents = mergeIntents(m.req.Intents)
	s.rec.Unsupported = nil
	s.rec.Battery = BatteryUnknown
	s.rec.LastError = nil
	s.rec.Backoff = backoff.NewState(s.baseDelay, s.maxAttempts)
	s.transition(Discovering)

	filter := m.req.Filter
	s.startWorker("discover", func(ctx context.Context, gen uint64) message {
		handle, err := s.discoverer.Discover(ctx, filter)
		return discoveredMsg{gen: gen, handle: handle, err: err}
	})
}

func (s *Session) onUnpair(m unpairMsg) {
	if s.rec.State.Active() {
		s.log().Info("Unpairing")
		s.reset(Unpaired, ErrUnpaired)
	} else if s.rec.State != Unpaired {
		s.transition(Unpaired)
	}
	m.reply <- struct{}{}
}

func (s *Session) onDiscovered(m discoveredMsg) {
	if !s.current(m.gen) {
		return
	}
	s.finishWorker()

	if m.err != nil {
		s.fail(Idle, "discover", m.err)
		return
	}
	if s.pairCancelled() {
		s.abortPairing()
		return
	}

	s.rec.Device = m.handle
	s.log().WithField("device", m.handle.DisplayName()).Info("Device found")
	s.transition(Establishing)
	s.startEstablish()
}

func (s *Session) onRetry(m retryMsg) {
	if !s.current(m.gen) {
		return
	}
	s.rec.Backoff = m.state
	s.rec.LastError = m.err
	s.publish()
	s.emit(Event{Kind: EventRetrying, Backoff: m.state, Err: m.err})
}

func (s *Session) onEstablished(m establishedMsg) {
	if !s.current(m.gen) {
		if m.ch != nil {
			_ = m.ch.Close()
		}
		return
	}
	s.finishWorker()

	if m.err != nil {
		switch {
		case s.pairCancelled():
			s.abortPairing()
		case s.rec.State == Reconnecting:
			s.fail(Abandoned, "reconnect", m.err)
		default:
			s.fail(Idle, "connect", m.err)
		}
		return
	}
	if s.pairCancelled() {
		_ = m.ch.Close()
		s.abortPairing()
		return
	}

	s.rec.Backoff.Reset()
	s.attach(m.ch)
	s.transition(Subscribing)
	s.startSubscribe()
}

func (s *Session) onSubscribed(m subscribedMsg) {
	if !s.current(m.gen) {
		return
	}
	s.finishWorker()

	if s.pairCancelled() {
		s.abortPairing()
		return
	}
	if m.err != nil {
		s.log().WithField("error", m.err).Warn("Subscription replay failed, reconnecting")
		s.reconnect()
		return
	}

	s.rec.Unsupported = m.unsupported
	s.pairCtx = nil
	s.transition(Connected)
	s.emit(Event{Kind: EventConnected, Link: s.conn.link})
	s.resolve(nil)
}

func (s *Session) onDisconnected(m disconnectedMsg) {
	if s.conn == nil || s.conn.gen != m.gen {
		return
	}
	s.log().Warn("Link lost, reconnecting")
	s.reconnect()
}

func (s *Session) onValue(m valueMsg) {
	if s.conn == nil || s.conn.gen != m.gen {
		return
	}

	if m.intent == BatteryIntent {
		level, err := decode.Battery(m.value)
		if err != nil {
			s.log().WithField("error", err).Debug("Dropping battery value")
			return
		}
		s.rec.Battery = level.(int)
		s.publish()
		s.emit(Event{Kind: EventBattery})
		return
	}
	s.emit(Event{Kind: EventMeasurement, Intent: m.intent, Value: m.value})
}

// current reports whether gen belongs to the running worker
func (s *Session) current(gen uint64) bool {
	return s.work != nil && s.work.gen == gen
}

func (s *Session) pairCancelled() bool {
	return s.pairCtx != nil && s.pairCtx.Err() != nil
}

func (s *Session) abortPairing() {
	s.fail(Idle, "pair", fmt.Errorf("%w: %v", ErrPairingCancelled, s.pairCtx.Err()))
}

// startWorker runs fn in the background and posts its result to the inbox.
// Workers started before the first Connected are also bound to the Pair
// context.
func (s *Session) startWorker(name string, fn func(ctx context.Context, gen uint64) message) {
	s.seq++
	gen := s.seq

	// stopCtx is cancelled only by the actor; the result is still posted
	// when the Pair context alone interrupts the work.
	stopCtx, stop := context.WithCancel(s.ctx)
	workCtx, cancelWork := context.WithCancel(stopCtx)
	unbind := func() bool { return false }
	if s.pairCtx != nil {
		unbind = context.AfterFunc(s.pairCtx, cancelWork)
	}

	done := groutine.Go(workCtx, "session-"+s.role+"-"+name, func(ctx context.Context) {
		defer cancelWork()
		defer unbind()
		msg := fn(ctx, gen)
		if !s.post(stopCtx, msg) {
			release(msg)
		}
	})
	s.work = &worker{gen: gen, cancel: stop, done: done}
}

// finishWorker reaps a worker whose result has been received
func (s *Session) finishWorker() {
	if s.work == nil {
		return
	}
	s.work.cancel()
	<-s.work.done
	s.work = nil
}

// stopWorker interrupts the running worker and waits for it
func (s *Session) stopWorker() {
	s.finishWorker()
}

// release frees resources carried by a message nobody will handle
func release(msg message) {
	if m, ok := msg.(establishedMsg); ok && m.ch != nil {
		_ = m.ch.Close()
	}
}

func (s *Session) startEstablish() {
	handle := s.rec.Device
	s.startWorker("establish", func(ctx context.Context, gen uint64) message {
		ch, err := s.establisher.Establish(ctx, handle, s.baseDelay, s.maxAttempts, func(state backoff.State, cause error) {
			s.post(ctx, retryMsg{gen: gen, state: state, err: cause})
		})
		return establishedMsg{gen: gen, ch: ch, err: err}
	})
}

func (s *Session) startSubscribe() {
	conn := s.conn
	intents := append([]Intent(nil), s.rec.Intents...)

	s.startWorker("subscribe", func(ctx context.Context, gen uint64) message {
		var unsupported []Intent
		for _, intent := range intents {
			_, err := s.mux.Subscribe(ctx, conn.ch, intent.Service, intent.Characteristic, s.listener(conn, intent))
			switch {
			case err == nil:
			case errors.Is(err, device.ErrUnsupported):
				unsupported = append(unsupported, intent)
			default:
				return subscribedMsg{gen: gen, err: fmt.Errorf("subscribe %s: %w", intent, err)}
			}
		}
		s.logger.WithFields(logrus.Fields{
			"role":          s.role,
			"subscriptions": len(s.mux.Active(conn.ch)),
			"unsupported":   len(unsupported),
		}).Debug("Subscriptions replayed")
		return subscribedMsg{gen: gen, unsupported: unsupported}
	})
}

// listener routes values of one intent into the actor
func (s *Session) listener(conn *connection, intent Intent) notify.Listener {
	return func(value []byte) {
		s.post(conn.ctx, valueMsg{gen: conn.gen, intent: intent, value: value})
	}
}

// attach makes ch the live channel under a new generation
func (s *Session) attach(ch device.Channel) {
	s.seq++
	ctx, cancel := context.WithCancel(s.ctx)
	conn := &connection{gen: s.seq, ch: ch, ctx: ctx, cancel: cancel}
	conn.link = &Link{role: s.role, ch: ch, ctx: ctx}
	s.conn = conn

	groutine.Go(ctx, "session-"+s.role+"-watch", func(ctx context.Context) {
		select {
		case <-ch.Disconnected():
			s.post(ctx, disconnectedMsg{gen: conn.gen})
		case <-ctx.Done():
		}
	})
}

// teardown stops the worker and discards the live channel. Order matters:
// the generation is cancelled first so pending callbacks give up, then the
// subscriptions are removed, then the channel is closed.
func (s *Session) teardown() {
	conn := s.conn
	s.conn = nil
	if conn != nil {
		conn.cancel()
	}

	s.stopWorker()

	if conn == nil {
		return
	}
	if err := s.mux.UnsubscribeAll(conn.ch); err != nil {
		s.log().WithField("error", err).Warn("Failed to unsubscribe all characteristics")
	}
	if err := conn.ch.Close(); err != nil {
		s.log().WithField("error", err).Debug("Channel close failed")
	}
}

// reconnect replaces the live channel with a new one to the same device
func (s *Session) reconnect() {
	s.teardown()
	s.rec.Backoff = backoff.NewState(s.baseDelay, s.maxAttempts)
	s.transition(Reconnecting)
	s.startEstablish()
}

// fail reports cause and moves to next
func (s *Session) fail(next State, op string, cause error) {
	err := &Error{Role: s.role, Op: op, Err: cause}
	s.rec.LastError = err
	s.log().WithFields(logrus.Fields{
		"op":    op,
		"error": cause,
		"next":  next,
	}).Warn("Session failed")
	s.emit(Event{Kind: EventFailed, Err: err})
	s.reset(next, err)
}

// reset tears everything down and forgets the device. Entering Abandoned or
// Unpaired from an active state emits EventDisconnected.
func (s *Session) reset(next State, cause error) {
	wasActive := s.rec.State.Active()

	s.teardown()
	s.pairCtx = nil
	s.rec.Device = nil
	s.rec.Battery = BatteryUnknown
	s.rec.Unsupported = nil
	s.rec.Backoff = backoff.NewState(s.baseDelay, s.maxAttempts)
	s.resolve(cause)
	s.transition(next)

	if wasActive && (next == Abandoned || next == Unpaired) {
		s.emit(Event{Kind: EventDisconnected})
	}
}

// resolve answers every pending Pair call
func (s *Session) resolve(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Session) transition(next State) {
	prev := s.rec.State
	s.rec.State = next
	s.rec.UpdatedAt = time.Now()
	s.publish()

	if prev == next {
		return
	}
	s.log().WithField("from", prev).Info("State changed")
	s.emit(Event{Kind: EventStateChanged, Previous: prev})
}

func (s *Session) publish() {
	rec := s.rec.clone()
	s.record.Store(&rec)
}

func (s *Session) emit(ev Event) {
	ev.Role = s.role
	ev.PairingID = s.rec.PairingID
	ev.State = s.rec.State
	ev.Battery = s.rec.Battery
	ev.Time = time.Now()
	if s.rec.Device != nil {
		h := *s.rec.Device
		ev.Device = &h
	}
	s.outbox.push(ev)
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"role":  s.role,
		"state": s.rec.State,
	})
}

// shutdown runs on the actor goroutine after its context ends
func (s *Session) shutdown() {
	if s.rec.State.Active() {
		s.reset(Unpaired, ErrClosed)
	}
	s.resolve(ErrClosed)

	for {
		select {
		case msg := <-s.inbox:
			switch m := msg.(type) {
			case pairMsg:
				m.reply <- fmt.Errorf("%w: %w", ErrRejected, ErrClosed)
			case unpairMsg:
				m.reply <- struct{}{}
			default:
				release(msg)
			}
		default:
			s.log().Debug("Session stopped")
			return
		}
	}
}
