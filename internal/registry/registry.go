// Package registry keeps one session per sensor role and mirrors their
// events into the UI-facing store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bfree-trainer/bfree/internal/backoff"
	"github.com/bfree-trainer/bfree/internal/decode"
	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/groutine"
	"github.com/bfree-trainer/bfree/internal/notify"
	"github.com/bfree-trainer/bfree/internal/session"
	"github.com/bfree-trainer/bfree/internal/store"
	"github.com/cornelk/hashmap"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Characteristic is a characteristic to keep subscribed, with an optional
// decoder for its values. Values are stored raw when Decode is nil.
type Characteristic struct {
	Service        string
	Characteristic string
	Decode         decode.Func
}

// PairOptions configures one pairing of a role
type PairOptions struct {
	Filter          device.Filter
	Characteristics []Characteristic

	// OnConnect runs on every transition into Connected, reconnects
	// included. ctx ends with the link. An error is reported in the role's
	// status and does not drop the link.
	OnConnect func(ctx context.Context, link *session.Link) error

	// OnDisconnect runs once the pairing is abandoned or unpaired
	OnDisconnect func(role string)
}

func (o *PairOptions) intents() []session.Intent {
	intents := make([]session.Intent, 0, len(o.Characteristics))
	for _, c := range o.Characteristics {
		intents = append(intents, session.NewIntent(c.Service, c.Characteristic))
	}
	return intents
}

func (o *PairOptions) decoder(intent session.Intent) decode.Func {
	for _, c := range o.Characteristics {
		if session.NewIntent(c.Service, c.Characteristic) == intent {
			return c.Decode
		}
	}
	return nil
}

// Config wires a Registry to the platform and the store
type Config struct {
	Discoverer device.Discoverer
	Opener     device.Opener

	// Store receives role state; nil keeps it in a private MemoryStore
	Store store.Store

	Sleeper     backoff.Sleeper
	BaseDelay   time.Duration
	MaxAttempts uint
	Logger      *logrus.Logger
}

// ErrClosed is returned by Pair after Close
var ErrClosed = errors.New("registry closed")

// entry is the session of one role plus the options of its pairings
type entry struct {
	session *session.Session
	adapter <-chan struct{}

	mu       sync.Mutex
	pairings map[ulid.ULID]*PairOptions
}

func (e *entry) options(id ulid.ULID) *PairOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairings[id]
}

func (e *entry) setOptions(id ulid.ULID, opts *PairOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairings[id] = opts
}

func (e *entry) takeOptions(id ulid.ULID) *PairOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	opts := e.pairings[id]
	delete(e.pairings, id)
	return opts
}

// Registry owns one independent session per role
type Registry struct {
	cfg    Config
	store  store.Store
	mux    *notify.Multiplexer
	logger *logrus.Logger

	entries *hashmap.Map[string, *entry]
	mu      sync.Mutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an empty Registry; sessions are created on first Pair
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	st := cfg.Store
	if st == nil {
		st = store.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:     cfg,
		store:   st,
		mux:     notify.New(logger),
		logger:  logger,
		entries: hashmap.New[string, *entry](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Store returns the store role state is written to
func (r *Registry) Store() store.Store {
	return r.store
}

func (r *Registry) entry(role string) (*entry, error) {
	if e, ok := r.entries.Get(role); ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if e, ok := r.entries.Get(role); ok {
		return e, nil
	}

	s := session.New(session.Config{
		Role:        role,
		Discoverer:  r.cfg.Discoverer,
		Opener:      r.cfg.Opener,
		Multiplexer: r.mux,
		Sleeper:     r.cfg.Sleeper,
		BaseDelay:   r.cfg.BaseDelay,
		MaxAttempts: r.cfg.MaxAttempts,
		Logger:      r.logger,
	})
	e := &entry{session: s, pairings: make(map[ulid.ULID]*PairOptions)}
	a := &adapter{role: role, entry: e, store: r.store, logger: r.logger}
	e.adapter = groutine.Go(r.ctx, "registry-"+role, a.run)

	r.entries.Set(role, e)
	r.logger.WithField("role", role).Debug("Session created")
	return e, nil
}

// Pair pairs role with a device matching opts.Filter. It blocks until the
// role is Connected or the pairing failed. A role already paired is
// unpaired first; roles never affect each other.
func (r *Registry) Pair(ctx context.Context, role string, opts PairOptions) error {
	if role == "" {
		return fmt.Errorf("role name is required")
	}
	e, err := r.entry(role)
	if err != nil {
		return err
	}

	id := ulid.Make()
	e.setOptions(id, &opts)

	err = e.session.Pair(ctx, session.Request{ID: id, Filter: opts.Filter, Intents: opts.intents()})
	if errors.Is(err, session.ErrRejected) {
		// never started, so no event will release the options
		e.takeOptions(id)
	}
	return err
}

// Unpair disconnects role. Unknown roles are a no-op.
func (r *Registry) Unpair(ctx context.Context, role string) error {
	e, ok := r.entries.Get(role)
	if !ok {
		return nil
	}
	return e.session.Unpair(ctx)
}

// Status returns the latest snapshot of role
func (r *Registry) Status(role string) (session.Record, bool) {
	e, ok := r.entries.Get(role)
	if !ok {
		return session.Record{}, false
	}
	return e.session.Status(), true
}

// Roles lists the roles with a session, sorted by name
func (r *Registry) Roles() []string {
	roles := make([]string, 0, r.entries.Len())
	r.entries.Range(func(role string, _ *entry) bool {
		roles = append(roles, role)
		return true
	})
	sort.Strings(roles)
	return roles
}

// Close unpairs every role and waits until their events are written to the store
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var wg sync.WaitGroup
	r.entries.Range(func(_ string, e *entry) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.session.Close()
			<-e.adapter
		}()
		return true
	})
	wg.Wait()
	r.cancel()
	return nil
}
