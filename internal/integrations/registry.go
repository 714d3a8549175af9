package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultScanLimit     = 200
	defaultMinItems      = 5
	defaultMaxItems      = 40
	defaultViolationRate = 0.15
	fallbackItems        = 5
)

// Registry hands out per-user connectors. A connector is tracked from its
// first successful Connect until Disconnect or Reset, typically at sign-out.
// Lookups alone never add a user.
type Registry struct {
	sources   SourceFactory
	generator ViolationGenerator
	fallback  func(Provider) ItemSource
	clock     clockwork.Clock
	logger    *slog.Logger
	hooks     map[Provider]ScanHook
	scanLimit int

	mu       sync.Mutex
	sessions map[string]map[Provider]*connector
}

type RegistryOption func(*Registry)

func WithSources(f SourceFactory) RegistryOption {
	return func(r *Registry) { r.sources = f }
}

func WithGenerator(g ViolationGenerator) RegistryOption {
	return func(r *Registry) { r.generator = g }
}

func WithRegistryClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithScanLimit(n int) RegistryOption {
	return func(r *Registry) { r.scanLimit = n }
}

// WithScanHook registers a hook run after every scan of provider.
func WithScanHook(p Provider, hook ScanHook) RegistryOption {
	return func(r *Registry) { r.hooks[p] = hook }
}

// NewRegistry builds a registry whose mock content and violations are drawn
// from rng.
func NewRegistry(rng Rand, opts ...RegistryOption) *Registry {
	r := &Registry{
		sources:   DefaultSources(rng, defaultMinItems, defaultMaxItems),
		generator: NewRandomViolations(rng, defaultViolationRate),
		fallback: func(p Provider) ItemSource {
			return NewMockSource(p, rng, fallbackItems, fallbackItems)
		},
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		hooks:     make(map[Provider]ScanHook),
		scanLimit: defaultScanLimit,
		sessions:  make(map[string]map[Provider]*connector),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns userID's connector for p. Until it connects, the connector is
// not tracked by the registry.
func (r *Registry) Get(userID string, p Provider) (Connector, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}

	r.mu.Lock()
	c, ok := r.sessions[userID][p]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	return &connector{
		provider:  p,
		sources:   r.sources,
		generator: r.generator,
		fallback:  r.fallback(p),
		clock:     r.clock,
		logger:    r.logger.With("user_id", userID),
		hook:      r.hooks[p],
		scanLimit: r.scanLimit,
		attach:    func(c *connector) { r.attach(userID, c) },
		detach:    func(c *connector) { r.detach(userID, c) },
	}, nil
}

func (r *Registry) attach(userID string, c *connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[userID]
	if !ok {
		conns = make(map[Provider]*connector)
		r.sessions[userID] = conns
	}
	conns[c.provider] = c
}

func (r *Registry) detach(userID string, c *connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[userID]
	if conns[c.provider] != c {
		return
	}
	delete(conns, c.provider)
	if len(conns) == 0 {
		delete(r.sessions, userID)
	}
}

// Connections lists userID's live connections ordered by provider.
func (r *Registry) Connections(userID string) []ConnectionInfo {
	r.mu.Lock()
	conns := r.sessions[userID]
	list := make([]*connector, 0, len(conns))
	for _, c := range conns {
		list = append(list, c)
	}
	r.mu.Unlock()

	out := []ConnectionInfo{}
	for _, c := range list {
		if info, ok := c.connection(); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Users returns every user with at least one connected integration.
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.sessions))
	for u := range r.sessions {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// ScanAll scans every connected integration of userID.
func (r *Registry) ScanAll(ctx context.Context, userID string) map[Provider]Result {
	results := make(map[Provider]Result)
	for _, info := range r.Connections(userID) {
		c, err := r.Get(userID, info.Provider)
		if err != nil {
			continue
		}
		results[info.Provider] = c.Scan(ctx, userID)
	}
	return results
}

// Reset disconnects and forgets every connector of userID. It returns how many
// were connected.
func (r *Registry) Reset(ctx context.Context, userID string) int {
	r.mu.Lock()
	conns := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	n := 0
	for _, c := range conns {
		if c.Disconnect(ctx).Success {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("integrations reset", "user_id", userID, "disconnected", n)
	}
	return n
}

// Seed returns a seed for NewRand from the current time.
func Seed() int64 {
	return time.Now().UnixNano()
}
