// Package registry holds the authoritative server state: registered keys and
// their credential levels, pending verification attempts, pre-registrations
// and verified hosts.
//
// All state lives behind a single RWMutex. Every mutating operation performs
// its authorization check and its mutation inside one write-locked critical
// section, so a concurrent credential change can never interleave with it.
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

type Registry struct {
	mu sync.RWMutex

	hosts     map[string]*hosts.Host
	hostByKey map[keys.PublicKey]string
	keyIDs    map[string]keys.PublicKey
	admins    map[keys.PublicKey]struct{}
	builders  map[keys.PublicKey]struct{}

	preRegistered map[string]hosts.ProvisionState
	attempts      map[uint32]*pendingAttempt

	detachGlobal  bool
	detachPerHost map[string]bool

	now     func() time.Time
	newCode func() (uint32, error)
}

type Option func(*Registry)

// WithClock replaces the wall clock used for timestamps and attempt expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCodeGenerator replaces the random source for verification codes.
func WithCodeGenerator(gen func() (uint32, error)) Option {
	return func(r *Registry) { r.newCode = gen }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		hosts:         make(map[string]*hosts.Host),
		hostByKey:     make(map[keys.PublicKey]string),
		keyIDs:        make(map[string]keys.PublicKey),
		admins:        make(map[keys.PublicKey]struct{}),
		builders:      make(map[keys.PublicKey]struct{}),
		preRegistered: make(map[string]hosts.ProvisionState),
		attempts:      make(map[uint32]*pendingAttempt),
		detachPerHost: make(map[string]bool),
		now:           time.Now,
		newCode:       randomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// randomCode draws a uniformly distributed six digit code.
func randomCode() (uint32, error) {
	const span = codeMax - codeMin + 1
	// Rejection sampling keeps the distribution uniform.
	limit := uint32((1<<32 - 1) - ((1<<32 - 1) % span))
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read random code: %w", err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n < limit {
			return codeMin + n%span, nil
		}
	}
}

// Stats is a point-in-time summary used by the metrics collectors.
type Stats struct {
	Hosts            int
	PendingAttempts  int
	PreRegistrations int
	AdminKeys        int
	BuildKeys        int
	HostsByState     map[hosts.ProvisionKind]int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Hosts:            len(r.hosts),
		PreRegistrations: len(r.preRegistered),
		AdminKeys:        len(r.admins),
		BuildKeys:        len(r.builders),
		HostsByState:     make(map[hosts.ProvisionKind]int, 3),
	}
	now := r.now()
	for _, a := range r.attempts {
		if !a.expired(now) {
			s.PendingAttempts++
		}
	}
	for _, h := range r.hosts {
		s.HostsByState[h.ProvisionState.Kind]++
	}
	return s
}
