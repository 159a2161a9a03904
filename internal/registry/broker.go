package registry

import (
	"log/slog"
	"sort"
	"time"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
)

const (
	// AttemptTTL is how long a verification attempt stays acceptable.
	AttemptTTL = 15 * time.Minute
	// MaxPendingAttempts caps the number of live verification attempts.
	MaxPendingAttempts = 10

	codeMin = 100000
	codeMax = 999999
	// codeDraws bounds collision redraws against live codes.
	codeDraws = 64
)

// VerificationAttempt is what an unverified agent submits to ask for
// admission.
type VerificationAttempt struct {
	Key         keys.PublicKey `json:"key"`
	StorePath   string         `json:"store_path"`
	NixosFacter *string        `json:"nixos_facter,omitempty"`
}

// VerificationArtifacts are handed to the admin that accepts an attempt.
type VerificationArtifacts struct {
	NixosFacter *string `json:"nixos_facter,omitempty"`
}

// PendingAttempt describes a live attempt for admin listings.
type PendingAttempt struct {
	Code      uint32    `json:"code"`
	KeyID     string    `json:"key_id"`
	StorePath string    `json:"store_path"`
	CreatedAt time.Time `json:"created_at"`
}

type pendingAttempt struct {
	Attempt   VerificationAttempt `json:"attempt"`
	CreatedAt time.Time           `json:"created_at"`
}

func (a *pendingAttempt) expired(now time.Time) bool {
	return now.Sub(a.CreatedAt) > AttemptTTL
}

// sweepAttempts drops expired attempts. Must be called with the write lock held.
func (r *Registry) sweepAttempts() {
	now := r.now()
	removed := 0
	for code, a := range r.attempts {
		if a.expired(now) {
			delete(r.attempts, code)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cleaned up verification attempts", "removed", removed)
	}
}

// AddVerificationAttempt stores attempt and returns the code an admin uses to
// accept it.
func (r *Registry) AddVerificationAttempt(attempt VerificationAttempt) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepAttempts()

	if len(r.attempts) >= MaxPendingAttempts {
		return 0, ErrTooManyVerificationAttempts
	}
	for _, a := range r.attempts {
		if a.Attempt.Key == attempt.Key {
			return 0, ErrKeyPendingVerification
		}
	}
	if _, ok := r.keyIDs[attempt.Key.KeyID()]; ok {
		return 0, ErrKeyAlreadyInUse
	}

	code, err := r.uniqueCode()
	if err != nil {
		return 0, err
	}
	r.attempts[code] = &pendingAttempt{Attempt: attempt, CreatedAt: r.now()}
	slog.Info("Verification attempt added", "key_id", attempt.Key.KeyID(), "store_path", attempt.StorePath)
	return code, nil
}

func (r *Registry) uniqueCode() (uint32, error) {
	for range codeDraws {
		code, err := r.newCode()
		if err != nil {
			return 0, err
		}
		if _, taken := r.attempts[code]; !taken {
			return code, nil
		}
	}
	return 0, ErrTooManyVerificationAttempts
}

// AcceptVerification admits the attempt identified by code as hostName. The
// host is created with the provision state declared at pre-registration.
func (r *Registry) AcceptVerification(caller keys.PublicKey, code uint32, hostName string) (VerificationArtifacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return VerificationArtifacts{}, err
	}
	r.sweepAttempts()

	pending, ok := r.attempts[code]
	if !ok {
		return VerificationArtifacts{}, ErrAttemptNotFound
	}
	state, ok := r.preRegistered[hostName]
	if !ok {
		return VerificationArtifacts{}, ErrPreRegisterNotFound
	}
	if _, exists := r.hosts[hostName]; exists {
		return VerificationArtifacts{}, ErrHostAlreadyRegistered
	}
	key := pending.Attempt.Key
	if _, ok := r.keyIDs[key.KeyID()]; ok {
		return VerificationArtifacts{}, ErrKeyAlreadyInUse
	}

	delete(r.attempts, code)
	delete(r.preRegistered, hostName)

	now := r.now()
	host := &hosts.Host{
		Name:           hostName,
		Key:            key,
		ProvisionState: state,
		VersionHistory: []hosts.VersionEntry{{StorePath: pending.Attempt.StorePath, Timestamp: now}},
	}
	host.Ping(now)
	r.hosts[hostName] = host
	r.hostByKey[key] = hostName
	r.keyIDs[key.KeyID()] = key

	slog.Info("Host verified", "host", hostName, "key_id", key.KeyID(), "state", state.Kind)
	return VerificationArtifacts{NixosFacter: pending.Attempt.NixosFacter}, nil
}

// PendingAttempts lists live attempts ordered by creation time.
func (r *Registry) PendingAttempts(caller keys.PublicKey) ([]PendingAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	r.sweepAttempts()

	result := make([]PendingAttempt, 0, len(r.attempts))
	for code, a := range r.attempts {
		result = append(result, PendingAttempt{
			Code:      code,
			KeyID:     a.Attempt.Key.KeyID(),
			StorePath: a.Attempt.StorePath,
			CreatedAt: a.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Code < result[j].Code
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
